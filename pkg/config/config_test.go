package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func TestDefaults(t *testing.T) {
	cfg := fromViper(newTestViper())

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 10*time.Minute, cfg.Coordinator.SessionDuration)
	assert.Equal(t, time.Second, cfg.Coordinator.Tick)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.StopTimeout)
	assert.Equal(t, 2*time.Second, cfg.Biometrics.FacePollInterval)
	assert.Equal(t, 3*time.Second, cfg.Biometrics.FingerprintPollInterval)
	assert.InDelta(t, 0.5, cfg.Biometrics.FaceConfidenceThreshold, 0.0001)
	assert.Zero(t, cfg.Biometrics.HTTPTimeout)
	assert.False(t, cfg.Roster.CacheEnabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COORDINATOR_SESSION_DURATION", "45m")
	t.Setenv("FACE_POLL_INTERVAL", "500ms")
	t.Setenv("FACE_CONFIDENCE_THRESHOLD", "1.7")
	t.Setenv("FACE_SERVICE_URL", "http://face.local/")
	t.Setenv("JWT_AUDIENCE", "web, mobile")

	cfg := fromViper(newTestViper())

	assert.Equal(t, 45*time.Minute, cfg.Coordinator.SessionDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.Biometrics.FacePollInterval)
	assert.InDelta(t, 0.5, cfg.Biometrics.FaceConfidenceThreshold, 0.0001)
	assert.Equal(t, "http://face.local", cfg.Biometrics.FaceURL)
	assert.Equal(t, []string{"web", "mobile"}, cfg.JWT.Audience)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("nope", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, 3*time.Second, parseDuration("3s", time.Minute))
}
