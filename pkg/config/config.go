package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Coordinator CoordinatorConfig
	Biometrics  BiometricsConfig
	Roster      RosterConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CoordinatorConfig tunes the live attendance session.
type CoordinatorConfig struct {
	SessionDuration time.Duration
	Tick            time.Duration
	PersistTimeout  time.Duration
	StopTimeout     time.Duration
	NoticeBuffer    int
}

// BiometricsConfig points at the external face and fingerprint services.
type BiometricsConfig struct {
	FaceURL                 string
	FacePollPath            string
	FacePollInterval        time.Duration
	FaceConfidenceThreshold float64
	FingerprintURL          string
	FingerprintPollPath     string
	FingerprintPollInterval time.Duration
	HTTPTimeout             time.Duration
}

// RosterConfig controls roster caching.
type RosterConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	noticeBuffer := v.GetInt("COORDINATOR_NOTICE_BUFFER")
	if noticeBuffer <= 0 {
		noticeBuffer = 50
	}
	cfg.Coordinator = CoordinatorConfig{
		SessionDuration: parseDuration(v.GetString("COORDINATOR_SESSION_DURATION"), 10*time.Minute),
		Tick:            parseDuration(v.GetString("COORDINATOR_TICK"), time.Second),
		PersistTimeout:  parseDuration(v.GetString("COORDINATOR_PERSIST_TIMEOUT"), 5*time.Second),
		StopTimeout:     parseDuration(v.GetString("COORDINATOR_STOP_TIMEOUT"), 5*time.Second),
		NoticeBuffer:    noticeBuffer,
	}

	threshold := v.GetFloat64("FACE_CONFIDENCE_THRESHOLD")
	if threshold < 0 || threshold > 1 {
		threshold = 0.5
	}
	cfg.Biometrics = BiometricsConfig{
		FaceURL:                 strings.TrimRight(v.GetString("FACE_SERVICE_URL"), "/"),
		FacePollPath:            v.GetString("FACE_POLL_PATH"),
		FacePollInterval:        parseDuration(v.GetString("FACE_POLL_INTERVAL"), 2*time.Second),
		FaceConfidenceThreshold: threshold,
		FingerprintURL:          strings.TrimRight(v.GetString("FINGERPRINT_SERVICE_URL"), "/"),
		FingerprintPollPath:     v.GetString("FINGERPRINT_POLL_PATH"),
		FingerprintPollInterval: parseDuration(v.GetString("FINGERPRINT_POLL_INTERVAL"), 3*time.Second),
		HTTPTimeout:             parseDuration(v.GetString("BIOMETRIC_HTTP_TIMEOUT"), 0),
	}

	cfg.Roster = RosterConfig{
		CacheEnabled: v.GetBool("ENABLE_ROSTER_CACHE"),
		CacheTTL:     parseDuration(v.GetString("ROSTER_CACHE_TTL"), time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("COORDINATOR_SESSION_DURATION", "10m")
	v.SetDefault("COORDINATOR_TICK", "1s")
	v.SetDefault("COORDINATOR_PERSIST_TIMEOUT", "5s")
	v.SetDefault("COORDINATOR_STOP_TIMEOUT", "5s")
	v.SetDefault("COORDINATOR_NOTICE_BUFFER", 50)

	v.SetDefault("FACE_SERVICE_URL", "http://localhost:5001")
	v.SetDefault("FACE_POLL_PATH", "/recognitions/latest")
	v.SetDefault("FACE_POLL_INTERVAL", "2s")
	v.SetDefault("FACE_CONFIDENCE_THRESHOLD", 0.5)
	v.SetDefault("FINGERPRINT_SERVICE_URL", "http://localhost:5002")
	v.SetDefault("FINGERPRINT_POLL_PATH", "/matches/latest")
	v.SetDefault("FINGERPRINT_POLL_INTERVAL", "3s")
	v.SetDefault("BIOMETRIC_HTTP_TIMEOUT", "")

	v.SetDefault("ENABLE_ROSTER_CACHE", false)
	v.SetDefault("ROSTER_CACHE_TTL", "1m")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
