package biometric

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
)

func serve(t *testing.T, path string, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFaceClientPollArray(t *testing.T) {
	srv := serve(t, "/recognitions/latest", http.StatusOK, `[{"identity":"F1","confidence":0.82,"matched":true},{"identity":"unknown","confidence":0.2,"matched":false}]`)
	client := NewFaceClient(Config{BaseURL: srv.URL + "/", PollPath: "recognitions/latest"})

	results, err := client.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, FaceResult{Identity: "F1", Confidence: 0.82, Matched: true}, results[0])
	assert.False(t, results[1].Matched)
}

func TestFaceClientPollEnvelope(t *testing.T) {
	srv := serve(t, "/poll", http.StatusOK, `{"results":[{"identity":"7","confidence":0.9,"matched":true}]}`)
	client := NewFaceClient(Config{BaseURL: srv.URL, PollPath: "/poll"})

	results, err := client.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "7", results[0].Identity)
}

func TestFaceClientPollNonSuccessIsTransient(t *testing.T) {
	srv := serve(t, "/poll", http.StatusServiceUnavailable, `camera offline`)
	client := NewFaceClient(Config{BaseURL: srv.URL, PollPath: "/poll"})

	_, err := client.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPollTransient))
	assert.Contains(t, err.Error(), "status 503")
}

func TestFaceClientPollTransportErrorIsTransient(t *testing.T) {
	srv := serve(t, "/poll", http.StatusOK, `[]`)
	url := srv.URL
	srv.Close()

	_, err := NewFaceClient(Config{BaseURL: url, PollPath: "/poll"}).Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPollTransient))
}

func TestFingerprintClientPoll(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    FingerprintResult
		wantErr bool
	}{
		{name: "string id", body: `{"success":true,"studentId":"FP-2"}`, want: FingerprintResult{Success: true, StudentID: "FP-2"}},
		{name: "numeric id", body: `{"success":true,"studentId":42}`, want: FingerprintResult{Success: true, StudentID: "42"}},
		{name: "no match", body: `{"success":false}`, want: FingerprintResult{Success: false}},
		{name: "garbage", body: `not json`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, "/matches/latest", http.StatusOK, tc.body)
			result, err := NewFingerprintClient(Config{BaseURL: srv.URL, PollPath: "/matches/latest"}).Poll(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, appErrors.ErrPollTransient))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, *result)
		})
	}
}
