// Package biometric contains HTTP clients for the external face recognition
// and fingerprint matching services. The services are opaque; only the poll
// contracts needed by the attendance coordinator are modelled here.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
)

const maxBodyBytes = 1 << 20

// FaceResult is one identity reported by the face recognition service.
type FaceResult struct {
	Identity   string  `json:"identity"`
	Confidence float64 `json:"confidence"`
	Matched    bool    `json:"matched"`
}

// FingerprintResult is the latest match reported by the fingerprint service.
type FingerprintResult struct {
	Success   bool   `json:"success"`
	StudentID string `json:"studentId,omitempty"`
}

// Config configures a poll client.
type Config struct {
	BaseURL  string
	PollPath string
	// Timeout bounds a single poll. Zero keeps the transport default.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type client struct {
	endpoint string
	http     *http.Client
	source   string
}

func newClient(source string, cfg Config) client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	path := cfg.PollPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return client{endpoint: strings.TrimRight(cfg.BaseURL, "/") + path, http: httpClient, source: source}
}

// get performs the poll request and returns the body of a 2xx response.
// Every failure is reported as ErrPollTransient.
func (c client) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, c.transient(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transient(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transient(err, "read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, c.transient(fmt.Errorf("status %d: %s", resp.StatusCode, snippet), "unexpected status")
	}
	return body, nil
}

func (c client) transient(err error, msg string) error {
	return appErrors.Wrap(err, appErrors.ErrPollTransient.Code, appErrors.ErrPollTransient.Status, fmt.Sprintf("%s source: %s", c.source, msg))
}

// FaceClient polls the face recognition service.
type FaceClient struct {
	client
}

// NewFaceClient constructs a face recognition client.
func NewFaceClient(cfg Config) *FaceClient {
	return &FaceClient{client: newClient("face", cfg)}
}

// Poll returns the latest batch of identity results. The service may answer
// with a bare array or an object wrapping it in "results".
func (c *FaceClient) Poll(ctx context.Context) ([]FaceResult, error) {
	body, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var results []FaceResult
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, c.transient(err, "decode results")
		}
		return results, nil
	}

	var envelope struct {
		Results []FaceResult `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, c.transient(err, "decode results")
	}
	return envelope.Results, nil
}

// FingerprintClient polls the fingerprint matching service.
type FingerprintClient struct {
	client
}

// NewFingerprintClient constructs a fingerprint client.
func NewFingerprintClient(cfg Config) *FingerprintClient {
	return &FingerprintClient{client: newClient("fingerprint", cfg)}
}

// Poll returns the most recent fingerprint match. studentId is accepted as a
// JSON string or number.
func (c *FingerprintClient) Poll(ctx context.Context) (*FingerprintResult, error) {
	body, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Success   bool            `json:"success"`
		StudentID json.RawMessage `json:"studentId"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, c.transient(err, "decode match")
	}
	id, err := decodeIdentifier(raw.StudentID)
	if err != nil {
		return nil, c.transient(err, "decode studentId")
	}
	return &FingerprintResult{Success: raw.Success, StudentID: id}, nil
}

func decodeIdentifier(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", err
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}
