package speech

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenAITTSEndpoint = "/audio/speech"

	// DefaultTimeout bounds a single synthesis call, including reading the body.
	DefaultTimeout = 30 * time.Second
)

// ErrMissingAPIKey is returned when no provider credential is configured.
var ErrMissingAPIKey = errors.New("OpenAI API key is not configured (set OPENAI_API_KEY)")

// UpstreamError reports a failed provider call: transport failure, timeout
// or a non-success HTTP status.
type UpstreamError struct {
	StatusCode int
	Message    string
	Timeout    bool
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("OpenAI API request timed out: %s", e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("OpenAI API error: status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("OpenAI API request failed: %s", e.Message)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification of the
	// provider. Only meant for tests against self-signed endpoints.
	InsecureSkipVerify bool
}

// Observer receives the outcome of every provider call.
type Observer interface {
	ObserveSynthesis(status string, bytes int, duration time.Duration)
}

// Client talks to the OpenAI Audio API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	observer   Observer
}

// NewClient creates a new OpenAI speech client
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		log.Warn().Str("base_url", baseURL).Msg("TLS certificate verification is disabled for the speech provider")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for tests only
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// WithObserver attaches an observer for call metrics.
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c.apiKey != ""
}

// Synthesize sends the request to the provider and returns the audio bytes.
func (c *Client) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if !c.HasCredential() {
		return nil, ErrMissingAPIKey
	}

	start := time.Now()
	audio, err := c.do(ctx, req)
	if c.observer != nil {
		c.observer.ObserveSynthesis(outcome(err), len(audio), time.Since(start))
	}
	return audio, err
}

func (c *Client) do(ctx context.Context, req Request) ([]byte, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + OpenAITTSEndpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Debug().
		Str("endpoint", endpoint).
		Str("voice", req.Voice).
		Str("model", req.Model).
		Str("format", req.Format).
		Float64("speed", req.Speed).
		Int("chars", len([]rune(req.Text))).
		Msg("Making OpenAI TTS request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, newTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(err)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Int("bytes", len(audio)).
		Msg("OpenAI TTS request successful")

	return audio, nil
}

func newTransportError(err error) *UpstreamError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &UpstreamError{
		Message: err.Error(),
		Timeout: timeout,
		Err:     err,
	}
}

// apiError is the error envelope returned by the OpenAI API
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// errorMessage extracts the provider message from an error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		if e.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", e.Error.Message, e.Error.Type)
		}
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response body"
	}
	return msg
}

func outcome(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &upstream) && upstream.Timeout:
		return "timeout"
	default:
		return "error"
	}
}
