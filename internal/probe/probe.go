package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"modelwatch/internal/models"
	"modelwatch/internal/urlutil"
)

// ErrNotConfigured is returned when the endpoint base URL or API key is
// missing. It is a configuration error surfaced to on-demand callers; the
// scheduled cycle logs it and skips the model.
var ErrNotConfigured = errors.New("api endpoint not configured")

const maxErrorMessageLen = 200

// Endpoint is the upstream API configuration a probe targets.
type Endpoint struct {
	BaseURL string
	APIKey  string
}

// Validate reports whether the endpoint is usable.
func (e Endpoint) Validate() error {
	if e.BaseURL == "" || e.APIKey == "" {
		return ErrNotConfigured
	}
	if _, err := urlutil.NormalizeBase(e.BaseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	return nil
}

// Result is the classified outcome of a single connectivity check.
// A failed probe is data, never an error: the retry gate decides what a
// failure means operationally.
type Result struct {
	Success    bool
	Latency    time.Duration
	GotReply   bool // true when the upstream returned any HTTP response
	Kind       models.ErrorKind
	HTTPStatus int
	Message    string
}

// Prober issues one connectivity check against a monitored model.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint, modelID string) Result
}

// AvailableModel is one entry of the upstream /v1/models listing.
type AvailableModel struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// HTTPProber performs chat-completion probes over HTTP.
type HTTPProber struct {
	client *http.Client
}

// New creates an HTTPProber with the given per-request timeout.
func New(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []json.RawMessage `json:"choices"`
}

// Probe sends one minimal chat-completion request to the model and classifies
// the reply. Classification precedence: network error, timeout, HTTP >= 400,
// then malformed 2xx body.
func (p *HTTPProber) Probe(ctx context.Context, ep Endpoint, modelID string) Result {
	base, err := urlutil.NormalizeBase(ep.BaseURL)
	if err != nil {
		return Result{Kind: models.ErrKindNetwork, Message: truncate(err.Error())}
	}
	url := urlutil.Endpoint(base, "/v1/chat/completions")

	payload, _ := json.Marshal(chatRequest{
		Model:       modelID,
		Messages:    []chatMessage{{Role: "user", Content: "hi"}},
		MaxTokens:   10,
		Temperature: 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Kind: models.ErrKindNetwork, Message: truncate(err.Error())}
	}
	req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if isTimeout(err) {
			return Result{Latency: latency, Kind: models.ErrKindTimeout, Message: "request timed out"}
		}
		return Result{Latency: latency, Kind: models.ErrKindNetwork, Message: truncate(err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{
			Latency:    latency,
			GotReply:   true,
			Kind:       models.ErrKindHTTP,
			HTTPStatus: resp.StatusCode,
			Message:    truncate(errorDetail(resp.Body, resp.StatusCode)),
		}
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Choices) == 0 {
		return Result{
			Latency:  latency,
			GotReply: true,
			Kind:     models.ErrKindMalformed,
			Message:  "response has no completion choices",
		}
	}

	return Result{Success: true, GotReply: true, Latency: latency}
}

// ListAvailableModels fetches the upstream model catalog, used by the
// on-demand configuration check.
func (p *HTTPProber) ListAvailableModels(ctx context.Context, ep Endpoint) ([]AvailableModel, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	base, err := urlutil.NormalizeBase(ep.BaseURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlutil.Endpoint(base, "/v1/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ep.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Data []AvailableModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	return body.Data, nil
}

// errorDetail extracts a human-readable message from an error response body,
// preferring the OpenAI {"error":{"message":...}} shape.
func errorDetail(body io.Reader, status int) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(raw) > 0 {
		return string(raw)
	}
	return fmt.Sprintf("HTTP %d", status)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string) string {
	if len(s) > maxErrorMessageLen {
		return s[:maxErrorMessageLen]
	}
	return s
}
