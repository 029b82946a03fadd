package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/pkg/httpx"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Client is the prediction-provider surface the orchestrator and
// reconciler depend on.
type Client interface {
	Submit(ctx context.Context, in SubmitInput) (*Prediction, error)
	Get(ctx context.Context, predictionID string) (*Prediction, error)
}

type httpClient struct {
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
	apiToken   string
	maxRetries int
}

// Config configures the HTTP-backed provider client.
type Config struct {
	BaseURL    string
	APIToken   string
	MaxRetries int
	Timeout    time.Duration
}

func NewClient(log *logger.Logger, cfg Config) Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpClient{
		log:        log.With("component", "ProviderClient"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		maxRetries: cfg.MaxRetries,
	}
}

type submitBody struct {
	Version string                 `json:"version"`
	Input   map[string]interface{} `json:"input"`
	Webhook string                 `json:"webhook,omitempty"`
}

type predictionBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output interface{} `json:"output"`
	Error  interface{} `json:"error"`
}

func (p predictionBody) outputURL() string {
	switch v := p.Output.(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func (p predictionBody) errorText() string {
	switch v := p.Error.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Submit launches a new prediction, retrying on HTTP 429 and on network
// error with the same retry/backoff toolkit used throughout this codebase's
// HTTP clients. The submission throttle itself (one submission per ~200ms)
// is the orchestrator's responsibility, not the client's.
func (c *httpClient) Submit(ctx context.Context, in SubmitInput) (*Prediction, error) {
	body := submitBody{Version: in.Version, Input: in.Input, Webhook: in.CallbackURL}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal submit body: %w", err)
	}
	var resp predictionBody
	if err := c.doWithRetry(ctx, http.MethodPost, "/v1/models/"+in.Model+"/predictions", raw, &resp); err != nil {
		return nil, err
	}
	return toPrediction(resp), nil
}

// Get fetches the current state of a prediction.
func (c *httpClient) Get(ctx context.Context, predictionID string) (*Prediction, error) {
	var resp predictionBody
	if err := c.doWithRetry(ctx, http.MethodGet, "/v1/predictions/"+predictionID, nil, &resp); err != nil {
		return nil, err
	}
	return toPrediction(resp), nil
}

func toPrediction(b predictionBody) *Prediction {
	return &Prediction{
		ID:     b.ID,
		Status: Status(b.Status),
		Output: b.outputURL(),
		Error:  b.errorText(),
	}
}

// statusCodedErr adapts an HTTP status into httpx.HTTPStatusCoder so the
// shared retry predicate can classify it.
type statusCodedErr struct {
	code int
	body string
}

func (e *statusCodedErr) Error() string         { return fmt.Sprintf("provider http %d: %s", e.code, e.body) }
func (e *statusCodedErr) HTTPStatusCode() int    { return e.code }

func (c *httpClient) doWithRetry(ctx context.Context, method, path string, body []byte, out interface{}) error {
	backoff := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.doOnce(ctx, method, path, body)
		var retryAfter *http.Response
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				defer resp.Body.Close()
				if out != nil {
					return json.NewDecoder(resp.Body).Decode(out)
				}
				return nil
			}
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			retryAfter = resp
			err = &statusCodedErr{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		}
		lastErr = err
		if attempt == c.maxRetries || !httpx.IsRetryableError(err) {
			return err
		}
		wait := httpx.RetryAfterDuration(retryAfter, backoff, 30*time.Second)
		c.log.Warn("retrying provider request", "method", method, "path", path, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(httpx.JitterSleep(wait)):
		}
		backoff *= 2
	}
	return lastErr
}

func (c *httpClient) doOnce(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	return c.httpClient.Do(req)
}

// memoryExhaustionMarkers are textual substrings providers commonly emit
// when a prediction fails due to GPU memory exhaustion rather than a
// transient fault. Matched case-insensitively by IsMemoryExhaustion.
var memoryExhaustionMarkers = []string{
	"cuda out of memory",
	"out of memory",
	"oom",
	"cuda error",
	"insufficient gpu memory",
}

// IsMemoryExhaustion classifies a provider error message as GPU-memory
// exhaustion, which the orchestrator treats as non-retryable.
func IsMemoryExhaustion(errText string) bool {
	lower := strings.ToLower(errText)
	for _, marker := range memoryExhaustionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
