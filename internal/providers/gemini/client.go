package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediagateway/internal/domain"
	"mediagateway/internal/infra"
	"mediagateway/internal/metrics"
	"mediagateway/internal/upstream"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
)

// Options controls how the Gemini proxy is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
	Metrics    *metrics.Metrics
}

// Client forwards generateContent payloads using the server-held key.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *upstream.Client
	logger  *infra.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		model:   model,
		http:    upstream.NewClient(httpClient, opts.Metrics),
		logger:  logger,
	}
}

// Generate forwards payload to models/{model}:generateContent and returns the
// raw response body.
func (c *Client) Generate(ctx context.Context, model string, payload json.RawMessage) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("gemini proxy: %w: GEMINI_API_KEY is not set", domain.ErrNotConfigured)
	}
	if len(bytes.TrimSpace(payload)) == 0 || !json.Valid(payload) {
		return nil, fmt.Errorf("gemini proxy: %w: payload must be a JSON object", domain.ErrInvalidInput)
	}
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if model == "" {
		model = c.model
	}

	endpoint := c.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	res := c.http.Do(req)
	if err := res.Err(); err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("gemini proxy call failed")
		return nil, fmt.Errorf("gemini proxy: %w", err)
	}
	return res.Data, nil
}
