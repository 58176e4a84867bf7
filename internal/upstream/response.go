package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"mediagateway/internal/failover"
	"mediagateway/internal/metrics"
)

// Error codes attached to normalized failures.
const (
	CodeHTMLError    = "UPSTREAM_HTML_ERROR"
	CodeInvalidJSON  = "INVALID_JSON"
	CodeNetworkError = "NETWORK_ERROR"
	CodeHTTPError    = "HTTP_ERROR"
)

// maxBodyBytes caps how much of an upstream body is buffered.
const maxBodyBytes = 64 << 20

var (
	errorMessageRules = Rules{"error.message", "message", "error", "detail", "error_description"}
	errorCodeRules    = Rules{"error.status", "error.code", "code", "status"}
)

// ErrorInfo describes a normalized failure.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Result is the uniform shape every upstream response is reduced to.
type Result struct {
	OK     bool            `json:"ok"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

// Get looks up a gjson path in the parsed body.
func (r Result) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Data, path)
}

// Err converts a failed result into a *failover.UpstreamError, or nil when ok.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	code, message := "", ""
	if r.Error != nil {
		code, message = r.Error.Code, r.Error.Message
	}
	if len(r.Data) > 0 {
		if message == "" {
			message = errorMessageRules.String(r.Data)
		}
		if code == "" {
			code = errorCodeRules.String(r.Data)
		}
	}
	if code == "" {
		code = CodeHTTPError
	}
	if message == "" {
		message = http.StatusText(r.Status)
	}
	return failover.NewUpstreamError(r.Status, code, message)
}

// Doer issues HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client funnels every upstream call through Normalize.
type Client struct {
	http    Doer
	metrics *metrics.Metrics
}

func NewClient(httpClient Doer, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, metrics: m}
}

// Do issues req and normalizes the outcome. It never returns an error: network
// failures become a NETWORK_ERROR result with status 502.
func (c *Client) Do(req *http.Request) Result {
	res := c.do(req)
	code := ""
	if res.Error != nil {
		code = res.Error.Code
	} else if !res.OK {
		code = CodeHTTPError
	}
	c.metrics.ObserveUpstream(code)
	return res
}

func (c *Client) do(req *http.Request) Result {
	resp, err := c.http.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return networkError(err)
	}
	return Normalize(resp.StatusCode, body)
}

// Normalize classifies a raw response body. HTML bodies are always failures,
// whatever the status, because the relay never answers success with HTML.
func Normalize(status int, body []byte) Result {
	trimmed := bytes.TrimSpace(body)
	if looksLikeHTML(trimmed) {
		return Result{
			OK:     false,
			Status: status,
			Error:  &ErrorInfo{Code: CodeHTMLError, Message: fmt.Sprintf("upstream returned an HTML page (HTTP %d)", status)},
		}
	}
	ok := status >= 200 && status < 300
	if len(trimmed) == 0 {
		return Result{OK: ok, Status: status, Data: json.RawMessage("{}")}
	}
	if !gjson.ValidBytes(trimmed) {
		return Result{
			OK:     false,
			Status: status,
			Error:  &ErrorInfo{Code: CodeInvalidJSON, Message: fmt.Sprintf("upstream returned invalid JSON (HTTP %d): %s", status, snippet(trimmed))},
		}
	}
	return Result{OK: ok, Status: status, Data: json.RawMessage(trimmed)}
}

func looksLikeHTML(body []byte) bool {
	if len(body) > 0 && body[0] == '<' {
		return true
	}
	for i := 0; ; {
		j := bytes.Index(body[i:], []byte("<!"))
		if j < 0 {
			return false
		}
		i += j
		if i+len(doctypeMarker) <= len(body) && bytes.EqualFold(body[i:i+len(doctypeMarker)], doctypeMarker) {
			return true
		}
		i += 2
	}
}

var doctypeMarker = []byte("<!doctype")

func networkError(err error) Result {
	return Result{
		OK:     false,
		Status: http.StatusBadGateway,
		Error:  &ErrorInfo{Code: CodeNetworkError, Message: err.Error()},
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
