package node

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/user/flowd"
)

var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true, "HEAD": true,
}

type httpConfig struct {
	Name            string            `json:"name"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	Timeout         int               `json:"timeout"`
	FollowRedirects bool              `json:"follow_redirects"`
	VerifyTLS       bool              `json:"verify_tls"`
	RetryCount      int               `json:"retry_count"`
	RetryDelay      int               `json:"retry_delay"`
}

// HTTPNode implements the flowd.Node interface for outbound HTTP calls.
type HTTPNode struct {
	raw map[string]any
	cfg httpConfig
}

// NewHTTPNode builds an http_request node from its configuration blob.
func NewHTTPNode(config map[string]any) (*HTTPNode, error) {
	cfg := httpConfig{
		Method:          "GET",
		Timeout:         30,
		FollowRedirects: true,
		VerifyTLS:       true,
		RetryDelay:      1,
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	return &HTTPNode{raw: config, cfg: cfg}, nil
}

func (n *HTTPNode) Type() string           { return TypeHTTPRequest }
func (n *HTTPNode) Config() map[string]any { return n.raw }

func (n *HTTPNode) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return "HTTP Request"
}

// Validate checks url, method and timeout bounds.
func (n *HTTPNode) Validate() error {
	if n.cfg.URL == "" {
		return configErr(TypeHTTPRequest, "url is required")
	}
	if !httpMethods[n.cfg.Method] {
		return configErr(TypeHTTPRequest, "unsupported method %q", n.cfg.Method)
	}
	u, err := url.ParseRequestURI(n.cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return configErr(TypeHTTPRequest, "malformed url %q", n.cfg.URL)
	}
	if n.cfg.Timeout < 1 || n.cfg.Timeout > 300 {
		return configErr(TypeHTTPRequest, "timeout must be between 1 and 300 seconds")
	}
	return nil
}

// Execute performs the request, retrying up to retry_count times and
// returning the result of the final attempt whatever its outcome.
func (n *HTTPNode) Execute(ctx context.Context, input map[string]any) (flowd.Result, error) {
	data := dataMap(input)
	reqURL := substituteURL(n.cfg.URL, data)
	reqBody := substitute(n.cfg.Body, data)

	client := n.client()

	var result flowd.Result
	for attempt := 0; attempt <= n.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(n.cfg.RetryDelay) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		result = n.doRequest(ctx, client, reqURL, reqBody)
		if result.Success() {
			break
		}
	}
	return result, nil
}

func (n *HTTPNode) client() *http.Client {
	client := &http.Client{Timeout: time.Duration(n.cfg.Timeout) * time.Second}
	if !n.cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	if !n.cfg.VerifyTLS {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

func (n *HTTPNode) doRequest(ctx context.Context, client *http.Client, reqURL, reqBody string) flowd.Result {
	start := time.Now()

	var bodyReader io.Reader
	if reqBody != "" && (n.cfg.Method == "POST" || n.cfg.Method == "PUT" || n.cfg.Method == "PATCH") {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, n.cfg.Method, reqURL, bodyReader)
	if err != nil {
		return errorResult(err, 0, start)
	}
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errorResult(err, 0, start)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(err, resp.StatusCode, start)
	}

	var payload any = string(raw)
	if gjson.ValidBytes(raw) {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			payload = decoded
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return flowd.Result{
		"success":        resp.StatusCode >= 200 && resp.StatusCode < 300,
		"data":           payload,
		"status_code":    resp.StatusCode,
		"headers":        headers,
		"execution_time": durationMs(start),
	}
}

func errorResult(err error, status int, start time.Time) flowd.Result {
	return flowd.Result{
		"success":        false,
		"data":           nil,
		"error":          err.Error(),
		"status_code":    status,
		"headers":        map[string]string{},
		"execution_time": durationMs(start),
	}
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func (n *HTTPNode) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":        map[string]any{"type": "boolean"},
			"data":           map[string]any{"type": "mixed"},
			"status_code":    map[string]any{"type": "integer"},
			"execution_time": map[string]any{"type": "number"},
		},
	}
}

var _ flowd.Node = (*HTTPNode)(nil)
