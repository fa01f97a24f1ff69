// Package transport posts JSON to a gateway endpoint over httpx and maps
// non-2xx responses into *llm.APIError.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lgc202/gateway-kit/httpx"
	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/version"
)

const httpContentTypeJSON = "application/json"

type Config struct {
	Provider llm.Provider

	BaseURL string
	// Path 是追加在 BaseURL 之后的固定端点路径
	Path string

	APIKey string

	// DefaultHeaders 默认请求头，会被请求级别的 headers 覆盖
	DefaultHeaders http.Header

	// Transport 为 nil 时使用 httpx.DefaultTransport()
	Transport http.RoundTripper

	// Timeout 约束整次调用（含流式 body 的读取），0 表示不限制
	Timeout time.Duration

	// Retry 为 nil 时使用 httpx.DefaultRetryConfig()（POST 默认不重试）
	Retry *httpx.RetryConfig

	Logger *slog.Logger
}

type RequestConfig struct {
	Timeout *time.Duration
	Headers http.Header
}

type Client struct {
	provider llm.Provider
	endpoint string
	apiKey   string
	http     *httpx.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return nil, errors.New("transport: provider required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("%s: base url required", cfg.Provider)
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", cfg.Provider, err)
	}

	// 用户传入完整端点 URL 时避免重复路径
	path := "/" + strings.TrimPrefix(strings.TrimSpace(cfg.Path), "/")
	if path == "/" || strings.HasSuffix(strings.TrimRight(u.Path, "/"), strings.TrimRight(path, "/")) {
		path = ""
	}
	endpoint := u.String()
	if path != "" {
		endpoint = u.JoinPath(strings.TrimPrefix(path, "/")).String()
	}

	retry := httpx.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	opts := []httpx.Option{
		httpx.WithTimeout(cfg.Timeout),
		httpx.WithRetry(retry),
		httpx.WithUserAgent(version.UserAgent("gateway-kit")),
		httpx.WithDefaultHeaders(cfg.DefaultHeaders),
	}
	if cfg.Transport != nil {
		opts = append(opts, httpx.WithTransport(cfg.Transport))
	}
	if cfg.Logger != nil {
		opts = append(opts, httpx.WithLogger(cfg.Logger))
	}
	hc, err := httpx.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: http client: %w", cfg.Provider, err)
	}

	return &Client{
		provider: cfg.Provider,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		http:     hc,
	}, nil
}

func (c *Client) Provider() llm.Provider { return c.provider }

func (c *Client) Endpoint() string { return c.endpoint }

// PostJSON 发送 JSON 请求；成功时调用方负责关闭 resp.Body
func (c *Client) PostJSON(ctx context.Context, payload any, rc RequestConfig, accept string) (*http.Response, error) {
	opts := []httpx.RequestOption{httpx.WithHeader("Content-Type", httpContentTypeJSON)}
	if rc.Timeout != nil && *rc.Timeout > 0 {
		opts = append(opts, httpx.WithRequestTimeout(*rc.Timeout))
	}
	if len(rc.Headers) > 0 {
		opts = append(opts, httpx.WithHeaders(rc.Headers))
	}
	if c.apiKey != "" {
		opts = append(opts, httpx.WithBearerToken(c.apiKey))
	}

	req, err := c.http.NewJSONRequest(ctx, http.MethodPost, c.endpoint, payload, accept, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", c.provider, err)
	}

	resp, err := c.http.DoStatus(req)
	if err == nil {
		return resp, nil
	}
	if he, ok := httpx.AsError(err); ok && he.StatusCode != 0 {
		var hdr http.Header
		if resp != nil {
			hdr = resp.Header
		}
		return nil, parseError(c.provider, he, hdr)
	}
	return nil, fmt.Errorf("%s: do request: %w", c.provider, sanitizeHTTPError(err))
}

// parseError 兼容几种常见的网关错误体：
// {"error":{"message","code","type"}}、{"message","errorCode"}、[{"message","errorCode"}]、{"detail"}
func parseError(provider llm.Provider, he *httpx.Error, hdr http.Header) error {
	body := he.RawBody
	ae := &llm.APIError{
		Provider:   provider,
		StatusCode: he.StatusCode,
		RequestID:  he.RequestID,
		RetryAfter: he.RetryAfter,
		Raw:        slices.Clone(body),
	}
	if ae.RequestID == "" {
		ae.RequestID = extractRequestID(hdr)
	}

	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)
		if doc.IsArray() {
			doc = doc.Get("0")
		}
		ae.Message = firstString(doc, "error.message", "message", "detail", "error")
		ae.Code = firstString(doc, "error.code", "errorCode", "code")
		ae.Type = firstString(doc, "error.type", "type")
	}
	if ae.Message == "" {
		if msg := strings.TrimSpace(string(body)); msg != "" && !gjson.ValidBytes(body) {
			ae.Message = msg
		} else {
			ae.Message = http.StatusText(he.StatusCode)
		}
	}
	return ae
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := doc.Get(p)
		switch r.Type {
		case gjson.String:
			if s := strings.TrimSpace(r.Str); s != "" {
				return s
			}
		case gjson.Number:
			return r.Raw
		}
	}
	return ""
}

func sanitizeHTTPError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: API call exceeded deadline: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request cancelled: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("request timeout: network operation exceeded timeout: %w", err)
		}
		return fmt.Errorf("network error: failed to reach API server: %w", err)
	}
	return err
}

func extractRequestID(h http.Header) string {
	for _, k := range []string{
		"X-Request-Id",
		"X-Sfdc-Request-Id",
		"X-Amzn-RequestId",
	} {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
