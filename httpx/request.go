package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type RequestOption interface{ apply(*requestConfig) }

type requestOptionFunc func(*requestConfig)

func (f requestOptionFunc) apply(c *requestConfig) { f(c) }

type requestConfig struct {
	header http.Header
	query  url.Values

	timeout time.Duration

	bodyBytes   []byte
	bodyErr     error
	contentType string

	bearerToken string
}

func WithHeader(key, value string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		c.header.Set(key, value)
	})
}

func WithHeaders(h http.Header) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if len(h) == 0 {
			return
		}
		if c.header == nil {
			c.header = make(http.Header)
		}
		for k, vv := range h {
			for _, v := range vv {
				c.header.Add(k, v)
			}
		}
	})
}

func WithQueryParam(key, value string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if c.query == nil {
			c.query = make(url.Values)
		}
		c.query.Add(key, value)
	})
}

// WithRequestTimeout sets a per-request deadline upper bound.
// If the request context already has an earlier deadline, that one wins.
func WithRequestTimeout(d time.Duration) RequestOption {
	return requestOptionFunc(func(c *requestConfig) { c.timeout = d })
}

// WithBodyBytes sets the request body as bytes (retry-safe).
func WithBodyBytes(b []byte) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		c.bodyBytes = append([]byte(nil), b...)
	})
}

// WithJSON sets the request body to a JSON-encoded value (retry-safe).
func WithJSON(v any) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		b, err := json.Marshal(v)
		if err != nil {
			c.bodyErr = err
			return
		}
		c.bodyBytes = b
		c.contentType = "application/json"
	})
}

func WithBearerToken(token string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) { c.bearerToken = token })
}

type requestTimeoutKey struct{}

func requestTimeout(ctx context.Context) time.Duration {
	d, _ := ctx.Value(requestTimeoutKey{}).(time.Duration)
	return d
}

func (c *Client) NewRequest(ctx context.Context, method, path string, opts ...RequestOption) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rc := requestConfig{}
	for _, o := range opts {
		if o != nil {
			o.apply(&rc)
		}
	}
	if rc.bodyErr != nil {
		return nil, rc.bodyErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := c.resolveURL(path, rc.query)
	if err != nil {
		return nil, err
	}
	if rc.timeout > 0 {
		ctx = context.WithValue(ctx, requestTimeoutKey{}, rc.timeout)
	}

	var body io.Reader
	if rc.bodyBytes != nil {
		body = bytes.NewReader(rc.bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), body)
	if err != nil {
		return nil, err
	}
	if rc.bodyBytes != nil {
		b := rc.bodyBytes
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}

	// Default headers first, request headers override.
	for k, vv := range c.defaultHeaders {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for k, vv := range rc.header {
		req.Header.Del(k)
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if rc.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", rc.contentType)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if rc.bearerToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+rc.bearerToken)
	}
	if c.requestID.Header != "" && req.Header.Get(c.requestID.Header) == "" && c.requestID.New != nil {
		if id := strings.TrimSpace(c.requestID.New()); id != "" {
			req.Header.Set(c.requestID.Header, id)
		}
	}
	return req, nil
}

// NewJSONRequest is NewRequest with a JSON body and an Accept header.
func (c *Client) NewJSONRequest(ctx context.Context, method, path string, body any, accept string, opts ...RequestOption) (*http.Request, error) {
	if accept == "" {
		accept = "application/json"
	}
	all := append([]RequestOption{WithJSON(body), WithHeader("Accept", accept)}, opts...)
	return c.NewRequest(ctx, method, path, all...)
}
