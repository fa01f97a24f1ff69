package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Client struct {
	httpClient *http.Client

	baseURL *url.URL

	timeout        time.Duration
	defaultHeaders http.Header
	userAgent      string

	retry      RetryConfig
	maxErrBody int64

	requestID RequestIDConfig

	after []AfterHook
}

// New constructs a Client from DefaultConfig() plus the provided options.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg Config) (*Client, error) {
	var bu *url.URL
	if raw := strings.TrimSpace(cfg.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, &url.Error{Op: "parse", URL: cfg.BaseURL, Err: errors.New("base url must be absolute")}
		}
		// BaseURL path acts as a prefix for relative paths.
		if u.Path != "" && !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		bu = u
	}

	rt := cfg.Transport
	if rt == nil {
		rt = DefaultTransport()
	}

	maxErrBody := cfg.MaxErrorBodyBytes
	if maxErrBody == 0 {
		maxErrBody = DefaultMaxErrorBodyBytes
	}

	hdr := make(http.Header)
	for k, vv := range cfg.DefaultHeaders {
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}

	c := &Client{
		httpClient:     &http.Client{Transport: rt},
		baseURL:        bu,
		timeout:        cfg.Timeout,
		defaultHeaders: hdr,
		userAgent:      cfg.UserAgent,
		retry:          cfg.Retry,
		maxErrBody:     maxErrBody,
		requestID:      cfg.RequestID,
	}
	if c.requestID.New == nil && c.requestID.Header != "" {
		c.requestID.New = DefaultRequestID
	}
	if c.retry.Backoff == nil {
		c.retry.Backoff = DefaultBackoff()
	}
	if cfg.Logger != nil {
		c.after = append(c.after, LogHook(cfg.Logger))
	}
	return c, nil
}

func (c *Client) resolveURL(path string, q url.Values) (*url.URL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty url/path")
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if c.baseURL == nil {
			return nil, errors.New("relative path requires BaseURL")
		}
		// "/chat/completions" keeps the BaseURL path prefix.
		if strings.HasPrefix(u.Path, "/") {
			u2 := *u
			u2.Path = strings.TrimPrefix(u2.Path, "/")
			u = &u2
		}
		u = c.baseURL.ResolveReference(u)
	} else {
		u2 := *u
		u = &u2
	}
	if q != nil {
		qq := u.Query()
		for k, vv := range q {
			for _, v := range vv {
				qq.Add(k, v)
			}
		}
		u.RawQuery = qq.Encode()
	}
	return u, nil
}

func earliestDeadline(base context.Context, timeouts ...time.Duration) (time.Time, bool) {
	now := time.Now()
	var earliest time.Time
	for _, d := range timeouts {
		if d <= 0 {
			continue
		}
		dd := now.Add(d)
		if earliest.IsZero() || dd.Before(earliest) {
			earliest = dd
		}
	}
	if earliest.IsZero() {
		return time.Time{}, false
	}
	if dl, ok := base.Deadline(); ok && !dl.After(earliest) {
		// The caller's deadline already wins.
		return time.Time{}, false
	}
	return earliest, true
}

// cancelOnClose releases the call's deadline once the body is closed,
// so a successful response can be streamed past Do's return.
type cancelOnClose struct {
	io.ReadCloser
	once   sync.Once
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}

// Do executes the request with retries (if configured). It mirrors net/http semantics:
// transport errors are returned as error, non-2xx responses as resp with nil error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.do(req, false)
}

// DoStatus executes the request with retries and converts non-2xx responses into *Error.
// It reads up to MaxErrorBodyBytes from the response body and then closes it.
func (c *Client) DoStatus(req *http.Request) (*http.Response, error) {
	return c.do(req, true)
}

func (c *Client) do(req *http.Request, statusAsError bool) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if dl, ok := earliestDeadline(ctx, c.timeout, requestTimeout(ctx)); ok {
		ctx, cancel = context.WithDeadline(ctx, dl)
	}
	req = req.Clone(ctx)

	resp, err := c.attempts(ctx, req, statusAsError)
	if err != nil || resp == nil || resp.Body == nil {
		cancel()
		return resp, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) attempts(ctx context.Context, req *http.Request, statusAsError bool) (*http.Response, error) {
	maxAttempts := max(c.retry.MaxAttempts, 1)
	startAll := time.Now()

	var lastResp *http.Response
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.retry.MaxElapsed > 0 && attempt > 1 && time.Since(startAll) > c.retry.MaxElapsed {
			break
		}

		if attempt > 1 && req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				return nil, errors.New("httpx: request body is not replayable (missing req.GetBody)")
			}
			b, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = b
		}

		t0 := time.Now()
		resp, err := c.httpClient.Do(req)
		dur := time.Since(t0)

		for _, h := range c.after {
			if h != nil {
				h(req, resp, err, dur, attempt)
			}
		}

		if err == nil && resp != nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			if !statusAsError && !c.retry.canRetryStatus(resp.StatusCode) {
				return resp, nil
			}
		}

		lastResp = resp
		lastErr = err

		retry := attempt < maxAttempts && c.retry.canRetryMethod(req.Method)
		if retry {
			switch {
			case err != nil:
				retry = shouldRetryNetErr(err)
			case resp != nil:
				retry = c.retry.canRetryStatus(resp.StatusCode)
			default:
				retry = false
			}
		}
		if retry && req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			retry = false
		}
		if !retry {
			break
		}

		wait := c.retry.Backoff.Next(attempt)
		if resp != nil {
			if c.retry.RespectRetryAfter && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
				if ra, ok := ParseRetryAfter(resp.Header, time.Now()); ok {
					wait = ra
					if c.retry.MaxRetryAfter > 0 && wait > c.retry.MaxRetryAfter {
						wait = c.retry.MaxRetryAfter
					}
				}
			}
			// Drain for connection reuse.
			if resp.Body != nil {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
				_ = resp.Body.Close()
			}
			lastResp = nil
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	if !statusAsError {
		if lastResp == nil && lastErr == nil {
			return nil, context.DeadlineExceeded
		}
		return lastResp, lastErr
	}
	if lastErr != nil || lastResp == nil {
		if lastResp != nil && lastResp.Body != nil {
			_ = lastResp.Body.Close()
		}
		cause := lastErr
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		return nil, &Error{
			Method:    req.Method,
			URL:       req.URL.String(),
			RequestID: strings.TrimSpace(req.Header.Get(c.requestID.Header)),
			Cause:     cause,
			Retryable: lastErr != nil && c.retry.canRetryMethod(req.Method) && shouldRetryNetErr(lastErr),
		}
	}
	retryable := c.retry.canRetryMethod(req.Method) && c.retry.canRetryStatus(lastResp.StatusCode)
	return responseToError(req, lastResp, c.requestID.Header, c.maxErrBody, retryable)
}

func responseToError(req *http.Request, resp *http.Response, requestIDHeader string, maxErrBody int64, retryable bool) (*http.Response, error) {
	var raw []byte
	if resp.Body != nil {
		if maxErrBody > 0 {
			raw, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		}
		_ = resp.Body.Close()
	}
	// Keep the captured bytes readable without holding the socket.
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	rid := ""
	if requestIDHeader != "" {
		rid = strings.TrimSpace(resp.Header.Get(requestIDHeader))
		if rid == "" {
			rid = strings.TrimSpace(req.Header.Get(requestIDHeader))
		}
	}
	ra, _ := ParseRetryAfter(resp.Header, time.Now())

	return resp, &Error{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		RequestID:  rid,
		RetryAfter: ra,
		RawBody:    raw,
		Retryable:  retryable,
		Cause:      errors.New(http.StatusText(resp.StatusCode)),
	}
}
