package httpx

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type RetryConfig struct {
	// MaxAttempts includes the first attempt. <= 1 disables retries.
	MaxAttempts int

	// MaxElapsed caps the total time across attempts and backoff sleeps. Zero disables it.
	MaxElapsed time.Duration

	// Methods eligible for retry. Empty means the idempotent set.
	// POST is excluded by default: a gateway may already be generating.
	Methods map[string]bool

	// StatusCodes eligible for retry. Empty means 408, 429 and 5xx gateway codes.
	StatusCodes map[int]bool

	// Backoff computes the sleep before the next attempt. Nil means DefaultBackoff().
	Backoff Backoff

	// RespectRetryAfter uses Retry-After for 429/503 when present.
	RespectRetryAfter bool

	// MaxRetryAfter caps Retry-After. Zero means no cap.
	MaxRetryAfter time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		Methods:           defaultRetryMethods(),
		StatusCodes:       defaultRetryStatusCodes(),
		Backoff:           DefaultBackoff(),
		RespectRetryAfter: true,
		MaxRetryAfter:     30 * time.Second,
	}
}

// NoRetry disables retries entirely.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

func defaultRetryMethods() map[string]bool {
	return map[string]bool{
		http.MethodGet:     true,
		http.MethodHead:    true,
		http.MethodPut:     true,
		http.MethodDelete:  true,
		http.MethodOptions: true,
	}
}

func defaultRetryStatusCodes() map[int]bool {
	return map[int]bool{
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
}

type Backoff interface {
	// Next returns the sleep before retry number attempt (1 for the first retry).
	Next(attempt int) time.Duration
}

type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1
}

func DefaultBackoff() Backoff {
	return ExponentialBackoff{
		Base:   250 * time.Millisecond,
		Max:    4 * time.Second,
		Jitter: 0.2,
	}
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	attempt = max(attempt, 1)
	base := b.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	limit := b.Max
	if limit <= 0 {
		limit = 4 * time.Second
	}

	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	d = min(d, limit)

	j := min(b.Jitter, 1)
	if j <= 0 {
		return d
	}
	f := max(1+(rand.Float64()*2-1)*j, 0)
	return time.Duration(float64(d) * f)
}

func (c RetryConfig) canRetryMethod(method string) bool {
	if c.MaxAttempts <= 1 {
		return false
	}
	m := strings.ToUpper(strings.TrimSpace(method))
	methods := c.Methods
	if len(methods) == 0 {
		methods = defaultRetryMethods()
	}
	return methods[m]
}

func (c RetryConfig) canRetryStatus(code int) bool {
	statuses := c.StatusCodes
	if len(statuses) == 0 {
		statuses = defaultRetryStatusCodes()
	}
	return statuses[code]
}

func shouldRetryNetErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ParseRetryAfter reads Retry-After as delay-seconds or an HTTP-date.
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
