package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error describes a failed call: either a transport failure (StatusCode 0)
// or a non-2xx response.
type Error struct {
	Method string
	URL    string

	StatusCode int

	// RequestID comes from the configured RequestID header, response first.
	RequestID string

	RetryAfter time.Duration

	// RawBody is a truncated copy of a non-2xx response body.
	RawBody []byte

	Cause error

	// Retryable reports whether the retry policy would have retried this outcome.
	Retryable bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if m := strings.TrimSpace(e.Method); m != "" {
		b.WriteString(strings.ToUpper(m))
		b.WriteString(" ")
	}
	if u := strings.TrimSpace(e.URL); u != "" {
		b.WriteString(u)
		b.WriteString(": ")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "http %d", e.StatusCode)
		if t := http.StatusText(e.StatusCode); t != "" {
			b.WriteString(" ")
			b.WriteString(t)
		}
	} else {
		b.WriteString("request failed")
	}
	if e.RequestID != "" {
		b.WriteString(" request_id=")
		b.WriteString(e.RequestID)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError extracts *Error.
func AsError(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	he, ok := AsError(err)
	return ok && he.Retryable
}

func IsHTTPStatus(err error, code int) bool {
	he, ok := AsError(err)
	return ok && he.StatusCode == code
}
