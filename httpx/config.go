package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// Config configures a Client. Use DefaultConfig() as a baseline.
type Config struct {
	// BaseURL is optional. Relative paths passed to NewRequest resolve against it.
	BaseURL string

	// Timeout bounds a whole call including retries and, for a successful
	// response, reading its body. Zero disables it, which streaming callers want.
	Timeout time.Duration

	// Transport is the underlying RoundTripper. If nil, DefaultTransport() is used.
	Transport http.RoundTripper

	// DefaultHeaders are copied into every request (request headers win).
	DefaultHeaders http.Header

	// UserAgent is set when the request carries no User-Agent.
	UserAgent string

	Retry RetryConfig

	// MaxErrorBodyBytes limits how much of a non-2xx body is kept in Error.RawBody.
	// Zero means DefaultMaxErrorBodyBytes.
	MaxErrorBodyBytes int64

	RequestID RequestIDConfig

	// Logger, when set, installs LogHook for every attempt.
	Logger *slog.Logger
}

const DefaultMaxErrorBodyBytes int64 = 64 << 10

// DefaultConfig returns a baseline suited to gateway calls.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		Transport:         DefaultTransport(),
		DefaultHeaders:    make(http.Header),
		Retry:             DefaultRetryConfig(),
		MaxErrorBodyBytes: DefaultMaxErrorBodyBytes,
		RequestID:         DefaultRequestIDConfig(),
	}
}
