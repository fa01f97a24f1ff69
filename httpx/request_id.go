package httpx

import "github.com/google/uuid"

type RequestIDFunc func() string

type RequestIDConfig struct {
	// Header carries the request id, e.g. "X-Request-ID". Empty disables injection.
	Header string

	// New generates an id when the header is missing. Nil means DefaultRequestID.
	New RequestIDFunc
}

func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{
		Header: "X-Request-ID",
		New:    DefaultRequestID,
	}
}

// DefaultRequestID returns a random UUIDv4 string.
func DefaultRequestID() string {
	return uuid.NewString()
}
