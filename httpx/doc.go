// Package httpx wraps net/http for calling model gateways:
// - base URL + default headers resolved per request
// - retry with exponential backoff + jitter (idempotent methods by default)
// - request id propagation
// - an error type carrying status, request id, retry-after and a bounded body
// - a per-attempt hook for logging
//
// Deadlines derived from Config.Timeout or WithRequestTimeout stay attached to
// a successful response until its body is closed, so streamed bodies are not
// cut off when Do returns.
package httpx
