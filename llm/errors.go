package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lgc202/gateway-kit/httpx"
)

var (
	// ErrSessionStarted 表示对同一个 Session 调用了两次 Start
	ErrSessionStarted = errors.New("llm: session already started")

	// ErrMissingDone 表示启用 WithRequireDone 时流在 DONE 之前结束
	ErrMissingDone = errors.New("llm: stream ended without DONE")

	// ErrStreamClosed 表示在 Close 之后继续 Recv
	ErrStreamClosed = errors.New("llm: stream closed")

	// ErrInvalidRequest 表示调用方配置错误（缺少模型、空对话等）
	ErrInvalidRequest = errors.New("llm: invalid request")
)

// APIError API 错误，用于非 2xx 响应
//
// 设计用于企业级处理：分类（限流、认证）、可观测性（请求追踪）、重试（retry-after）
type APIError struct {
	Provider   Provider
	StatusCode int

	// Code 网关特定的错误码
	Code string

	// Type 网关特定的错误类型
	Type string

	// Message 人类可读的错误消息
	Message string

	// RequestID 请求追踪 ID
	RequestID string

	// RetryAfter 重试等待时间
	RetryAfter time.Duration

	// Raw 原始响应体（已截断）
	Raw []byte
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if p := strings.TrimSpace(string(e.Provider)); p != "" {
		b.WriteString(p)
		b.WriteString(": ")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "http %d", e.StatusCode)
	} else {
		b.WriteString("http error")
	}

	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		b.WriteString(" (")
		b.WriteString(code)
		b.WriteString(")")
	}
	if rid := strings.TrimSpace(e.RequestID); rid != "" {
		b.WriteString(" request_id=")
		b.WriteString(rid)
	}
	return b.String()
}

// AsAPIError 判断错误是否为 APIError
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRateLimit 判断是否为限流错误
func IsRateLimit(err error) bool {
	ae, ok := AsAPIError(err)
	if !ok {
		return false
	}
	if ae.StatusCode == http.StatusTooManyRequests {
		return true
	}
	code := strings.ToLower(strings.TrimSpace(ae.Code))
	return code == "rate_limit" || code == "rate_limit_exceeded"
}

// IsAuth 判断是否为认证错误
func IsAuth(err error) bool {
	ae, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden
}

// IsTemporary 判断是否为临时错误（可重试）；
// 非 APIError 的传输错误按 httpx 重试策略的判断
func IsTemporary(err error) bool {
	ae, ok := AsAPIError(err)
	if !ok {
		return httpx.IsRetryable(err)
	}
	switch ae.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// StreamError 表示流中途收到的显式错误事件
type StreamError struct {
	Provider Provider
	Code     string
	Message  string
}

func (e *StreamError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	b.WriteString("stream error")
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}
