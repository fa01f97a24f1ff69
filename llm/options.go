package llm

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/lgc202/gateway-kit/llm/schema"
)

// DefaultMaxTokens 是调用方未指定时使用的生成 token 上限
const DefaultMaxTokens = 2048

// RequestOption 是请求配置的可选参数函数类型
type RequestOption func(*RequestConfig)

// RequestConfig 表示单次 chat 请求的配置
type RequestConfig struct {
	// === 基础参数 ===

	// Model 覆盖网关配置中的模型 ID
	Model string

	// Temperature 设置采样温度
	Temperature *float64

	// MaxTokens 设置生成的最大 token 数，为 nil 时由网关配置或 DefaultMaxTokens 决定
	MaxTokens *int

	// ExtraParameters 透传给网关的附加参数（Einstein 放入 generation_settings.parameters）
	ExtraParameters map[string]any

	// FollowUpMessages 在会话开始时追加到对话末尾
	FollowUpMessages []schema.Message

	// === 客户端配置（不发送到 API） ===

	// Timeout 设置请求的超时时间，流式请求覆盖到 body 读取结束
	Timeout *time.Duration

	// Headers 设置发送到 API 的自定义 HTTP 头
	Headers http.Header

	// KeepRaw 设置是否保留网关原始 JSON
	KeepRaw bool

	// StreamingFunc 是实时内容回调，返回错误会中止流
	StreamingFunc func(ctx context.Context, chunk string) error
}

// ApplyRequestOptions 将选项应用到一个新的 RequestConfig 上
func ApplyRequestOptions(opts ...RequestOption) RequestConfig {
	var cfg RequestConfig
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	return cfg
}

// WithModel 设置要使用的模型 ID
func WithModel(model string) RequestOption {
	return func(c *RequestConfig) {
		c.Model = model
	}
}

// WithTemperature 设置采样温度
func WithTemperature(v float64) RequestOption {
	return func(c *RequestConfig) {
		c.Temperature = &v
	}
}

// WithMaxTokens 设置生成的最大 token 数
func WithMaxTokens(v int) RequestOption {
	return func(c *RequestConfig) {
		c.MaxTokens = &v
	}
}

// WithExtraParameters 批量设置附加参数
func WithExtraParameters(params map[string]any) RequestOption {
	params = maps.Clone(params)
	return func(c *RequestConfig) {
		if len(params) == 0 {
			return
		}
		if c.ExtraParameters == nil {
			c.ExtraParameters = make(map[string]any, len(params))
		}
		maps.Copy(c.ExtraParameters, params)
	}
}

// WithExtraParameter 设置单个附加参数
func WithExtraParameter(key string, value any) RequestOption {
	return func(c *RequestConfig) {
		if c.ExtraParameters == nil {
			c.ExtraParameters = make(map[string]any)
		}
		c.ExtraParameters[key] = value
	}
}

// WithFollowUpMessages 追加后续消息
func WithFollowUpMessages(msgs ...schema.Message) RequestOption {
	msgs = slices.Clone(msgs)
	return func(c *RequestConfig) {
		c.FollowUpMessages = append(c.FollowUpMessages, msgs...)
	}
}

// WithTimeout 设置请求的超时时间
func WithTimeout(d time.Duration) RequestOption {
	return func(c *RequestConfig) {
		c.Timeout = &d
	}
}

// WithHeader 设置单个 HTTP 头
func WithHeader(key, value string) RequestOption {
	return func(c *RequestConfig) {
		if c.Headers == nil {
			c.Headers = make(http.Header)
		}
		c.Headers.Set(key, value)
	}
}

// WithExtraHeaders 批量设置 HTTP 头
func WithExtraHeaders(headers map[string]string) RequestOption {
	headers = maps.Clone(headers)
	return func(c *RequestConfig) {
		if len(headers) == 0 {
			return
		}
		if c.Headers == nil {
			c.Headers = make(http.Header)
		}
		for k, v := range headers {
			c.Headers.Set(k, v)
		}
	}
}

// WithKeepRaw 设置是否保留网关原始 JSON
func WithKeepRaw(enabled bool) RequestOption {
	return func(c *RequestConfig) {
		c.KeepRaw = enabled
	}
}

// WithStreamingFunc 设置实时内容回调
func WithStreamingFunc(f func(ctx context.Context, chunk string) error) RequestOption {
	return func(c *RequestConfig) {
		c.StreamingFunc = f
	}
}

// ResolveMaxTokens 按 请求选项 > 网关默认值 > DefaultMaxTokens 的顺序取值
func (c RequestConfig) ResolveMaxTokens(gatewayDefault int) int {
	if c.MaxTokens != nil && *c.MaxTokens > 0 {
		return *c.MaxTokens
	}
	if gatewayDefault > 0 {
		return gatewayDefault
	}
	return DefaultMaxTokens
}

// Conversation 返回 messages 与 FollowUpMessages 拼接后的副本
func (c RequestConfig) Conversation(messages []schema.Message) []schema.Message {
	return slices.Concat(schema.CloneMessages(messages), c.FollowUpMessages)
}
