package llm

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lgc202/gateway-kit/llm/schema"
)

const instrumentationName = "github.com/lgc202/gateway-kit/llm"

// Option 配置 Client 与 Session
type Option func(*settings)

type settings struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	requireDone bool
	policy      AccumulatePolicy
	defaultOpts []RequestOption
}

func newSettings(opts []Option) settings {
	st := settings{}
	for _, opt := range opts {
		if opt != nil {
			opt(&st)
		}
	}
	if st.logger == nil {
		st.logger = slog.Default()
	}
	if st.tracer == nil {
		st.tracer = otel.Tracer(instrumentationName)
	}
	return st
}

// WithLogger 设置日志记录器，默认 slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTracerProvider 设置 OpenTelemetry TracerProvider，默认使用全局 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithRequireDone 为 true 时，未收到 DONE 就结束的流按 ErrMissingDone 失败
func WithRequireDone(required bool) Option {
	return func(s *settings) { s.requireDone = required }
}

// WithAccumulation 设置同一 generation id 的合并策略，默认 AccumulateAppend
func WithAccumulation(policy AccumulatePolicy) Option {
	return func(s *settings) { s.policy = policy }
}

// WithDefaultRequestOptions 设置每次请求都会先应用的选项，调用时传入的选项优先
func WithDefaultRequestOptions(opts ...RequestOption) Option {
	return func(s *settings) {
		s.defaultOpts = append(s.defaultOpts, opts...)
	}
}

// MaxTokensDefaulter 由网关实现，报告其配置中的默认 token 上限；
// 返回 0 表示该网关不需要上限，未指定时请求中省略 max_tokens
type MaxTokensDefaulter interface {
	DefaultMaxTokens() int
}

// Result 是一次聚合对话的终值：Err 与 Messages 恰好一个非 nil
type Result struct {
	Messages []schema.Message
	Usage    schema.Usage
	Err      error
}

// OK 报告本次对话是否成功
func (r Result) OK() bool { return r.Err == nil }

// Client 把一次流式对话聚合为一个结果，对调用方隐藏流式细节
type Client struct {
	model ChatModel
	st    settings
}

var _ ChatModel = (*Client)(nil)
var _ ProviderNamer = (*Client)(nil)

func Wrap(model ChatModel, opts ...Option) *Client {
	return &Client{model: model, st: newSettings(opts)}
}

// Aggregate 完成一次对话并返回聚合结果；网关与传输错误只出现在 Result.Err 中
func (c *Client) Aggregate(ctx context.Context, messages []schema.Message, opts ...RequestOption) Result {
	acc, err := c.run(ctx, messages, opts)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Messages: acc.Messages(), Usage: acc.Usage()}
}

// Chat 与 Aggregate 相同，但返回每个 generation 一个 Choice 的 ChatResponse
func (c *Client) Chat(ctx context.Context, messages []schema.Message, opts ...RequestOption) (schema.ChatResponse, error) {
	acc, err := c.run(ctx, messages, opts)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	return acc.Response(), nil
}

// ChatStream 直接返回底层流，只应用默认选项与默认 token 上限
func (c *Client) ChatStream(ctx context.Context, messages []schema.Message, opts ...RequestOption) (Stream, error) {
	merged := c.merge(opts)
	cfg := ApplyRequestOptions(merged...)
	merged = append(merged, func(rc *RequestConfig) { rc.FollowUpMessages = nil })
	return c.model.ChatStream(ctx, cfg.Conversation(messages), merged...)
}

func (c *Client) Provider() Provider {
	return ProviderOf(c.model)
}

func (c *Client) run(ctx context.Context, messages []schema.Message, opts []RequestOption) (*GenerationAccumulator, error) {
	sessionSettings := c.st
	sessionSettings.defaultOpts = nil
	sess := &Session{model: c.model, st: sessionSettings}

	acc := NewGenerationAccumulator(c.st.policy)
	var firstErr error
	sess.Observe(Observer{
		OnChunk: func(ev schema.StreamEvent) {
			if b, ok := ev.(schema.GenerationBatch); ok {
				acc.AddParameters(b.ResponseID, b.Parameters)
			}
		},
		OnGeneration: func(g schema.Generation) { acc.Add(g) },
		OnError: func(err error) {
			if firstErr == nil {
				firstErr = err
			}
		},
	})

	if err := sess.Start(ctx, messages, c.merge(opts)...); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return acc, nil
}

// merge 返回 默认选项 + 调用选项 + 默认 token 上限（网关报告 0 时不填）
func (c *Client) merge(opts []RequestOption) []RequestOption {
	n := DefaultMaxTokens
	if d, ok := c.model.(MaxTokensDefaulter); ok {
		n = d.DefaultMaxTokens()
	}
	return slices.Concat(c.st.defaultOpts, opts, []RequestOption{func(rc *RequestConfig) {
		if n > 0 && (rc.MaxTokens == nil || *rc.MaxTokens <= 0) {
			rc.MaxTokens = &n
		}
	}})
}
