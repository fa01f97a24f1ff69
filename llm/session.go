package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lgc202/gateway-kit/llm/schema"
)

// SessionState 是 Session 的生命周期状态
type SessionState int32

const (
	StateIdle SessionState = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Terminal 报告状态是否为 completed 或 failed
func (s SessionState) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Observer 是会话通知的回调槽位，nil 字段会被跳过
//
// 同一会话内通知按数据块到达顺序同步投递；OnEnd 总是最后一个通知且只投递一次。
// 中途失败时先投递 OnError，再投递 OnEnd。
type Observer struct {
	// OnChunk 接收每个已分类的数据块（GenerationBatch、DoneSignal、ErrorSignal）
	OnChunk func(ev schema.StreamEvent)

	// OnGeneration 接收数据块中的每个 generation，保持列表顺序
	OnGeneration func(g schema.Generation)

	// OnContent 只接收非空的内容片段，返回错误会使会话失败
	OnContent func(ctx context.Context, text string) error

	OnError func(err error)
	OnEnd   func()
}

// Session 负责一次流式对话轮次，不可复用
type Session struct {
	model ChatModel
	st    settings

	observers []Observer

	state atomic.Int32
	err   error
}

// NewSession 创建一个空闲会话；Start 之前通过 Observe 注册回调
func NewSession(model ChatModel, opts ...Option) *Session {
	return &Session{model: model, st: newSettings(opts)}
}

// Observe 注册一组回调，必须在 Start 之前调用
func (s *Session) Observe(o Observer) *Session {
	s.observers = append(s.observers, o)
	return s
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Err 返回导致会话失败的错误，未失败时为 nil
func (s *Session) Err() error {
	if s.State() != StateFailed {
		return nil
	}
	return s.err
}

// Start 发起请求并同步消费整个流
//
// 无法建立流（非 2xx、网络错误、参数错误）时直接返回错误且不产生任何通知。
// 流建立之后的失败通过 OnError/OnEnd 通知，Start 返回 nil，可用 Err 查询。
// 对非 idle 会话调用返回 ErrSessionStarted。
func (s *Session) Start(ctx context.Context, messages []schema.Message, opts ...RequestOption) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRequesting)) {
		return ErrSessionStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	all := slices.Concat(s.st.defaultOpts, opts)
	cfg := ApplyRequestOptions(all...)
	conversation := cfg.Conversation(messages)
	// 后续消息已在此处拼接，网关不应再次追加
	all = append(all, func(c *RequestConfig) { c.FollowUpMessages = nil })

	provider := ProviderOf(s.model)
	ctx, span := s.st.tracer.Start(ctx, "llm.session",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(provider)),
			attribute.Int("llm.messages", len(conversation)),
		),
	)
	defer span.End()

	log := s.st.logger.With(slog.String("provider", string(provider)))

	if len(conversation) == 0 {
		return s.refuse(span, fmt.Errorf("%w: empty conversation", ErrInvalidRequest))
	}

	log.DebugContext(ctx, "session requesting", slog.Int("messages", len(conversation)))
	stream, err := s.model.ChatStream(ctx, conversation, all...)
	if err != nil {
		return s.refuse(span, err)
	}
	defer stream.Close()

	s.state.Store(int32(StateStreaming))
	log.DebugContext(ctx, "session streaming")

	var generations, contentBytes int
	sawDone := false
	for {
		if err := ctx.Err(); err != nil {
			s.fail(ctx, span, log, err)
			break
		}

		ev, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.fail(ctx, span, log, err)
				break
			}
			if s.st.requireDone && !sawDone {
				s.fail(ctx, span, log, ErrMissingDone)
				break
			}
			s.complete(ctx, log)
			break
		}

		switch e := ev.(type) {
		case schema.GenerationBatch:
			s.emitChunk(ev)
			if err := s.emitGenerations(ctx, cfg, e.Generations, &generations, &contentBytes); err != nil {
				s.fail(ctx, span, log, err)
			}
		case schema.DoneSignal:
			sawDone = true
			s.emitChunk(ev)
			s.complete(ctx, log)
		case schema.ErrorSignal:
			s.emitChunk(ev)
			s.fail(ctx, span, log, &StreamError{Provider: provider, Code: e.Code, Message: e.Message})
		default:
			log.DebugContext(ctx, "session dropped event", slog.String("type", fmt.Sprintf("%T", ev)))
		}
		if s.State().Terminal() {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("llm.generations", generations),
		attribute.Int("llm.content_bytes", contentBytes),
		attribute.Bool("llm.done", sawDone),
	)
	return nil
}

func (s *Session) emitGenerations(ctx context.Context, cfg RequestConfig, gens []schema.Generation, count, size *int) error {
	for _, g := range gens {
		*count++
		for _, o := range s.observers {
			if o.OnGeneration != nil {
				o.OnGeneration(g)
			}
		}
		if g.Content == "" {
			continue
		}
		*size += len(g.Content)
		for _, o := range s.observers {
			if o.OnContent == nil {
				continue
			}
			if err := o.OnContent(ctx, g.Content); err != nil {
				return err
			}
		}
		if cfg.StreamingFunc != nil {
			if err := cfg.StreamingFunc(ctx, g.Content); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) emitChunk(ev schema.StreamEvent) {
	for _, o := range s.observers {
		if o.OnChunk != nil {
			o.OnChunk(ev)
		}
	}
}

// refuse 处理建立流之前的失败：不产生通知
func (s *Session) refuse(span trace.Span, err error) error {
	s.err = err
	s.state.Store(int32(StateFailed))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Session) fail(ctx context.Context, span trace.Span, log *slog.Logger, err error) {
	s.err = err
	s.state.Store(int32(StateFailed))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.DebugContext(ctx, "session failed", slog.String("error", err.Error()))

	for _, o := range s.observers {
		if o.OnError != nil {
			o.OnError(err)
		}
	}
	s.end()
}

func (s *Session) complete(ctx context.Context, log *slog.Logger) {
	s.state.Store(int32(StateCompleted))
	log.DebugContext(ctx, "session completed")
	s.end()
}

func (s *Session) end() {
	for _, o := range s.observers {
		if o.OnEnd != nil {
			o.OnEnd()
		}
	}
}
