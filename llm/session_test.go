package llm

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/lgc202/gateway-kit/llm/schema"
)

// recorder captures notifications as short strings in delivery order.
type recorder struct {
	log []string
}

func (r *recorder) observer() Observer {
	return Observer{
		OnChunk: func(ev schema.StreamEvent) {
			switch ev.(type) {
			case schema.GenerationBatch:
				r.log = append(r.log, "chunk:batch")
			case schema.DoneSignal:
				r.log = append(r.log, "chunk:done")
			case schema.ErrorSignal:
				r.log = append(r.log, "chunk:error")
			}
		},
		OnGeneration: func(g schema.Generation) { r.log = append(r.log, "gen:"+g.ID) },
		OnContent: func(_ context.Context, text string) error {
			r.log = append(r.log, "content:"+text)
			return nil
		},
		OnError: func(err error) { r.log = append(r.log, "error") },
		OnEnd:   func() { r.log = append(r.log, "end") },
	}
}

func (r *recorder) count(entry string) int {
	n := 0
	for _, e := range r.log {
		if e == entry {
			n++
		}
	}
	return n
}

func TestSession_NotificationOrder(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	tests := []struct {
		name        string
		events      []schema.StreamEvent
		tail        error
		requireDone bool
		wantLog     []string
		wantState   SessionState
		wantErr     error
	}{
		{
			name: "happy path",
			events: []schema.StreamEvent{
				batch(gen("g1", "Hel")),
				batch(gen("g1", "lo")),
				schema.DoneSignal{},
			},
			wantLog:   []string{"chunk:batch", "gen:g1", "content:Hel", "chunk:batch", "gen:g1", "content:lo", "chunk:done", "end"},
			wantState: StateCompleted,
		},
		{
			name:      "missing done is benign",
			events:    []schema.StreamEvent{batch(gen("g1", "x"))},
			wantLog:   []string{"chunk:batch", "gen:g1", "content:x", "end"},
			wantState: StateCompleted,
		},
		{
			name:        "missing done is an error when required",
			events:      []schema.StreamEvent{batch(gen("g1", "x"))},
			requireDone: true,
			wantLog:     []string{"chunk:batch", "gen:g1", "content:x", "error", "end"},
			wantState:   StateFailed,
			wantErr:     ErrMissingDone,
		},
		{
			name:      "mid-stream read error",
			events:    []schema.StreamEvent{batch(gen("g1", "x"))},
			tail:      boom,
			wantLog:   []string{"chunk:batch", "gen:g1", "content:x", "error", "end"},
			wantState: StateFailed,
			wantErr:   boom,
		},
		{
			name: "empty content skips OnContent",
			events: []schema.StreamEvent{
				batch(schema.Generation{ID: "g1", Role: schema.RoleAssistant}, gen("g2", "y")),
				schema.DoneSignal{},
			},
			wantLog:   []string{"chunk:batch", "gen:g1", "gen:g2", "content:y", "chunk:done", "end"},
			wantState: StateCompleted,
		},
		{
			name: "events after done are not read",
			events: []schema.StreamEvent{
				schema.DoneSignal{},
				batch(gen("late", "z")),
			},
			wantLog:   []string{"chunk:done", "end"},
			wantState: StateCompleted,
		},
		{
			name: "unrecognized is dropped",
			events: []schema.StreamEvent{
				schema.Unrecognized{Event: "ping"},
				schema.DoneSignal{},
			},
			wantLog:   []string{"chunk:done", "end"},
			wantState: StateCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{stream: &sliceStream{events: tt.events, tail: tt.tail}}
			var rec recorder
			s := NewSession(model, WithRequireDone(tt.requireDone)).Observe(rec.observer())

			if err := s.Start(context.Background(), []schema.Message{schema.UserMessage("Hi")}); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if !reflect.DeepEqual(rec.log, tt.wantLog) {
				t.Fatalf("log = %v, want %v", rec.log, tt.wantLog)
			}
			if s.State() != tt.wantState {
				t.Fatalf("State() = %v, want %v", s.State(), tt.wantState)
			}
			if tt.wantErr != nil && !errors.Is(s.Err(), tt.wantErr) {
				t.Fatalf("Err() = %v, want %v", s.Err(), tt.wantErr)
			}
			if tt.wantErr == nil && s.Err() != nil {
				t.Fatalf("Err() = %v, want nil", s.Err())
			}
			if rec.count("end") != 1 || rec.log[len(rec.log)-1] != "end" {
				t.Fatalf("end must be delivered once and last: %v", rec.log)
			}
			if !model.stream.closed {
				t.Fatalf("stream not closed")
			}
		})
	}
}

func TestSession_EstablishmentFailureEmitsNothing(t *testing.T) {
	t.Parallel()

	openErr := &APIError{Provider: ProviderEinstein, StatusCode: 401, Message: "bad token"}
	model := &fakeModel{openErr: openErr}
	var rec recorder
	s := NewSession(model).Observe(rec.observer())

	err := s.Start(context.Background(), []schema.Message{schema.UserMessage("Hi")})
	if !IsAuth(err) {
		t.Fatalf("Start err = %v, want auth APIError", err)
	}
	if len(rec.log) != 0 {
		t.Fatalf("notifications = %v, want none", rec.log)
	}
	if s.State() != StateFailed || !errors.Is(s.Err(), openErr) {
		t.Fatalf("state = %v err = %v", s.State(), s.Err())
	}
}

func TestSession_StartTwice(t *testing.T) {
	t.Parallel()

	model := &fakeModel{stream: &sliceStream{events: []schema.StreamEvent{schema.DoneSignal{}}}}
	s := NewSession(model)
	msgs := []schema.Message{schema.UserMessage("Hi")}
	if err := s.Start(context.Background(), msgs); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(context.Background(), msgs); !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("second Start err = %v, want ErrSessionStarted", err)
	}
	if model.calls != 1 {
		t.Fatalf("ChatStream calls = %d, want 1", model.calls)
	}
}

func TestSession_EmptyConversation(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	err := NewSession(model).Start(context.Background(), nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if model.calls != 0 {
		t.Fatalf("model called on invalid request")
	}
}

func TestSession_ContextCanceledBeforeRead(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var rec recorder
	obs := rec.observer()
	obs.OnContent = func(context.Context, string) error {
		cancel()
		return nil
	}
	model := &fakeModel{stream: &sliceStream{events: []schema.StreamEvent{
		batch(gen("g1", "a")),
		batch(gen("g1", "b")),
		schema.DoneSignal{},
	}}}
	s := NewSession(model).Observe(obs)
	if err := s.Start(ctx, []schema.Message{schema.UserMessage("Hi")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("Err() = %v, want context.Canceled", s.Err())
	}
	if model.stream.reads != 1 {
		t.Fatalf("reads = %d, want 1", model.stream.reads)
	}
	if got := rec.log[len(rec.log)-2:]; !reflect.DeepEqual(got, []string{"error", "end"}) {
		t.Fatalf("tail = %v", got)
	}
}

func TestSession_ContentSinkErrorAborts(t *testing.T) {
	t.Parallel()

	sinkErr := errors.New("terminal closed")
	var rec recorder
	model := &fakeModel{stream: &sliceStream{events: []schema.StreamEvent{
		batch(gen("g1", "a")),
		batch(gen("g1", "b")),
	}}}
	s := NewSession(model).Observe(rec.observer())
	err := s.Start(context.Background(), []schema.Message{schema.UserMessage("Hi")},
		WithStreamingFunc(func(context.Context, string) error { return sinkErr }))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !errors.Is(s.Err(), sinkErr) {
		t.Fatalf("Err() = %v", s.Err())
	}
	want := []string{"chunk:batch", "gen:g1", "content:a", "error", "end"}
	if !reflect.DeepEqual(rec.log, want) {
		t.Fatalf("log = %v, want %v", rec.log, want)
	}
}

func TestSession_ErrorSignal(t *testing.T) {
	t.Parallel()

	model := &fakeModel{stream: &sliceStream{events: []schema.StreamEvent{
		schema.ErrorSignal{Code: "429", Message: "slow down"},
		schema.DoneSignal{},
	}}}
	var rec recorder
	s := NewSession(model).Observe(rec.observer())
	if err := s.Start(context.Background(), []schema.Message{schema.UserMessage("Hi")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var se *StreamError
	if !errors.As(s.Err(), &se) || se.Provider != ProviderEinstein || !strings.Contains(se.Error(), "slow down") {
		t.Fatalf("Err() = %v", s.Err())
	}
	want := []string{"chunk:error", "error", "end"}
	if !reflect.DeepEqual(rec.log, want) {
		t.Fatalf("log = %v, want %v", rec.log, want)
	}
}

// spanHandler 记录每条日志是否带有有效的 span context
type spanHandler struct {
	mu     *sync.Mutex
	traced map[string]bool
}

func (h spanHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.traced[r.Message] = trace.SpanContextFromContext(ctx).IsValid()
	return nil
}

func (h spanHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h spanHandler) WithGroup(string) slog.Handler      { return h }

func TestSession_LogsCarrySpanContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		events []schema.StreamEvent
		want   string
	}{
		{name: "completed", events: []schema.StreamEvent{schema.DoneSignal{}}, want: "session completed"},
		{name: "failed", events: []schema.StreamEvent{schema.ErrorSignal{Message: "boom"}}, want: "session failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := spanHandler{mu: &sync.Mutex{}, traced: map[string]bool{}}
			tp := sdktrace.NewTracerProvider()
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			model := &fakeModel{stream: &sliceStream{events: tt.events}}
			s := NewSession(model, WithLogger(slog.New(h)), WithTracerProvider(tp))
			if err := s.Start(context.Background(), []schema.Message{schema.UserMessage("Hi")}); err != nil {
				t.Fatalf("Start: %v", err)
			}
			h.mu.Lock()
			defer h.mu.Unlock()
			traced, ok := h.traced[tt.want]
			if !ok || !traced {
				t.Fatalf("%q logged = %v, traced = %v", tt.want, ok, traced)
			}
		})
	}
}

func TestSession_FollowUpMessages(t *testing.T) {
	t.Parallel()

	model := &fakeModel{stream: &sliceStream{events: []schema.StreamEvent{schema.DoneSignal{}}}}
	s := NewSession(model)
	err := s.Start(context.Background(),
		[]schema.Message{schema.UserMessage("Hi")},
		WithFollowUpMessages(schema.AssistantMessage("Hello"), schema.UserMessage("More")),
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []schema.Message{schema.UserMessage("Hi"), schema.AssistantMessage("Hello"), schema.UserMessage("More")}
	if !reflect.DeepEqual(model.gotMessages, want) {
		t.Fatalf("messages = %+v, want %+v", model.gotMessages, want)
	}
	if len(model.gotConfig.FollowUpMessages) != 0 {
		t.Fatalf("follow-ups forwarded to gateway: %+v", model.gotConfig.FollowUpMessages)
	}
}

func TestSessionState_String(t *testing.T) {
	t.Parallel()

	for state, want := range map[SessionState]string{
		StateIdle:       "idle",
		StateRequesting: "requesting",
		StateStreaming:  "streaming",
		StateCompleted:  "completed",
		StateFailed:     "failed",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
