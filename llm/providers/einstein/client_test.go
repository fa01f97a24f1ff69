package einstein

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/schema"
)

func chunk(id, content string) string {
	return `event: generation
data: {"id":"r","generation_details":{"generations":[{"id":"` + id + `","role":"assistant","content":"` + content + `"}]}}

`
}

const doneRecord = "event: generation\ndata: DONE\n\n"

type captured struct {
	mu     sync.Mutex
	header http.Header
	body   map[string]any
	path   string
}

func (c *captured) snapshot() (http.Header, map[string]any, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header, c.body, c.path
}

// sseServer 按顺序逐段写出 parts，每段之后 Flush
func sseServer(t *testing.T, status int, parts ...string) (*httptest.Server, *captured) {
	t.Helper()

	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.header = r.Header.Clone()
		got.path = r.URL.Path
		_ = json.Unmarshal(b, &got.body)
		got.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, strings.Join(parts, ""))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		f, _ := w.(http.Flusher)
		for _, p := range parts {
			_, _ = io.WriteString(w, p)
			if f != nil {
				f.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) *Client {
	t.Helper()

	cfg := Config{
		BaseURL:   baseURL,
		APIKey:    "token",
		TenantID:  "core/prod/00D",
		FeatureID: "feature-x",
		Model:     "sfdc_ai__DefaultGPT4Omni",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAggregate_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "happy path", parts: []string{chunk("g1", "Hel"), chunk("g1", "lo"), doneRecord}, want: "Hello"},
		{name: "missing done", parts: []string{chunk("g1", "Hel"), chunk("g1", "lo")}, want: "Hello"},
		{
			name:  "malformed record skipped",
			parts: []string{chunk("g1", "Hel"), "event: generation\ndata: {not json\n\n", chunk("g1", "lo"), doneRecord},
			want:  "Hello",
		},
		{
			name:  "keep-alive and unknown events",
			parts: []string{": ping\n\n", "event: metadata\ndata: {}\n\n", chunk("g1", "Hello"), doneRecord},
			want:  "Hello",
		},
		{
			name: "line split across writes",
			parts: func() []string {
				s := chunk("g1", "Hel") + chunk("g1", "lo") + doneRecord
				return []string{s[:7], s[7:40], s[40:]}
			}(),
			want: "Hello",
		},
		{
			name:  "data after done ignored",
			parts: []string{chunk("g1", "Hello"), doneRecord, chunk("g1", " world")},
			want:  "Hello",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := sseServer(t, http.StatusOK, tt.parts...)
			res := llm.Wrap(newTestClient(t, srv.URL)).Aggregate(context.Background(),
				[]schema.Message{schema.UserMessage("Hi")})
			if res.Err != nil {
				t.Fatalf("Aggregate err = %v", res.Err)
			}
			if len(res.Messages) != 1 || res.Messages[0].Content != tt.want || res.Messages[0].Role != schema.RoleAssistant {
				t.Fatalf("Messages = %+v, want %q", res.Messages, tt.want)
			}
		})
	}
}

func TestChatStream_RequestShape(t *testing.T) {
	t.Parallel()

	srv, rec := sseServer(t, http.StatusOK, doneRecord)
	c := newTestClient(t, srv.URL, func(cfg *Config) {
		cfg.ProviderRouting = "OpenAI"
		cfg.Parameters = map[string]any{"top_p": 0.9}
	})

	res := llm.Wrap(c).Aggregate(context.Background(),
		[]schema.Message{schema.SystemMessage("be brief"), schema.UserMessage("Hi")},
		llm.WithExtraParameter("seed", 7),
		llm.WithFollowUpMessages(schema.UserMessage("and?")))
	if res.Err != nil {
		t.Fatalf("Aggregate err = %v", res.Err)
	}
	if len(res.Messages) != 0 || res.Messages == nil {
		t.Fatalf("Messages = %#v, want empty non-nil", res.Messages)
	}

	header, body, path := rec.snapshot()
	if path != DefaultStreamPath {
		t.Errorf("path = %q", path)
	}
	wantHeaders := map[string]string{
		"Authorization":         "Bearer token",
		"Accept":                "text/event-stream",
		"X-Sfdc-Core-Tenant-Id": "core/prod/00D",
		"X-Client-Feature-Id":   "feature-x",
		"X-Sfdc-App-Context":    DefaultAppContext,
		"X-Llm-Provider":        "OpenAI",
	}
	for k, want := range wantHeaders {
		if v := header.Get(k); v != want {
			t.Errorf("header %s = %q, want %q", k, v, want)
		}
	}

	if body["model"] != "sfdc_ai__DefaultGPT4Omni" || body["stream"] != true {
		t.Errorf("body = %v", body)
	}
	if body["max_tokens"] != float64(llm.DefaultMaxTokens) {
		t.Errorf("max_tokens = %v, want %d", body["max_tokens"], llm.DefaultMaxTokens)
	}
	settings, _ := body["generation_settings"].(map[string]any)
	if settings["max_tokens"] != float64(llm.DefaultMaxTokens) {
		t.Errorf("generation_settings.max_tokens = %v", settings["max_tokens"])
	}
	params, _ := settings["parameters"].(map[string]any)
	if params["top_p"] != 0.9 || params["seed"] != float64(7) {
		t.Errorf("parameters = %v", params)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %v, want system+user+follow-up", msgs)
	}
	if last, _ := msgs[2].(map[string]any); last["content"] != "and?" {
		t.Errorf("last message = %v", last)
	}
}

func TestChatStream_MaxTokensPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured int
		opts       []llm.RequestOption
		want       float64
	}{
		{name: "library default", want: 2048},
		{name: "gateway default", configured: 512, want: 512},
		{name: "request wins", configured: 512, opts: []llm.RequestOption{llm.WithMaxTokens(64)}, want: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, got := sseServer(t, http.StatusOK, doneRecord)
			c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.DefaultMaxTokens = tt.configured })
			if res := llm.Wrap(c).Aggregate(context.Background(), []schema.Message{schema.UserMessage("Hi")}, tt.opts...); res.Err != nil {
				t.Fatalf("Aggregate err = %v", res.Err)
			}
			_, body, _ := got.snapshot()
			if body["max_tokens"] != tt.want {
				t.Fatalf("max_tokens = %v, want %v", body["max_tokens"], tt.want)
			}
		})
	}
}

func TestAggregate_Unauthorized(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t, http.StatusUnauthorized, `[{"message":"Session expired or invalid","errorCode":"INVALID_SESSION_ID"}]`)
	c := newTestClient(t, srv.URL)

	var events atomic.Int32
	s := llm.NewSession(c).Observe(llm.Observer{
		OnChunk: func(schema.StreamEvent) { events.Add(1) },
		OnEnd:   func() { events.Add(1) },
	})
	err := s.Start(context.Background(), []schema.Message{schema.UserMessage("Hi")})
	ae, ok := llm.AsAPIError(err)
	if !ok || ae.StatusCode != http.StatusUnauthorized || ae.Code != "INVALID_SESSION_ID" {
		t.Fatalf("Start err = %v", err)
	}
	if !llm.IsAuth(err) {
		t.Errorf("IsAuth = false")
	}
	if events.Load() != 0 {
		t.Fatalf("observers notified %d times on establishment failure", events.Load())
	}

	res := llm.Wrap(c).Aggregate(context.Background(), []schema.Message{schema.UserMessage("Hi")})
	if res.Messages != nil || res.Err == nil {
		t.Fatalf("Result = %+v", res)
	}
}

func TestAggregate_ErrorEvent(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t, http.StatusOK,
		chunk("g1", "Hel"),
		"event: error\ndata: {\"message\":\"model overloaded\",\"code\":\"503\"}\n\n",
		chunk("g1", "lo"))
	res := llm.Wrap(newTestClient(t, srv.URL)).Aggregate(context.Background(), []schema.Message{schema.UserMessage("Hi")})

	var se *llm.StreamError
	if !errors.As(res.Err, &se) || se.Message != "model overloaded" || se.Code != "503" {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.Messages != nil {
		t.Fatalf("Messages = %v, want nil on failure", res.Messages)
	}
}

func TestChat_ReplacePolicy(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t, http.StatusOK, chunk("g1", "Hel"), chunk("g1", "Hello"), chunk("g2", "Bye"), doneRecord)
	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.Accumulation = "replace" })

	resp, err := c.Chat(context.Background(), []schema.Message{schema.UserMessage("Hi")})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Choices) != 2 || resp.FirstText() != "Hello" || resp.Choices[1].Message.Content != "Bye" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestChat_ErrorEventCarriesProvider(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t, http.StatusOK, "event: error\ndata: quota exceeded\n\n")
	_, err := newTestClient(t, srv.URL).Chat(context.Background(), []schema.Message{schema.UserMessage("Hi")})

	var se *llm.StreamError
	if !errors.As(err, &se) || se.Provider != llm.ProviderEinstein || se.Message != "quota exceeded" {
		t.Fatalf("err = %v", err)
	}
}

func TestChatStream_InvalidRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	t.Cleanup(srv.Close)

	tests := []struct {
		name  string
		model string
		msgs  []schema.Message
	}{
		{name: "no model", msgs: []schema.Message{schema.UserMessage("Hi")}},
		{name: "no messages", model: "m"},
		{name: "bad role", model: "m", msgs: []schema.Message{{Role: "robot", Content: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.Model = tt.model })
			_, err := c.ChatStream(context.Background(), tt.msgs)
			if !errors.Is(err, llm.ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if calls.Load() != 0 {
		t.Fatalf("server called %d times", calls.Load())
	}
}

func TestStream_RecvAfterDoneAndClose(t *testing.T) {
	t.Parallel()

	srv, _ := sseServer(t, http.StatusOK, chunk("g1", "x"), doneRecord, chunk("g1", "y"))
	s, err := newTestClient(t, srv.URL).ChatStream(context.Background(), []schema.Message{schema.UserMessage("Hi")}, llm.WithKeepRaw(true))
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	ev, err := s.Recv()
	b, ok := ev.(schema.GenerationBatch)
	if err != nil || !ok || len(b.Raw) == 0 {
		t.Fatalf("first Recv = %#v, %v", ev, err)
	}
	if ev, err := s.Recv(); err != nil {
		t.Fatalf("second Recv err = %v", err)
	} else if _, ok := ev.(schema.DoneSignal); !ok {
		t.Fatalf("second Recv = %T, want DoneSignal", ev)
	}
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after done err = %v, want EOF", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, llm.ErrStreamClosed) {
		t.Fatalf("Recv after close err = %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Model: "m"}); err == nil {
		t.Fatalf("expected base url error")
	}
	if _, err := New(Config{BaseURL: "http://h", Accumulation: "merge"}); err == nil {
		t.Fatalf("expected accumulation error")
	}
}
