package llm

import (
	"context"
	"io"

	"github.com/lgc202/gateway-kit/llm/schema"
)

type sliceStream struct {
	events []schema.StreamEvent
	// tail is returned once events run out; nil means io.EOF.
	tail   error
	closed bool
	reads  int
}

func (s *sliceStream) Recv() (schema.StreamEvent, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	s.reads++
	if len(s.events) == 0 {
		if s.tail != nil {
			return nil, s.tail
		}
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeModel struct {
	stream    *sliceStream
	openErr   error
	maxTokens int

	gotMessages []schema.Message
	gotConfig   RequestConfig
	calls       int
}

func (m *fakeModel) Chat(ctx context.Context, messages []schema.Message, opts ...RequestOption) (schema.ChatResponse, error) {
	s, err := m.ChatStream(ctx, messages, opts...)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	return DrainStream(s, AccumulateAppend)
}

func (m *fakeModel) ChatStream(_ context.Context, messages []schema.Message, opts ...RequestOption) (Stream, error) {
	m.calls++
	m.gotMessages = schema.CloneMessages(messages)
	m.gotConfig = ApplyRequestOptions(opts...)
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.stream == nil {
		m.stream = &sliceStream{}
	}
	return m.stream, nil
}

func (m *fakeModel) Provider() Provider { return ProviderEinstein }

type defaultedModel struct {
	*fakeModel
}

func (m defaultedModel) DefaultMaxTokens() int { return m.maxTokens }

func batch(gens ...schema.Generation) schema.GenerationBatch {
	return schema.GenerationBatch{Generations: gens}
}

func gen(id, content string) schema.Generation {
	return schema.Generation{ID: id, Role: schema.RoleAssistant, Content: content}
}
