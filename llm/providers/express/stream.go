package express

import (
	"io"

	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/schema"
)

// oneShotStream 依次交付一个 GenerationBatch、一个 DoneSignal，然后 io.EOF
type oneShotStream struct {
	pending []schema.StreamEvent
	closed  bool
}

func newOneShotStream(resp schema.ChatResponse) *oneShotStream {
	b := schema.GenerationBatch{
		ResponseID:  resp.ID,
		Generations: make([]schema.Generation, 0, len(resp.Choices)),
		Raw:         resp.Raw,
	}
	if resp.Model != "" || resp.Usage != (schema.Usage{}) {
		usage := resp.Usage
		b.Parameters = &schema.ResponseParameters{
			Provider: string(llm.ProviderExpress),
			Model:    resp.Model,
			Usage:    &usage,
		}
		if !resp.CreatedAt.IsZero() {
			b.Parameters.Created = resp.CreatedAt.Unix()
		}
	}
	for _, c := range resp.Choices {
		idx := c.Index
		b.Generations = append(b.Generations, schema.Generation{
			ID:              c.GenerationID,
			Role:            c.Message.Role,
			Content:         c.Message.Content,
			FinishReason:    c.FinishReason,
			Index:           &idx,
			ToolInvocations: c.ToolInvocations,
		})
	}
	return &oneShotStream{pending: []schema.StreamEvent{b, schema.DoneSignal{}}}
}

func (s *oneShotStream) Recv() (schema.StreamEvent, error) {
	if s.closed {
		return nil, llm.ErrStreamClosed
	}
	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *oneShotStream) Close() error {
	s.closed = true
	s.pending = nil
	return nil
}
