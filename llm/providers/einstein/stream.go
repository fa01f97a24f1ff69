package einstein

import (
	"io"
	"log/slog"

	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/schema"
	"github.com/lgc202/gateway-kit/llm/sse"
)

type stream struct {
	body io.ReadCloser
	rd   *sse.Reader

	keepRaw bool
	logger  *slog.Logger

	// done 表示已交付 DONE 或错误事件，之后只返回 io.EOF
	done   bool
	closed bool
}

func newStream(body io.ReadCloser, keepRaw bool, logger *slog.Logger) *stream {
	return &stream{
		body:    body,
		rd:      sse.NewReader(body),
		keepRaw: keepRaw,
		logger:  logger,
	}
}

func (s *stream) Recv() (schema.StreamEvent, error) {
	if s.closed {
		return nil, llm.ErrStreamClosed
	}
	for {
		if s.done {
			return nil, io.EOF
		}

		rec, err := s.rd.Next()
		if err != nil {
			return nil, err
		}

		switch ev := Classify(rec).(type) {
		case schema.GenerationBatch:
			if !s.keepRaw {
				ev.Raw = nil
			}
			return ev, nil
		case schema.DoneSignal:
			s.done = true
			return ev, nil
		case schema.ErrorSignal:
			s.done = true
			return ev, nil
		case schema.Unrecognized:
			s.logger.Debug("einstein: skip unrecognized record", "event", ev.Event, "size", len(ev.Data))
		}
	}
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	return s.body.Close()
}
