// Package sse decodes text/event-stream bodies into discrete records.
//
// Decoder is push-style: callers Feed arbitrary byte slices as they arrive and
// receive every record completed so far. Partial trailing lines are buffered
// until the next Feed or Flush. Reader wraps a Decoder around an io.Reader for
// pull-style consumption.
package sse

import (
	"bytes"
	"errors"
	"strings"
)

// DefaultMaxLineBytes bounds a single unterminated line held across reads.
const DefaultMaxLineBytes = 4 << 20

var ErrLineTooLong = errors.New("sse: line exceeds limit")

// Record is one dispatched event: the last `event:` value, the `data:` lines
// joined by "\n" and the last `id:` value.
type Record struct {
	Event string
	Data  string
	ID    string
}

type Decoder struct {
	maxLine int

	partial []byte

	event   string
	id      string
	data    []string
	pending bool

	err error
}

func NewDecoder() *Decoder {
	return &Decoder{maxLine: DefaultMaxLineBytes}
}

// SetMaxLineBytes overrides DefaultMaxLineBytes. n <= 0 disables the limit.
func (d *Decoder) SetMaxLineBytes(n int) { d.maxLine = n }

// Err reports a sticky decode error (currently only ErrLineTooLong).
func (d *Decoder) Err() error { return d.err }

// Feed consumes p and returns the records completed by it, in order.
func (d *Decoder) Feed(p []byte) []Record {
	if d.err != nil || len(p) == 0 {
		return nil
	}

	var out []Record
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if d.maxLine > 0 && len(d.partial)+len(p) > d.maxLine {
				d.err = ErrLineTooLong
				return out
			}
			d.partial = append(d.partial, p...)
			return out
		}

		var line []byte
		if len(d.partial) > 0 {
			line = append(d.partial, p[:i]...)
			d.partial = nil
		} else {
			line = p[:i]
		}
		p = p[i+1:]

		if rec, ok := d.line(string(bytes.TrimSuffix(line, []byte("\r")))); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Flush treats buffered input as terminated and dispatches any pending record.
// Call it once the underlying stream has ended.
func (d *Decoder) Flush() []Record {
	var out []Record
	if len(d.partial) > 0 {
		line := string(bytes.TrimSuffix(d.partial, []byte("\r")))
		d.partial = nil
		if rec, ok := d.line(line); ok {
			out = append(out, rec)
		}
	}
	if rec, ok := d.dispatch(); ok {
		out = append(out, rec)
	}
	return out
}

func (d *Decoder) line(line string) (Record, bool) {
	if line == "" {
		return d.dispatch()
	}
	if line[0] == ':' {
		return Record{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		d.event = value
		d.pending = true
	case "data":
		d.data = append(d.data, value)
		d.pending = true
	case "id":
		d.id = value
	}
	return Record{}, false
}

func (d *Decoder) dispatch() (Record, bool) {
	if !d.pending {
		return Record{}, false
	}
	rec := Record{
		Event: d.event,
		Data:  strings.Join(d.data, "\n"),
		ID:    d.id,
	}
	d.event = ""
	d.data = d.data[:0]
	d.pending = false
	return rec, true
}
