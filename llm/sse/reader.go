package sse

import (
	"errors"
	"io"
)

const readChunkSize = 32 << 10

// Reader yields records from an io.Reader until io.EOF.
type Reader struct {
	r   io.Reader
	dec *Decoder
	buf []byte

	queue []Record
	err   error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		dec: NewDecoder(),
		buf: make([]byte, readChunkSize),
	}
}

// Next returns the next record. A trailing record without a terminating
// blank line is still returned before io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		if len(r.queue) > 0 {
			rec := r.queue[0]
			r.queue = r.queue[1:]
			return rec, nil
		}
		if r.err != nil {
			return Record{}, r.err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.queue = append(r.queue, r.dec.Feed(r.buf[:n])...)
			if derr := r.dec.Err(); derr != nil {
				r.err = derr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.queue = append(r.queue, r.dec.Flush()...)
				r.err = io.EOF
				continue
			}
			r.err = err
		}
	}
}
