package httpx

import (
	"encoding/json"
	"errors"
	"io"
)

// DecodeJSON decodes exactly one JSON value from r into dst.
// Trailing non-whitespace data is an error.
func DecodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return errors.New("unexpected extra JSON value in response body")
}
