package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ErrTrailingJSON is returned when a decoded payload contains more than
// one JSON value.
var ErrTrailingJSON = errors.New("trailing data")

// RawOrNull holds an as-yet-undecoded JSON value, e.g. a protocol
// envelope's "data" field, which may legitimately be absent or null for
// payload-less request/response variants.
type RawOrNull json.RawMessage

// UnmarshalJSON stores the raw bytes verbatim for later strict decoding.
func (r *RawOrNull) UnmarshalJSON(b []byte) error {
	*r = append((*r)[0:0], b...)
	return nil
}

// Decode strictly decodes the held payload into dst, rejecting unknown
// fields and trailing JSON values. A missing or explicit null payload is
// a no-op, leaving dst at its zero value.
func (r RawOrNull) Decode(dst any) error {
	if len(r) == 0 || bytes.Equal(bytes.TrimSpace(r), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(r))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ErrTrailingJSON
	}
	return nil
}
