package jsonx

import (
	"encoding/json"
	"io"
)

// ParseJSONObject decodes one JSON value from src into dst, rejecting
// unknown object fields.
//
//   - Malformed JSON (bad tokens, empty/unterminated/truncated) => *json.SyntaxError, io.EOF, io.ErrUnexpectedEOF
//   - Incorrect data type (field/value mismatch) => *json.UnmarshalTypeError
//   - Unknown object fields => error("json: unknown field \"...\"") from encoding/json (no dedicated error type)
//   - Other decode failures bubble up from encoding/json.
func ParseJSONObject[T any](src io.Reader, dst *T) error {
	dec := json.NewDecoder(src)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
