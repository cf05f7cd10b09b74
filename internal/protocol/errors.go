package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a response is too short to carry a
// header and footer, or does not end with the CR LF terminator.
var ErrMalformedResponse = errors.New("malformed response")

// UnsupportedEncodingError reports an encode or decode that the encoding cannot perform.
type UnsupportedEncodingError struct {
	Encoding  Encoding
	Operation string // "encode" or "decode"
}

func (e *UnsupportedEncodingError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("unsupported field encoding: %s", e.Encoding)
	}
	return fmt.Sprintf("unsupported field encoding: cannot %s %s", e.Operation, e.Encoding)
}

// OverflowError reports an encoded value that does not fit its field.
type OverflowError struct {
	Field  string
	Length int // encoded length
	Max    int // declared field length
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("value for field %q is %d bytes, exceeds field length %d", e.Field, e.Length, e.Max)
}

// ChecksumError reports a response whose checksum byte does not match its content.
type ChecksumError struct {
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02x, got 0x%02x", e.Expected, e.Actual)
}
