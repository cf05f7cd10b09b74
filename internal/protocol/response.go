package protocol

import "fmt"

// Response is a parsed device response frame.
type Response struct {
	ID       PacketID
	Status   byte // third byte; PacketSaveSuccess acknowledges a write frame
	Payload  []byte
	Checksum byte
	Raw      []byte
}

// ParseResponse splits a complete response into header, payload and footer.
// With verify set, the checksum byte is checked against bytes [1, len-3).
func ParseResponse(raw []byte, verify bool) (*Response, error) {
	if len(raw) < PacketHeaderLength+ResponseFooterLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedResponse, len(raw))
	}
	if !HasTerminator(raw) {
		return nil, fmt.Errorf("%w: missing CR LF terminator", ErrMalformedResponse)
	}

	footer := len(raw) - ResponseFooterLength
	resp := &Response{
		ID:       PacketID(raw[0]),
		Status:   raw[2],
		Payload:  raw[PacketHeaderLength:footer],
		Checksum: raw[footer],
		Raw:      raw,
	}

	if verify {
		if sum := Checksum(raw[1:footer]); sum != resp.Checksum {
			return nil, &ChecksumError{Expected: sum, Actual: resp.Checksum}
		}
	}
	return resp, nil
}

// IsWriteAck reports whether a response acknowledges a write frame.
// Only the status byte is inspected.
func IsWriteAck(raw []byte) bool {
	return len(raw) > 2 && PacketID(raw[2]) == PacketSaveSuccess
}
