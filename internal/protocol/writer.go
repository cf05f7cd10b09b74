package protocol

import "encoding/binary"

// Writer is an append-only byte builder. Multi-byte values are written big-endian.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Write appends raw bytes.
func (w *Writer) Write(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(b uint8) {
	w.buf = append(w.buf, b)
}

// WriteUint16 appends v as two bytes, most significant first.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes. The slice aliases the writer's storage.
func (w *Writer) Bytes() []byte {
	return w.buf
}
