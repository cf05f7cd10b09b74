package protocol

import "encoding/binary"

const (
	// StateLength is the size of the device state buffer.
	StateLength = 240

	// MaxStateReadChunk is the largest range requested by one read frame.
	MaxStateReadChunk = 48

	// MaxStateWriteChunk is the payload carried by one write frame: the
	// transport packet size minus the per-frame framing overhead.
	MaxStateWriteChunk = 12

	// PacketHeaderLength is the number of bytes preceding the payload of a response.
	PacketHeaderLength = 5

	// ResponseFooterLength covers the checksum, CR and LF trailing a response.
	ResponseFooterLength = 3
)

// PacketID is the first byte of every frame.
type PacketID byte

const (
	PacketWakeUp      PacketID = 0xEB // 235
	PacketStateChunk  PacketID = 0xA5 // 165
	PacketSaveSuccess PacketID = 0x82 // 130
	PacketReadSuccess PacketID = 0x81 // 129
)

const (
	opStateRead  = 1
	opStateWrite = 2

	cr = 0x0D
	lf = 0x0A

	// terminator is CR LF read as a little-endian uint16.
	terminator = 0x0A0D
)

// General frame layout:
//
//	offset | size | description
//	0      | 1    | packet ID
//	1      | 1    | data length (opcode + offset + payload)
//	2      | N    | data
//	2+N    | 1    | CRC-8/MAXIM of bytes [1, 2+N)
//	3+N    | 1    | CR (absent in wake-up)
//	4+N    | 1    | LF (write frames and responses only)

// NewWakeUpPacket builds the single-byte wake-up frame. It carries no length,
// checksum or terminator.
func NewWakeUpPacket() []byte {
	w := NewWriter(1)
	w.WriteUint8(byte(PacketWakeUp))
	return w.Bytes()
}

// NewStateReadPacket builds the 8-byte request for length bytes of state at offset.
//
// The frame ends with CR only, unlike write frames which end with CR LF.
// Devices in the field accept it in this form.
func NewStateReadPacket(offset uint16, length uint8) []byte {
	w := NewWriter(8)
	w.WriteUint8(byte(PacketStateChunk))
	w.WriteUint8(5)
	w.WriteUint8(opStateRead)
	w.WriteUint16(offset)
	w.WriteUint8(length)
	w.WriteUint8(Checksum(w.Bytes()[1:]))
	w.WriteUint8(cr)
	return w.Bytes()
}

// NewStateWritePackets splits data into frames of at most MaxStateWriteChunk
// payload bytes. Each frame addresses its absolute offset, startOffset plus
// the chunk position. All frames must be sent, in order, for the update to apply.
func NewStateWritePackets(data []byte, startOffset uint16) [][]byte {
	packets := make([][]byte, 0, (len(data)+MaxStateWriteChunk-1)/MaxStateWriteChunk)
	for rel := 0; rel < len(data); rel += MaxStateWriteChunk {
		chunk := data[rel:min(rel+MaxStateWriteChunk, len(data))]

		w := NewWriter(len(chunk) + 9)
		w.WriteUint8(byte(PacketStateChunk))
		w.WriteUint8(byte(len(chunk) + 4))
		w.WriteUint8(opStateWrite)
		w.WriteUint16(startOffset + uint16(rel))
		w.Write(chunk)
		w.WriteUint8(Checksum(w.Bytes()[1:]))
		w.WriteUint8(cr)
		w.WriteUint8(lf)
		packets = append(packets, w.Bytes())
	}
	return packets
}

// HasTerminator reports whether buf ends with CR LF, marking a complete response.
func HasTerminator(buf []byte) bool {
	return len(buf) >= 2 && binary.LittleEndian.Uint16(buf[len(buf)-2:]) == terminator
}
