package protocol_test

import (
	"encoding/binary"
	"testing"

	"github.com/srg/valvectl/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWakeUpPacket(t *testing.T) {
	assert.Equal(t, []byte{0xEB}, protocol.NewWakeUpPacket())
}

func TestNewStateReadPacket(t *testing.T) {
	tests := []struct {
		name   string
		offset uint16
		length uint8
		want   []byte
	}{
		{
			name:   "first snapshot chunk",
			offset: 0,
			length: 48,
			want:   []byte{0xA5, 0x05, 0x01, 0x00, 0x00, 0x30, 0xE3, 0x0D},
		},
		{
			name:   "locked field",
			offset: 5,
			length: 1,
			want:   []byte{0xA5, 0x05, 0x01, 0x00, 0x05, 0x01, 0xFC, 0x0D},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := protocol.NewStateReadPacket(tt.offset, tt.length)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("layout for every offset", func(t *testing.T) {
		for offset := 0; offset < protocol.StateLength; offset++ {
			pkt := protocol.NewStateReadPacket(uint16(offset), 1)

			require.Len(t, pkt, 8, "read request MUST be exactly 8 bytes")
			assert.Equal(t, byte(protocol.PacketStateChunk), pkt[0])
			assert.Equal(t, byte(5), pkt[1])
			assert.Equal(t, byte(1), pkt[2])
			assert.Equal(t, uint16(offset), binary.BigEndian.Uint16(pkt[3:5]))
			assert.Equal(t, protocol.Checksum(pkt[1:6]), pkt[6])
			assert.Equal(t, byte(0x0D), pkt[7], "read request MUST end with CR only")
		}
	})
}

func TestNewStateWritePackets(t *testing.T) {
	t.Run("single frame", func(t *testing.T) {
		packets := protocol.NewStateWritePackets([]byte{0x2B}, 16)

		require.Len(t, packets, 1)
		assert.Equal(t, []byte{0xA5, 0x05, 0x02, 0x00, 0x10, 0x2B, 0x3A, 0x0D, 0x0A}, packets[0])
	})

	t.Run("empty payload yields no frames", func(t *testing.T) {
		assert.Empty(t, protocol.NewStateWritePackets(nil, 0))
	})

	sizes := []int{1, 11, 12, 13, 24, 25, 64}
	for _, n := range sizes {
		t.Run("splits payload into ceil(n/12) frames", func(t *testing.T) {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i)
			}
			const base = 176

			packets := protocol.NewStateWritePackets(data, base)

			require.Len(t, packets, (n+11)/12)

			var joined []byte
			prevOffset := -1
			for i, pkt := range packets {
				chunkLen := len(pkt) - 8
				assert.LessOrEqual(t, chunkLen, protocol.MaxStateWriteChunk, "chunk MUST respect the size bound")
				assert.Equal(t, byte(chunkLen+4), pkt[1])
				assert.Equal(t, byte(2), pkt[2])

				offset := int(binary.BigEndian.Uint16(pkt[3:5]))
				assert.Equal(t, base+i*protocol.MaxStateWriteChunk, offset)
				assert.Greater(t, offset, prevOffset, "offsets MUST increase monotonically")
				prevOffset = offset

				assert.Equal(t, protocol.Checksum(pkt[1:len(pkt)-3]), pkt[len(pkt)-3])
				assert.True(t, protocol.HasTerminator(pkt), "write frame MUST end with CR LF")

				joined = append(joined, pkt[5:len(pkt)-3]...)
			}
			assert.Equal(t, data, joined, "frames MUST carry the payload in order")
		})
	}
}

func TestHasTerminator(t *testing.T) {
	assert.True(t, protocol.HasTerminator([]byte{0x01, 0x0D, 0x0A}))
	assert.True(t, protocol.HasTerminator([]byte{0x0D, 0x0A}))
	assert.False(t, protocol.HasTerminator([]byte{0x0A, 0x0D}))
	assert.False(t, protocol.HasTerminator([]byte{0x0A}))
	assert.False(t, protocol.HasTerminator(nil))
}

func TestParseResponse(t *testing.T) {
	body := []byte{0x06, 0x81, 0x00, 0x05, 0x01}
	raw := append([]byte{0xA5}, body...)
	raw = append(raw, protocol.Checksum(body), 0x0D, 0x0A)

	t.Run("splits header, payload and footer", func(t *testing.T) {
		resp, err := protocol.ParseResponse(raw, true)
		require.NoError(t, err)

		assert.Equal(t, protocol.PacketStateChunk, resp.ID)
		assert.Equal(t, byte(protocol.PacketReadSuccess), resp.Status)
		assert.Equal(t, []byte{0x01}, resp.Payload)
	})

	t.Run("detects corruption when verifying", func(t *testing.T) {
		corrupt := append([]byte(nil), raw...)
		corrupt[5] ^= 0xFF

		_, err := protocol.ParseResponse(corrupt, true)

		var cerr *protocol.ChecksumError
		assert.ErrorAs(t, err, &cerr)
	})

	t.Run("skips verification when disabled", func(t *testing.T) {
		corrupt := append([]byte(nil), raw...)
		corrupt[5] ^= 0xFF

		resp, err := protocol.ParseResponse(corrupt, false)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xFE}, resp.Payload)
	})

	t.Run("rejects short frames", func(t *testing.T) {
		_, err := protocol.ParseResponse([]byte{0xA5, 0x0D, 0x0A}, false)
		assert.ErrorIs(t, err, protocol.ErrMalformedResponse)
	})

	t.Run("rejects unterminated frames", func(t *testing.T) {
		_, err := protocol.ParseResponse(raw[:len(raw)-1], false)
		assert.ErrorIs(t, err, protocol.ErrMalformedResponse)
	})
}

func TestIsWriteAck(t *testing.T) {
	assert.True(t, protocol.IsWriteAck([]byte{0xA5, 0x04, 0x82, 0x00}))
	assert.False(t, protocol.IsWriteAck([]byte{0xA5, 0x04, 0x81, 0x00}))
	assert.False(t, protocol.IsWriteAck([]byte{0xA5, 0x04}))
}
