package valve

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// RequestWakeUp sends the wake-up packet and waits for its acknowledgement,
// unless one was sent less than WakeUpInterval ago.
func (s *Session) RequestWakeUp(ctx context.Context) error {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	if !s.lastWakeUp.IsZero() && s.now().Sub(s.lastWakeUp) < s.cfg.WakeUpInterval {
		return nil
	}

	if _, err := s.sendRequest(ctx, protocol.NewWakeUpPacket()); err != nil {
		return fmt.Errorf("wake-up %s: %w", s.Address(), err)
	}
	s.lastWakeUp = s.now()
	return nil
}

// ReadField wakes the valve and reads one field from its state buffer.
// The result type follows protocol.Decode.
func (s *Session) ReadField(ctx context.Context, f protocol.Field) (any, error) {
	if err := s.RequestWakeUp(ctx); err != nil {
		return nil, err
	}

	raw, err := s.readRange(ctx, f.Offset, f.Length)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}

	v, err := protocol.Decode(f.Encoding, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return v, nil
}

// WriteField encodes value, then sends every write frame in order. A frame
// that is not acknowledged with SaveSuccess restarts the sequence from the
// first frame, up to MaxWriteAttempts times. Encoding errors fail before any I/O.
func (s *Session) WriteField(ctx context.Context, f protocol.Field, value any) error {
	data, err := protocol.EncodeField(f, value)
	if err != nil {
		return err
	}

	if err := s.RequestWakeUp(ctx); err != nil {
		return err
	}

	frames := protocol.NewStateWritePackets(data, f.Offset)
	for attempt := 0; attempt < s.cfg.MaxWriteAttempts; attempt++ {
		acked, err := s.writeFrames(ctx, frames)
		if err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
		if acked {
			return nil
		}
		s.logger.WithFields(s.fields()).WithFields(logrus.Fields{
			"field":   f.Name,
			"offset":  f.Offset,
			"value":   value,
			"attempt": attempt,
		}).Warn("Unable to update valve configuration")
	}

	return &AttemptsExceededError{Operation: OperationWrite, Address: s.Address(), Attempts: s.cfg.MaxWriteAttempts}
}

func (s *Session) writeFrames(ctx context.Context, frames [][]byte) (bool, error) {
	for i, frame := range frames {
		resp, err := s.sendRequest(ctx, frame)
		if err != nil {
			return false, err
		}
		if !protocol.IsWriteAck(resp) {
			s.logger.WithFields(s.fields()).WithFields(logrus.Fields{
				"frame":  i,
				"frames": len(frames),
			}).Debug("Write frame not acknowledged")
			return false, nil
		}
	}
	return true, nil
}

// ReadStateSnapshot reads the whole state buffer in MaxStateReadChunk pieces.
func (s *Session) ReadStateSnapshot(ctx context.Context) ([]byte, error) {
	if err := s.RequestWakeUp(ctx); err != nil {
		return nil, err
	}

	snapshot := make([]byte, 0, protocol.StateLength)
	for offset := 0; offset < protocol.StateLength; offset += protocol.MaxStateReadChunk {
		n := min(protocol.MaxStateReadChunk, protocol.StateLength-offset)
		chunk, err := s.readRange(ctx, uint16(offset), uint8(n))
		if err != nil {
			return nil, fmt.Errorf("read snapshot at offset %d: %w", offset, err)
		}
		snapshot = append(snapshot, chunk...)
	}
	return snapshot, nil
}

// readRange requests [offset, offset+length) and returns the response payload.
func (s *Session) readRange(ctx context.Context, offset uint16, length uint8) ([]byte, error) {
	raw, err := s.sendRequest(ctx, protocol.NewStateReadPacket(offset, length))
	if err != nil {
		return nil, err
	}

	resp, err := protocol.ParseResponse(raw, s.cfg.VerifyChecksum)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) < int(length) {
		return nil, fmt.Errorf("%w: want %d payload bytes at offset %d, got %d",
			protocol.ErrMalformedResponse, length, offset, len(resp.Payload))
	}
	return resp.Payload[:length], nil
}

// DecodeSnapshot decodes every registered field out of a state snapshot,
// keyed by field name in registry order.
func DecodeSnapshot(snapshot []byte) (*orderedmap.OrderedMap[string, any], error) {
	out := orderedmap.New[string, any]()
	for _, f := range protocol.Fields() {
		if f.End() > len(snapshot) {
			return nil, fmt.Errorf("snapshot of %d bytes does not cover %s", len(snapshot), f)
		}
		v, err := protocol.Decode(f.Encoding, snapshot[f.Offset:f.End()])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		if str, ok := v.(string); ok && f.Encoding == protocol.EncodingString {
			v = trimName(str)
		}
		out.Set(f.Name, v)
	}
	return out, nil
}

func trimName(s string) string {
	return strings.TrimRight(s, "\x00")
}
