package protocol

import (
	"encoding/hex"
	"fmt"
	"math"
)

// Encode converts value into the raw bytes of the given encoding.
//
// A []byte value is passed through unchanged for every encoding, which allows
// raw writes to any field. Otherwise the accepted value types are:
//   - direct: integer types, bool, []int
//   - byte-to-float-05: float and integer types
//   - string: string
//   - hex-string: string of hex digits
//
// Read-only encodings fail with *UnsupportedEncodingError.
func Encode(encoding Encoding, value any) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}

	switch encoding {
	case EncodingDirect:
		return encodeDirect(value)
	case EncodingByteToFloat05:
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", value, encoding)
		}
		return []byte{byte(int64(math.Round(f/0.5)) & 0xFF)}, nil
	case EncodingString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", value, encoding)
		}
		return []byte(s), nil
	case EncodingHexString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as %s", value, encoding)
		}
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex string %q: %w", s, err)
		}
		return raw, nil
	case EncodingBatteryVoltage, EncodingByteToFloat01, EncodingShortToFloat01:
		return nil, &UnsupportedEncodingError{Encoding: encoding, Operation: "encode"}
	default:
		return nil, &UnsupportedEncodingError{Encoding: encoding}
	}
}

// EncodeField encodes value for field f and pads the result with zeros to the
// declared field length. Values longer than the field fail with *OverflowError.
func EncodeField(f Field, value any) ([]byte, error) {
	raw, err := Encode(f.Encoding, value)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	if len(raw) > int(f.Length) {
		return nil, &OverflowError{Field: f.Name, Length: len(raw), Max: int(f.Length)}
	}
	if len(raw) < int(f.Length) {
		padded := make([]byte, f.Length)
		copy(padded, raw)
		raw = padded
	}
	return raw, nil
}

// Decode converts raw field bytes into a value.
//
// Result types: direct yields int for a single byte and []byte otherwise,
// the numeric encodings yield float64, string and hex-string yield string.
func Decode(encoding Encoding, raw []byte) (any, error) {
	switch encoding {
	case EncodingDirect:
		if len(raw) == 1 {
			return int(raw[0]), nil
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	case EncodingBatteryVoltage:
		if err := need(encoding, raw, 1); err != nil {
			return nil, err
		}
		return (float64(raw[0]) + 170) / 100, nil
	case EncodingByteToFloat01:
		if err := need(encoding, raw, 1); err != nil {
			return nil, err
		}
		return float64(raw[0]) * 0.1, nil
	case EncodingByteToFloat05:
		if err := need(encoding, raw, 1); err != nil {
			return nil, err
		}
		return float64(raw[0]) * 0.5, nil
	case EncodingShortToFloat01:
		if err := need(encoding, raw, 2); err != nil {
			return nil, err
		}
		return float64(uint16(raw[1])|uint16(raw[0])<<8) * 0.1, nil
	case EncodingString:
		return string(raw), nil
	case EncodingHexString:
		return hex.EncodeToString(raw), nil
	default:
		return nil, &UnsupportedEncodingError{Encoding: encoding, Operation: "decode"}
	}
}

func need(encoding Encoding, raw []byte, n int) error {
	if len(raw) < n {
		return fmt.Errorf("%s needs %d bytes, got %d", encoding, n, len(raw))
	}
	return nil
}

func encodeDirect(value any) ([]byte, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case []int:
		out := make([]byte, len(v))
		for i, b := range v {
			out[i] = byte(b & 0xFF)
		}
		return out, nil
	}

	n, ok := toInt(value)
	if !ok {
		return nil, fmt.Errorf("cannot encode %T as %s", value, EncodingDirect)
	}
	return []byte{byte(n & 0xFF)}, nil
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if n, ok := toInt(value); ok {
		return float64(n), true
	}
	return 0, false
}
