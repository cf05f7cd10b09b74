package valve

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/srg/valvectl/internal/protocol"
)

// MaxNameLength is the longest name, in characters, SetName accepts.
const MaxNameLength = 64

// Preset selects one of the target temperatures stored per operating mode.
type Preset string

const (
	PresetSaving Preset = "saving"
	PresetAuto   Preset = "auto"
	PresetManual Preset = "manual"
)

// Field returns the state field holding the preset's target temperature.
func (p Preset) Field() (protocol.Field, error) {
	switch p {
	case PresetSaving:
		return protocol.FieldTargetTemperatureSaving, nil
	case PresetAuto:
		return protocol.FieldTargetTemperatureAuto, nil
	case PresetManual:
		return protocol.FieldTargetTemperatureManual, nil
	default:
		return protocol.Field{}, fmt.Errorf("%w: %q", ErrUnknownPreset, string(p))
	}
}

func (s *Session) readInt(ctx context.Context, f protocol.Field) (int, error) {
	v, err := s.ReadField(ctx, f)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("field %s decoded to %T, want int", f.Name, v)
	}
	return i, nil
}

func (s *Session) readFloat(ctx context.Context, f protocol.Field) (float64, error) {
	v, err := s.ReadField(ctx, f)
	if err != nil {
		return 0, err
	}
	fv, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("field %s decoded to %T, want float64", f.Name, v)
	}
	return fv, nil
}

func (s *Session) readString(ctx context.Context, f protocol.Field) (string, error) {
	v, err := s.ReadField(ctx, f)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s decoded to %T, want string", f.Name, v)
	}
	return str, nil
}

// GetLocked reports whether the valve's buttons are locked.
func (s *Session) GetLocked(ctx context.Context) (bool, error) {
	v, err := s.readInt(ctx, protocol.FieldLocked)
	return v != 0, err
}

func (s *Session) SetLocked(ctx context.Context, locked bool) error {
	return s.WriteField(ctx, protocol.FieldLocked, locked)
}

// GetMode returns the raw operating mode byte.
func (s *Session) GetMode(ctx context.Context) (int, error) {
	return s.readInt(ctx, protocol.FieldMode)
}

func (s *Session) SetMode(ctx context.Context, mode int) error {
	return s.WriteField(ctx, protocol.FieldMode, mode)
}

// GetBatteryVoltage returns the battery voltage in volts.
func (s *Session) GetBatteryVoltage(ctx context.Context) (float64, error) {
	return s.readFloat(ctx, protocol.FieldBatteryVoltage)
}

// GetCurrentTemperature returns the measured temperature in °C.
func (s *Session) GetCurrentTemperature(ctx context.Context) (float64, error) {
	return s.readFloat(ctx, protocol.FieldCurrentTemperature)
}

func (s *Session) GetTemperatureDeviation(ctx context.Context) (float64, error) {
	return s.readFloat(ctx, protocol.FieldTemperatureDeviation)
}

// GetTargetTemperature returns the active target temperature in °C.
func (s *Session) GetTargetTemperature(ctx context.Context) (float64, error) {
	return s.readFloat(ctx, protocol.FieldTargetTemperature)
}

// SetTargetTemperature sets the active target temperature in 0.5 °C steps.
func (s *Session) SetTargetTemperature(ctx context.Context, celsius float64) error {
	return s.WriteField(ctx, protocol.FieldTargetTemperature, celsius)
}

func (s *Session) GetTargetTemperatureFor(ctx context.Context, preset Preset) (float64, error) {
	f, err := preset.Field()
	if err != nil {
		return 0, err
	}
	return s.readFloat(ctx, f)
}

func (s *Session) SetTargetTemperatureFor(ctx context.Context, preset Preset, celsius float64) error {
	f, err := preset.Field()
	if err != nil {
		return err
	}
	return s.WriteField(ctx, f, celsius)
}

// GetName returns the user-assigned valve name without NUL padding.
func (s *Session) GetName(ctx context.Context) (string, error) {
	name, err := s.readString(ctx, protocol.FieldName)
	return trimName(name), err
}

// SetName stores a new valve name. Names over MaxNameLength characters are
// rejected before any I/O.
func (s *Session) SetName(ctx context.Context, name string) error {
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return fmt.Errorf("%w: %d characters, max %d", ErrNameTooLong, n, MaxNameLength)
	}
	return s.WriteField(ctx, protocol.FieldName, name)
}

// GetSerialNumber returns the serial number, reading it only when it was not
// cached at connect time.
func (s *Session) GetSerialNumber(ctx context.Context) (string, error) {
	if serial := s.SerialNumber(); serial != "" {
		return serial, nil
	}

	serial, err := s.readSerialNumber(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.serial = serial
	s.mu.Unlock()
	return serial, nil
}

func (s *Session) readSerialNumber(ctx context.Context) (string, error) {
	return s.readString(ctx, protocol.FieldSerialNumber)
}
