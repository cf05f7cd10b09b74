package protocol

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Encoding names the method used to convert a field between raw bytes and a value.
type Encoding string

const (
	EncodingDirect         Encoding = "direct"
	EncodingBatteryVoltage Encoding = "battery-voltage"
	EncodingByteToFloat01  Encoding = "byte-to-float-01"
	EncodingByteToFloat05  Encoding = "byte-to-float-05"
	EncodingShortToFloat01 Encoding = "short-to-float-01"
	EncodingString         Encoding = "string"
	EncodingHexString      Encoding = "hex-string"
)

// Field describes where an attribute lives in the device state buffer and how it is encoded.
type Field struct {
	Name     string
	Offset   uint16
	Length   uint8
	Encoding Encoding
}

// End returns the offset one past the last byte of the field.
func (f Field) End() int {
	return int(f.Offset) + int(f.Length)
}

func (f Field) String() string {
	return fmt.Sprintf("%s[%d:%d]/%s", f.Name, f.Offset, f.End(), f.Encoding)
}

// Known fields of the valve state buffer.
var (
	FieldLocked                  = Field{Name: "locked", Offset: 5, Length: 1, Encoding: EncodingDirect}
	FieldMode                    = Field{Name: "mode", Offset: 6, Length: 1, Encoding: EncodingDirect}
	FieldBatteryVoltage          = Field{Name: "battery-voltage", Offset: 10, Length: 1, Encoding: EncodingBatteryVoltage}
	FieldCurrentTemperature      = Field{Name: "current-temperature", Offset: 11, Length: 2, Encoding: EncodingShortToFloat01}
	FieldTemperatureDeviation    = Field{Name: "temperature-deviation", Offset: 13, Length: 1, Encoding: EncodingByteToFloat01}
	FieldTargetTemperatureSaving = Field{Name: "target-temperature-saving", Offset: 15, Length: 1, Encoding: EncodingByteToFloat05}
	FieldTargetTemperatureAuto   = Field{Name: "target-temperature-auto", Offset: 16, Length: 1, Encoding: EncodingByteToFloat05}
	FieldTargetTemperatureManual = Field{Name: "target-temperature-manual", Offset: 17, Length: 1, Encoding: EncodingByteToFloat05}
	FieldSerialNumber            = Field{Name: "serial-number", Offset: 154, Length: 12, Encoding: EncodingHexString}
	FieldName                    = Field{Name: "name", Offset: 176, Length: 64, Encoding: EncodingString}

	// FieldTargetTemperature is the single target temperature of older
	// firmware. It shares its position with the auto preset.
	FieldTargetTemperature = Field{Name: "target-temperature", Offset: 16, Length: 1, Encoding: EncodingByteToFloat05}
)

var registry = newRegistry(
	FieldLocked,
	FieldMode,
	FieldBatteryVoltage,
	FieldCurrentTemperature,
	FieldTemperatureDeviation,
	FieldTargetTemperature,
	FieldTargetTemperatureSaving,
	FieldTargetTemperatureAuto,
	FieldTargetTemperatureManual,
	FieldSerialNumber,
	FieldName,
)

func newRegistry(fields ...Field) *orderedmap.OrderedMap[string, Field] {
	m := orderedmap.New[string, Field](len(fields))
	for _, f := range fields {
		if f.Length == 0 || f.End() > StateLength {
			panic(fmt.Sprintf("protocol: field %s lies outside the %d-byte state buffer", f, StateLength))
		}
		if _, dup := m.Set(f.Name, f); dup {
			panic(fmt.Sprintf("protocol: duplicate field %q", f.Name))
		}
	}
	return m
}

// LookupField returns the registered field with the given name.
func LookupField(name string) (Field, bool) {
	return registry.Get(name)
}

// Fields returns every registered field in declaration order.
func Fields() []Field {
	out := make([]Field, 0, registry.Len())
	for pair := registry.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
