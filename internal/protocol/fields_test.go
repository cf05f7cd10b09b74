package protocol_test

import (
	"testing"

	"github.com/srg/valvectl/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_WithinStateBuffer(t *testing.T) {
	fields := protocol.Fields()
	require.NotEmpty(t, fields)

	for _, f := range fields {
		assert.Greater(t, int(f.Length), 0, "%s MUST have a length", f.Name)
		assert.LessOrEqual(t, f.End(), protocol.StateLength, "%s MUST lie within the state buffer", f.Name)
	}
}

func TestFields_DeclarationOrder(t *testing.T) {
	fields := protocol.Fields()

	assert.Equal(t, protocol.FieldLocked, fields[0])
	assert.Equal(t, protocol.FieldName, fields[len(fields)-1])
}

func TestLookupField(t *testing.T) {
	f, ok := protocol.LookupField("serial-number")
	require.True(t, ok)
	assert.Equal(t, uint16(154), f.Offset)
	assert.Equal(t, uint8(12), f.Length)
	assert.Equal(t, protocol.EncodingHexString, f.Encoding)

	_, ok = protocol.LookupField("humidity")
	assert.False(t, ok)
}
