package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Well-known identifiers of the valve GATT profile.
const (
	ValveServiceUUID = "fff0"
	ValveWriteUUID   = "fff1"
	ValveNotifyUUID  = "fff2"

	// ClientConfigUUID is the client characteristic configuration descriptor.
	ClientConfigUUID = "2902"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
	Address  string
}

func (e *NotFoundError) Error() string {
	prefix := ""
	if e.Address != "" {
		prefix = e.Address + ": "
	}
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s%s not found", prefix, e.Resource)
	case 1:
		return fmt.Sprintf("%s%s %q not found", prefix, e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s%s %s not found in %s %q", prefix, e.Resource,
		strings.Join(quoteAll(e.UUIDs[1:]), ", "), parentResource, e.UUIDs[0])
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}

// IsNotFound reports whether err is a NotFoundError for the given resource kind.
func IsNotFound(err error, resource string) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Resource == resource
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout = errors.New("timeout")

	// ErrTransportUnsupported reports that the host has no usable BLE radio
	// (missing, unsupported, or powered off).
	ErrTransportUnsupported = errors.New("bluetooth is not supported by the host or is turned off")
)

// NormalizeError maps known adapter error strings to structured errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "unsupported"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrTransportUnsupported, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// PeripheralState is the link state reported by a peripheral.
type PeripheralState string

const (
	StateDisconnected  PeripheralState = "disconnected"
	StateConnecting    PeripheralState = "connecting"
	StateConnected     PeripheralState = "connected"
	StateDisconnecting PeripheralState = "disconnecting"
	StateError         PeripheralState = "error"
)

// Central discovers peripherals.
type Central interface {
	// StartScanning begins discovery and returns once the radio is scanning.
	// onDiscover may be called concurrently and repeatedly for the same peripheral.
	StartScanning(ctx context.Context, onDiscover func(Peripheral)) error
	// StopScanning halts discovery. Stopping an idle central is a no-op.
	StopScanning() error
}

// Peripheral is a remote device reachable through a Central.
type Peripheral interface {
	Address() string
	State() PeripheralState
	Connect(ctx context.Context) error
	Disconnect() error
	DiscoverServices(ctx context.Context, uuids []string) ([]Service, error)
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	DiscoverCharacteristics(ctx context.Context, uuids []string) ([]Characteristic, error)
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	Write(ctx context.Context, data []byte, withResponse bool) error
	// SetNotify toggles delivery of notifications to handlers registered with OnData.
	SetNotify(enabled bool) error
	// OnData registers a handler for notified values and returns a function
	// removing it. Handlers run on the adapter's goroutine and must not block.
	OnData(handler func(data []byte)) (remove func())
	DiscoverDescriptors(ctx context.Context) ([]Descriptor, error)
}

// Descriptor is a discovered GATT descriptor.
type Descriptor interface {
	UUID() string
	WriteValue(ctx context.Context, value []byte) error
}
