package valve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/groutine"
	"github.com/srg/valvectl/pkg/config"
)

// raspberryFixValue enables notifications when written to the client
// characteristic configuration descriptor.
var raspberryFixValue = []byte{0x01, 0x00}

// Session represents one physical valve across its connected lifetime.
// All methods are safe for concurrent use; requests are serialized.
type Session struct {
	peripheral device.Peripheral
	cfg        config.Config
	logger     *logrus.Logger
	now        func() time.Time

	mu         sync.RWMutex
	state      State
	writeChar  device.Characteristic
	notifyChar device.Characteristic
	serial     string

	connectMu sync.Mutex // serializes Connect and Disconnect
	requestMu sync.Mutex // one request in flight

	wakeMu     sync.Mutex
	lastWakeUp time.Time
}

// NewSession creates a disconnected session for a peripheral. A nil cfg uses
// config.DefaultConfig and a nil logger falls back to logrus.New.
func NewSession(p device.Peripheral, cfg *config.Config, logger *logrus.Logger) *Session {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Session{
		peripheral: p,
		cfg:        *cfg,
		logger:     logger,
		now:        time.Now,
		state:      StateDisconnected,
	}
}

// Address returns the peripheral address.
func (s *Session) Address() string {
	return s.peripheral.Address()
}

// Peripheral returns the underlying peripheral handle.
func (s *Session) Peripheral() device.Peripheral {
	return s.peripheral
}

// State returns the connection state machine state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SerialNumber returns the serial number cached at connect time, or "".
func (s *Session) SerialNumber() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serial
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.WithFields(logrus.Fields{
			"address": s.Address(),
			"from":    prev.String(),
			"to":      state.String(),
		}).Trace("Session state changed")
	}
}

func (s *Session) fields() logrus.Fields {
	return logrus.Fields{"address": s.Address()}
}

// Connect establishes the link, discovers the protocol characteristics, then
// wakes the valve and caches its serial number. A step that times out
// restarts the whole sequence; other failures are returned immediately.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if err := s.connect(ctx, 0); err != nil {
		return err
	}

	serial, err := s.readSerialNumber(ctx)
	if err != nil {
		s.teardown()
		return fmt.Errorf("post-connect handshake with %s: %w", s.Address(), err)
	}

	s.mu.Lock()
	s.serial = serial
	s.mu.Unlock()

	s.logger.WithFields(s.fields()).WithField("serial", serial).Info("Valve connected")
	return nil
}

func (s *Session) connect(ctx context.Context, attempt int) error {
	if s.peripheral.State() != device.StateDisconnected {
		if err := s.peripheral.Disconnect(); err != nil {
			s.logger.WithFields(s.fields()).WithField("error", err).Debug("Disconnect before connect failed")
		}
	}

	if attempt >= s.cfg.MaxConnectionAttempts {
		s.setState(StateDisconnected)
		return &AttemptsExceededError{Operation: OperationConnect, Address: s.Address(), Attempts: attempt}
	}

	s.logger.WithFields(s.fields()).WithFields(logrus.Fields{
		"timeout": s.cfg.ConnectionTimeout,
		"attempt": attempt,
	}).Debug("Connecting to valve...")

	err := s.establish(ctx)
	switch {
	case err == nil:
		s.setState(StateConnected)
		return nil
	case errors.Is(err, device.ErrTimeout):
		s.logger.WithFields(s.fields()).WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Connection step timed out, restarting")
		return s.connect(ctx, attempt+1)
	default:
		s.teardown()
		return err
	}
}

// establish runs one pass of the connection sequence.
func (s *Session) establish(ctx context.Context) error {
	timeout := s.cfg.ConnectionTimeout
	addr := s.Address()

	s.setState(StateConnecting)
	err := withTimeoutErr(ctx, timeout, "valve-connect", s.peripheral.Connect)
	if err != nil && !errors.Is(err, device.ErrAlreadyConnected) {
		return err
	}

	s.setState(StateServiceDiscovery)
	services, err := withTimeout(ctx, timeout, "valve-discover-services", func(ctx context.Context) ([]device.Service, error) {
		return s.peripheral.DiscoverServices(ctx, []string{device.ValveServiceUUID})
	})
	if err != nil {
		return err
	}
	svc := findService(services, device.ValveServiceUUID)
	if svc == nil {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{device.ValveServiceUUID}, Address: addr}
	}

	s.setState(StateCharacteristicDiscovery)
	chars, err := withTimeout(ctx, timeout, "valve-discover-characteristics", func(ctx context.Context) ([]device.Characteristic, error) {
		return svc.DiscoverCharacteristics(ctx, []string{device.ValveWriteUUID, device.ValveNotifyUUID})
	})
	if err != nil {
		return err
	}
	writeChar := findCharacteristic(chars, device.ValveWriteUUID)
	notifyChar := findCharacteristic(chars, device.ValveNotifyUUID)
	if writeChar == nil || notifyChar == nil {
		var missing []string
		if writeChar == nil {
			missing = append(missing, device.ValveWriteUUID)
		}
		if notifyChar == nil {
			missing = append(missing, device.ValveNotifyUUID)
		}
		return &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    append([]string{device.ValveServiceUUID}, missing...),
			Address:  addr,
		}
	}

	s.setState(StateDescriptorSetup)
	descriptors, err := withTimeout(ctx, timeout, "valve-discover-descriptors", notifyChar.DiscoverDescriptors)
	if err != nil {
		return err
	}
	if s.cfg.RaspberryFix {
		s.enableNotificationsDirectly(descriptors)
	}

	s.mu.Lock()
	s.writeChar = writeChar
	s.notifyChar = notifyChar
	s.mu.Unlock()

	s.wakeMu.Lock()
	s.lastWakeUp = time.Time{}
	s.wakeMu.Unlock()

	return nil
}

// enableNotificationsDirectly writes the notify descriptor without waiting.
// The write is known to hang on some stacks while still taking effect.
func (s *Session) enableNotificationsDirectly(descriptors []device.Descriptor) {
	if len(descriptors) == 0 {
		s.logger.WithFields(s.fields()).Warn("No descriptors on notify characteristic, skipping notification fix")
		return
	}

	target := descriptors[0]
	for _, d := range descriptors {
		if device.SameUUID(d.UUID(), device.ClientConfigUUID) {
			target = d
			break
		}
	}

	logger := s.logger.WithFields(s.fields()).WithField("descriptor", target.UUID())
	groutine.Go(context.Background(), "valve-raspberry-fix", func(ctx context.Context) {
		if err := target.WriteValue(ctx, raspberryFixValue); err != nil {
			logger.WithField("error", err).Debug("Notification descriptor write failed")
			return
		}
		logger.Trace("Notification descriptor written")
	})
}

// Disconnect closes the link. Disconnecting an idle session is a no-op.
func (s *Session) Disconnect() error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	err := s.teardown()
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", s.Address(), err)
	}
	s.logger.WithFields(s.fields()).Debug("Closed connection to valve")
	return nil
}

func (s *Session) teardown() error {
	s.mu.Lock()
	s.writeChar = nil
	s.notifyChar = nil
	s.mu.Unlock()

	s.setState(StateDisconnected)
	if s.peripheral.State() == device.StateDisconnected {
		return nil
	}
	return s.peripheral.Disconnect()
}

func (s *Session) characteristics() (device.Characteristic, device.Characteristic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.writeChar == nil || s.notifyChar == nil {
		return nil, nil, fmt.Errorf("%s: %w", s.Address(), device.ErrNotConnected)
	}
	return s.writeChar, s.notifyChar, nil
}

func findService(services []device.Service, uuid string) device.Service {
	for _, svc := range services {
		if device.SameUUID(svc.UUID(), uuid) {
			return svc
		}
	}
	return nil
}

func findCharacteristic(chars []device.Characteristic, uuid string) device.Characteristic {
	for _, c := range chars {
		if device.SameUUID(c.UUID(), uuid) {
			return c
		}
	}
	return nil
}
