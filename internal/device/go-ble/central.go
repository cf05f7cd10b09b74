package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Central implements device.Central on top of a go-ble host device.
type Central struct {
	dev    ble.Device
	logger *logrus.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	peripherals map[string]*Peripheral
}

// NewCentral opens the host radio.
func NewCentral(logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)

	return &Central{
		dev:         dev,
		logger:      logger,
		peripherals: make(map[string]*Peripheral),
	}, nil
}

// StartScanning starts a background scan reporting peripherals that advertise
// the valve service. Calling it while a scan is running is a no-op.
func (c *Central) StartScanning(ctx context.Context, onDiscover func(device.Peripheral)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	handler := func(adv ble.Advertisement) {
		if !advertisesService(adv.Services(), device.ValveServiceUUID) {
			return
		}
		onDiscover(c.peripheral(adv.Addr().String()))
	}

	c.logger.Debug("Starting BLE scan...")
	groutine.Go(context.Background(), "ble-scan", func(_ context.Context) {
		defer close(done)
		err := c.dev.Scan(scanCtx, true, handler)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithField("error", NormalizeError(err)).Error("BLE scan stopped with error")
		}

		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
	})

	return nil
}

// StopScanning cancels the running scan and waits for it to exit.
func (c *Central) StopScanning() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	c.logger.Debug("BLE scan stopped")
	return nil
}

// Peripheral returns the peripheral handle for an address without scanning.
func (c *Central) Peripheral(address string) device.Peripheral {
	return c.peripheral(address)
}

func (c *Central) peripheral(address string) *Peripheral {
	key := device.NormalizeAddress(address)

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.peripherals[key]; ok {
		return p
	}
	p := newPeripheral(c.dev, address, c.logger)
	c.peripherals[key] = p
	return p
}

func advertisesService(services []ble.UUID, uuid string) bool {
	for _, s := range services {
		if device.SameUUID(s.String(), uuid) {
			return true
		}
	}
	return false
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(device.NormalizeUUID(u))
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}
