//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/srg/valvectl/internal/device"
)

// FakeCentral is a scriptable device.Central. Tests push discoveries with Discover.
type FakeCentral struct {
	events *EventLog

	mu         sync.Mutex
	scanning   bool
	onDiscover func(device.Peripheral)
	starts     int
	stops      int
	startErr   error
	advertised []device.Peripheral
}

// NewFakeCentral creates an idle central. events may be nil.
func NewFakeCentral(events *EventLog) *FakeCentral {
	return &FakeCentral{events: events}
}

// FailStart makes subsequent StartScanning calls return err.
func (c *FakeCentral) FailStart(err error) *FakeCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startErr = err
	return c
}

// Advertise makes every later scan start report peripherals asynchronously,
// the way a radio in range of them would.
func (c *FakeCentral) Advertise(peripherals ...device.Peripheral) *FakeCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advertised = append(c.advertised, peripherals...)
	return c
}

func (c *FakeCentral) StartScanning(_ context.Context, onDiscover func(device.Peripheral)) error {
	c.mu.Lock()
	if c.startErr != nil {
		err := c.startErr
		c.mu.Unlock()
		return err
	}
	wasScanning := c.scanning
	c.scanning = true
	c.onDiscover = onDiscover
	c.starts++
	advertised := append([]device.Peripheral(nil), c.advertised...)
	c.mu.Unlock()

	if !wasScanning {
		c.events.Add("scan:start")
		if len(advertised) > 0 {
			go c.DiscoverAll(advertised...)
		}
	}
	return nil
}

func (c *FakeCentral) StopScanning() error {
	c.mu.Lock()
	wasScanning := c.scanning
	c.scanning = false
	c.stops++
	c.mu.Unlock()

	if wasScanning {
		c.events.Add("scan:stop")
	}
	return nil
}

// Discover reports p to the scan callback. It returns false when not scanning.
func (c *FakeCentral) Discover(p device.Peripheral) bool {
	c.mu.Lock()
	scanning, fn := c.scanning, c.onDiscover
	c.mu.Unlock()

	if !scanning || fn == nil {
		return false
	}
	fn(p)
	return true
}

// DiscoverAll reports several peripherals back to back, as an adapter flushing
// buffered advertisements would. Every peripheral is delivered if the central
// was scanning when the call started.
func (c *FakeCentral) DiscoverAll(peripherals ...device.Peripheral) bool {
	c.mu.Lock()
	scanning, fn := c.scanning, c.onDiscover
	c.mu.Unlock()

	if !scanning || fn == nil {
		return false
	}
	for _, p := range peripherals {
		fn(p)
	}
	return true
}

func (c *FakeCentral) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

func (c *FakeCentral) StartCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}
