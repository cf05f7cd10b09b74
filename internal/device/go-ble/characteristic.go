package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/device"
)

// gattClient is the part of ble.Client used by characteristics and descriptors.
type gattClient interface {
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
}

type characteristic struct {
	client gattClient
	ch     *ble.Characteristic
	logger *logrus.Logger

	mu         sync.Mutex
	handlers   map[uint64]func([]byte)
	nextID     uint64
	subscribed bool
}

func newCharacteristic(client gattClient, ch *ble.Characteristic, logger *logrus.Logger) *characteristic {
	return &characteristic{
		client:   client,
		ch:       ch,
		logger:   logger,
		handlers: make(map[uint64]func([]byte)),
	}
}

func (c *characteristic) UUID() string {
	return device.NormalizeUUID(c.ch.UUID.String())
}

func (c *characteristic) Write(_ context.Context, data []byte, withResponse bool) error {
	return NormalizeError(c.client.WriteCharacteristic(c.ch, data, !withResponse))
}

func (c *characteristic) SetNotify(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enabled == c.subscribed {
		return nil
	}

	var err error
	if enabled {
		err = c.client.Subscribe(c.ch, false, c.dispatch)
	} else {
		err = c.client.Unsubscribe(c.ch, false)
	}
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"char_uuid": c.UUID(),
			"enabled":   enabled,
			"error":     err,
		}).Warn("Failed to change notification state")
		return NormalizeError(err)
	}

	c.subscribed = enabled
	return nil
}

func (c *characteristic) OnData(handler func([]byte)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// dispatch fans a notification out to the registered handlers.
// go-ble reuses the buffer, so each handler receives its own copy.
func (c *characteristic) dispatch(data []byte) {
	c.mu.Lock()
	handlers := make([]func([]byte), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(append([]byte(nil), data...))
	}
}

func (c *characteristic) DiscoverDescriptors(_ context.Context) ([]device.Descriptor, error) {
	descs, err := c.client.DiscoverDescriptors(nil, c.ch)
	if err != nil {
		return nil, NormalizeError(err)
	}

	out := make([]device.Descriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, &descriptor{client: c.client, desc: d})
	}
	return out, nil
}

type descriptor struct {
	client gattClient
	desc   *ble.Descriptor
}

func (d *descriptor) UUID() string {
	return device.NormalizeUUID(d.desc.UUID.String())
}

func (d *descriptor) WriteValue(_ context.Context, value []byte) error {
	return NormalizeError(d.client.WriteDescriptor(d.desc, value))
}
