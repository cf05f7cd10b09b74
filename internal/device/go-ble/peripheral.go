package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/groutine"
)

// Peripheral implements device.Peripheral for a remote go-ble device.
type Peripheral struct {
	dev     ble.Device
	address string
	logger  *logrus.Logger

	mu     sync.RWMutex
	state  device.PeripheralState
	client ble.Client
}

func newPeripheral(dev ble.Device, address string, logger *logrus.Logger) *Peripheral {
	return &Peripheral{
		dev:     dev,
		address: address,
		logger:  logger,
		state:   device.StateDisconnected,
	}
}

func (p *Peripheral) Address() string {
	return p.address
}

func (p *Peripheral) State() device.PeripheralState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Peripheral) setState(s device.PeripheralState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Connect dials the peripheral. The link is not usable until services are discovered.
func (p *Peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.client != nil {
		p.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	p.state = device.StateConnecting
	p.mu.Unlock()

	p.logger.WithField("address", p.address).Debug("Dialing BLE device...")
	client, err := p.dev.Dial(ctx, ble.NewAddr(p.address))
	if err != nil {
		p.setState(device.StateDisconnected)
		return fmt.Errorf("failed to connect to device with address %q: %w", p.address, NormalizeError(err))
	}

	p.mu.Lock()
	p.client = client
	p.state = device.StateConnected
	p.mu.Unlock()

	// Both darwin and linux clients expose the link-loss channel.
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(_ context.Context) {
			<-dc.Disconnected()
			p.mu.Lock()
			if p.client == client {
				p.client = nil
				p.state = device.StateDisconnected
			}
			p.mu.Unlock()
			p.logger.WithField("address", p.address).Debug("BLE link closed")
		})
	}

	return nil
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	client := p.client
	if client == nil {
		p.state = device.StateDisconnected
		p.mu.Unlock()
		return nil
	}
	p.client = nil
	p.state = device.StateDisconnecting
	p.mu.Unlock()

	err := client.CancelConnection()
	p.setState(device.StateDisconnected)
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (p *Peripheral) connectedClient() (ble.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, device.ErrNotConnected
	}
	return p.client, nil
}

// DiscoverServices discovers the services matching uuids (all when empty).
// go-ble discovery is not cancellable; callers bound it with their own timeout.
func (p *Peripheral) DiscoverServices(_ context.Context, uuids []string) ([]device.Service, error) {
	client, err := p.connectedClient()
	if err != nil {
		return nil, err
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}

	svcs, err := client.DiscoverServices(filter)
	if err != nil {
		return nil, NormalizeError(err)
	}

	out := make([]device.Service, 0, len(svcs))
	for _, s := range svcs {
		out = append(out, &service{client: client, svc: s, logger: p.logger})
	}
	return out, nil
}

type service struct {
	client ble.Client
	svc    *ble.Service
	logger *logrus.Logger
}

func (s *service) UUID() string {
	return device.NormalizeUUID(s.svc.UUID.String())
}

func (s *service) DiscoverCharacteristics(_ context.Context, uuids []string) ([]device.Characteristic, error) {
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}

	chars, err := s.client.DiscoverCharacteristics(filter, s.svc)
	if err != nil {
		return nil, NormalizeError(err)
	}

	out := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		out = append(out, newCharacteristic(s.client, c, s.logger))
	}
	return out, nil
}
