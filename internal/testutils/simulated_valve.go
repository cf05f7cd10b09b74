//go:build test

package testutils

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/protocol"
)

// Step names a connection or request step whose latency can be scripted.
type Step string

const (
	StepConnect                 Step = "connect"
	StepDiscoverServices        Step = "discover-services"
	StepDiscoverCharacteristics Step = "discover-characteristics"
	StepDiscoverDescriptors     Step = "discover-descriptors"
	StepWrite                   Step = "write"
)

// writeRejected is the status byte answered to a write frame that was not applied.
const writeRejected byte = 0x80

// DefaultValveState is the state buffer a SimulatedValve starts with.
//   - battery 0x82 -> 3.00 V
//   - current temperature 0x00D7 -> 21.5 °C
//   - deviation 0x05 -> 0.5 °C
//   - targets saving 17.0, auto 21.5, manual 22.0
//   - serial 0011223344556677889900aa, name "Living Room"
func DefaultValveState() []byte {
	state := make([]byte, protocol.StateLength)
	state[protocol.FieldBatteryVoltage.Offset] = 0x82
	binary.BigEndian.PutUint16(state[protocol.FieldCurrentTemperature.Offset:], 0x00D7)
	state[protocol.FieldTemperatureDeviation.Offset] = 0x05
	state[protocol.FieldTargetTemperatureSaving.Offset] = 0x22
	state[protocol.FieldTargetTemperatureAuto.Offset] = 0x2B
	state[protocol.FieldTargetTemperatureManual.Offset] = 0x2C
	copy(state[protocol.FieldSerialNumber.Offset:], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0x00, 0xAA})
	copy(state[protocol.FieldName.Offset:], "Living Room")
	return state
}

// SimulatedValve is an in-memory device.Peripheral speaking the valve protocol.
// It answers request frames from a 240-byte state buffer and can be scripted
// to delay connection steps, drop responses, fragment notifications and reject writes.
type SimulatedValve struct {
	address string
	events  *EventLog

	mu               sync.Mutex
	state            device.PeripheralState
	memory           []byte
	delays           map[Step][]time.Duration
	dropResponses    int
	rejectWrites     int
	rejectAt         map[int]int
	fragmentSize     int
	noService        bool
	missingChars     map[string]bool
	requests         [][]byte
	connects         int
	disconnects      int
	descriptorWrites [][]byte

	writeChar  *simCharacteristic
	notifyChar *simCharacteristic
}

// NewSimulatedValve creates a disconnected valve holding DefaultValveState.
// events may be nil.
func NewSimulatedValve(address string, events *EventLog) *SimulatedValve {
	v := &SimulatedValve{
		address:      address,
		events:       events,
		state:        device.StateDisconnected,
		memory:       DefaultValveState(),
		delays:       make(map[Step][]time.Duration),
		fragmentSize: 20,
		missingChars: make(map[string]bool),
		rejectAt:     make(map[int]int),
	}
	v.writeChar = &simCharacteristic{uuid: device.ValveWriteUUID, valve: v, handlers: map[int]func([]byte){}}
	v.notifyChar = &simCharacteristic{uuid: device.ValveNotifyUUID, valve: v, handlers: map[int]func([]byte){}}
	return v
}

// ---- scripting ----

// SetDelays queues per-call latencies for a connection step. Each call of the
// step consumes the next delay; calls past the end are immediate.
func (v *SimulatedValve) SetDelays(step Step, delays ...time.Duration) *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delays[step] = delays
	return v
}

// DropResponses makes the valve ignore the next n requests.
func (v *SimulatedValve) DropResponses(n int) *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropResponses = n
	return v
}

// RejectWrites makes the valve answer the next n write frames with a failure status.
func (v *SimulatedValve) RejectWrites(n int) *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectWrites = n
	return v
}

// RejectWriteAt makes the valve reject the next n write frames addressed to offset.
func (v *SimulatedValve) RejectWriteAt(offset uint16, n int) *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectAt[int(offset)] = n
	return v
}

// WriteOffsets returns the absolute offsets of every write frame received, in order.
func (v *SimulatedValve) WriteOffsets() []uint16 {
	var out []uint16
	for _, r := range v.Requests() {
		if len(r) > protocol.PacketHeaderLength && protocol.PacketID(r[0]) == protocol.PacketStateChunk && r[2] == 2 {
			out = append(out, binary.BigEndian.Uint16(r[3:5]))
		}
	}
	return out
}

// ReadOffsets returns the absolute offsets of every read request received, in order.
func (v *SimulatedValve) ReadOffsets() []uint16 {
	var out []uint16
	for _, r := range v.Requests() {
		if len(r) > protocol.PacketHeaderLength && protocol.PacketID(r[0]) == protocol.PacketStateChunk && r[2] == 1 {
			out = append(out, binary.BigEndian.Uint16(r[3:5]))
		}
	}
	return out
}

// SetFragmentSize sets the notification size responses are split into.
func (v *SimulatedValve) SetFragmentSize(n int) *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fragmentSize = n
	return v
}

// WithoutService makes service discovery return no services.
func (v *SimulatedValve) WithoutService() *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noService = true
	return v
}

// WithoutCharacteristic hides a characteristic from discovery.
func (v *SimulatedValve) WithoutCharacteristic(uuid string) *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.missingChars[device.NormalizeUUID(uuid)] = true
	return v
}

// SetMemory overwrites part of the state buffer.
func (v *SimulatedValve) SetMemory(offset int, data []byte) *SimulatedValve {
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.memory[offset:], data)
	return v
}

// ---- inspection ----

// Memory returns a copy of the state buffer.
func (v *SimulatedValve) Memory() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.memory...)
}

// Requests returns copies of every frame written to the valve, in order.
func (v *SimulatedValve) Requests() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.requests))
	for i, r := range v.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// CountRequests counts written frames whose first byte is id.
func (v *SimulatedValve) CountRequests(id protocol.PacketID) int {
	n := 0
	for _, r := range v.Requests() {
		if len(r) > 0 && protocol.PacketID(r[0]) == id {
			n++
		}
	}
	return n
}

func (v *SimulatedValve) WakeUpCount() int {
	return v.CountRequests(protocol.PacketWakeUp)
}

func (v *SimulatedValve) ConnectCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connects
}

func (v *SimulatedValve) DisconnectCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disconnects
}

func (v *SimulatedValve) DescriptorWrites() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]byte(nil), v.descriptorWrites...)
}

// Notifying reports whether notifications are enabled on the notify characteristic.
func (v *SimulatedValve) Notifying() bool {
	v.notifyChar.mu.Lock()
	defer v.notifyChar.mu.Unlock()
	return v.notifyChar.notifying
}

// ---- device.Peripheral ----

func (v *SimulatedValve) Address() string {
	return v.address
}

func (v *SimulatedValve) State() device.PeripheralState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *SimulatedValve) Connect(ctx context.Context) error {
	v.mu.Lock()
	if v.state == device.StateConnected {
		v.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	v.state = device.StateConnecting
	v.connects++
	v.mu.Unlock()
	v.events.Add(v.address + ":connect")

	if err := v.pause(ctx, StepConnect); err != nil {
		v.mu.Lock()
		if v.state == device.StateConnecting {
			v.state = device.StateDisconnected
		}
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	v.state = device.StateConnected
	v.mu.Unlock()
	return nil
}

func (v *SimulatedValve) Disconnect() error {
	v.mu.Lock()
	v.state = device.StateDisconnected
	v.disconnects++
	v.mu.Unlock()
	v.events.Add(v.address + ":disconnect")
	return nil
}

func (v *SimulatedValve) DiscoverServices(ctx context.Context, _ []string) ([]device.Service, error) {
	if err := v.pause(ctx, StepDiscoverServices); err != nil {
		return nil, err
	}
	if err := v.requireConnected(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.noService {
		return nil, nil
	}
	return []device.Service{&simService{valve: v}}, nil
}

// pause waits for the next scripted delay of step, or until ctx ends.
func (v *SimulatedValve) pause(ctx context.Context, step Step) error {
	v.mu.Lock()
	var d time.Duration
	if q := v.delays[step]; len(q) > 0 {
		d = q[0]
		v.delays[step] = q[1:]
	}
	v.mu.Unlock()

	if d == 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *SimulatedValve) requireConnected() error {
	if v.State() != device.StateConnected {
		return device.ErrNotConnected
	}
	return nil
}

// handle answers one request frame. It returns nil when no response is sent.
func (v *SimulatedValve) handle(frame []byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.requests = append(v.requests, append([]byte(nil), frame...))
	if v.dropResponses > 0 {
		v.dropResponses--
		return nil
	}

	if len(frame) == 1 && protocol.PacketID(frame[0]) == protocol.PacketWakeUp {
		return buildResponse(protocol.PacketWakeUp, byte(protocol.PacketReadSuccess), 0, nil)
	}
	if len(frame) < protocol.PacketHeaderLength+2 || protocol.PacketID(frame[0]) != protocol.PacketStateChunk {
		return nil
	}

	offset := min(int(binary.BigEndian.Uint16(frame[3:5])), len(v.memory))
	switch frame[2] {
	case 1:
		n := int(frame[5])
		end := min(offset+n, len(v.memory))
		if offset == int(protocol.FieldSerialNumber.Offset) {
			v.events.Add(v.address + ":read-serial")
		}
		return buildResponse(protocol.PacketStateChunk, byte(protocol.PacketReadSuccess), uint16(offset), v.memory[offset:end])
	case 2:
		data := frame[protocol.PacketHeaderLength : len(frame)-protocol.ResponseFooterLength]
		if v.rejectAt[offset] > 0 {
			v.rejectAt[offset]--
			return buildResponse(protocol.PacketStateChunk, writeRejected, uint16(offset), nil)
		}
		if v.rejectWrites > 0 {
			v.rejectWrites--
			return buildResponse(protocol.PacketStateChunk, writeRejected, uint16(offset), nil)
		}
		copy(v.memory[offset:], data)
		return buildResponse(protocol.PacketStateChunk, byte(protocol.PacketSaveSuccess), uint16(offset), nil)
	default:
		return nil
	}
}

// buildResponse frames a response as [id, len, status, offset(2), payload, crc, CR, LF].
func buildResponse(id protocol.PacketID, status byte, offset uint16, payload []byte) []byte {
	w := protocol.NewWriter(protocol.PacketHeaderLength + len(payload) + protocol.ResponseFooterLength)
	w.WriteUint8(byte(id))
	w.WriteUint8(byte(len(payload) + 4))
	w.WriteUint8(status)
	w.WriteUint16(offset)
	w.Write(payload)
	w.WriteUint8(protocol.Checksum(w.Bytes()[1:]))
	w.Write([]byte{0x0D, 0x0A})
	return w.Bytes()
}

func (v *SimulatedValve) fragments(resp []byte) [][]byte {
	v.mu.Lock()
	size := v.fragmentSize
	v.mu.Unlock()
	if size <= 0 {
		size = len(resp)
	}

	var out [][]byte
	for start := 0; start < len(resp); start += size {
		out = append(out, resp[start:min(start+size, len(resp))])
	}
	return out
}

type simService struct {
	valve *SimulatedValve
}

func (s *simService) UUID() string {
	return device.ValveServiceUUID
}

func (s *simService) DiscoverCharacteristics(ctx context.Context, _ []string) ([]device.Characteristic, error) {
	if err := s.valve.pause(ctx, StepDiscoverCharacteristics); err != nil {
		return nil, err
	}

	s.valve.mu.Lock()
	defer s.valve.mu.Unlock()
	var out []device.Characteristic
	for _, c := range []*simCharacteristic{s.valve.writeChar, s.valve.notifyChar} {
		if !s.valve.missingChars[c.uuid] {
			out = append(out, c)
		}
	}
	return out, nil
}

type simCharacteristic struct {
	uuid  string
	valve *SimulatedValve

	mu        sync.Mutex
	notifying bool
	handlers  map[int]func([]byte)
	nextID    int
}

func (c *simCharacteristic) UUID() string {
	return c.uuid
}

// Write delivers the response synchronously on the writer's goroutine.
func (c *simCharacteristic) Write(ctx context.Context, data []byte, _ bool) error {
	if err := c.valve.requireConnected(); err != nil {
		return err
	}
	if err := c.valve.pause(ctx, StepWrite); err != nil {
		return err
	}
	if c.uuid != device.ValveWriteUUID {
		return fmt.Errorf("characteristic %s is not writable", c.uuid)
	}

	resp := c.valve.handle(data)
	if resp == nil {
		return nil
	}
	for _, chunk := range c.valve.fragments(resp) {
		c.valve.notifyChar.deliver(chunk)
	}
	return nil
}

func (c *simCharacteristic) SetNotify(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifying = enabled
	return nil
}

func (c *simCharacteristic) OnData(handler func([]byte)) func() {
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

func (c *simCharacteristic) deliver(data []byte) {
	c.mu.Lock()
	if !c.notifying {
		c.mu.Unlock()
		return
	}
	handlers := make([]func([]byte), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(append([]byte(nil), data...))
	}
}

func (c *simCharacteristic) DiscoverDescriptors(ctx context.Context) ([]device.Descriptor, error) {
	if err := c.valve.pause(ctx, StepDiscoverDescriptors); err != nil {
		return nil, err
	}
	if c.uuid != device.ValveNotifyUUID {
		return nil, nil
	}
	return []device.Descriptor{&simDescriptor{valve: c.valve}}, nil
}

type simDescriptor struct {
	valve *SimulatedValve
}

func (d *simDescriptor) UUID() string {
	return device.ClientConfigUUID
}

func (d *simDescriptor) WriteValue(_ context.Context, value []byte) error {
	d.valve.mu.Lock()
	defer d.valve.mu.Unlock()
	d.valve.descriptorWrites = append(d.valve.descriptorWrites, append([]byte(nil), value...))
	return nil
}
