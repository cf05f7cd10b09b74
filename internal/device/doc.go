// Package device defines the transport capability the valve controller
// depends on: a BLE central that discovers peripherals, and the GATT
// service, characteristic and descriptor handles reached through them.
//
// The interfaces are deliberately narrow. They cover exactly what the valve
// protocol needs:
//   - Scanning with a discovery callback
//   - Connect, disconnect and service discovery on a peripheral
//   - Characteristic writes, notification toggling and a data stream
//   - Descriptor writes (client characteristic configuration)
//
// Concrete adapters live in subpackages (see go-ble). Shared error values
// live here so callers can match them regardless of the adapter in use.
package device
