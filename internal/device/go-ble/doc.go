// Package goble adapts github.com/go-ble/ble to the device capability
// interfaces. One Central owns the host radio; peripherals dialed through it
// share the platform default device.
package goble
