//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/valvectl/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, device.ErrTransportUnsupported
}
