// Package devicefactory selects the transport adapter used by the CLI.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/valvectl/internal/device"
	goble "github.com/srg/valvectl/internal/device/go-ble"
)

// CentralFactory opens the host BLE radio.
// This is a variable so that it can be overridden in tests.
var CentralFactory = func(logger *logrus.Logger) (device.Central, error) {
	c, err := goble.NewCentral(logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewCentral opens the host BLE radio through CentralFactory.
func NewCentral(logger *logrus.Logger) (device.Central, error) {
	return CentralFactory(logger)
}
