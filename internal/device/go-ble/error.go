package goble

import "github.com/srg/valvectl/internal/device"

// NormalizeError maps known go-ble error strings to structured device errors.
// It ensures consistent handling even if the upstream library changes messages slightly.
func NormalizeError(err error) error {
	return device.NormalizeError(err)
}
