package main

import (
	"errors"
	"fmt"

	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/protocol"
	"github.com/srg/valvectl/internal/valve"
)

// ErrNoValveFound is returned when a scan ends without a matching valve.
var ErrNoValveFound = errors.New("no valve found")

// FormatUserError turns errors from the lower layers into a one-line message
// for the terminal. Unknown errors are printed as-is.
func FormatUserError(err error) string {
	var (
		notFound *device.NotFoundError
		attempts *valve.AttemptsExceededError
		encoding *protocol.UnsupportedEncodingError
		overflow *protocol.OverflowError
		checksum *protocol.ChecksumError
	)

	switch {
	case errors.Is(err, device.ErrTransportUnsupported):
		return "Bluetooth is unavailable on this host (is the adapter present and turned on?)"
	case errors.Is(err, ErrNoValveFound):
		return err.Error()
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s; is this a supported valve?", notFound.Error())
	case errors.As(err, &attempts):
		return fmt.Sprintf("%s; move closer to the valve and retry", attempts.Error())
	case errors.Is(err, valve.ErrNameTooLong):
		return fmt.Sprintf("name must be at most %d characters", valve.MaxNameLength)
	case errors.As(err, &encoding):
		return fmt.Sprintf("field cannot be changed: %s", encoding.Error())
	case errors.As(err, &overflow):
		return overflow.Error()
	case errors.As(err, &checksum):
		return fmt.Sprintf("corrupted response from valve: %s", checksum.Error())
	default:
		return err.Error()
	}
}
