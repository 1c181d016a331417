package main

import (
	"errors"
	"fmt"

	"github.com/srg/thermolink/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link went down without being asked to.
	ErrConnectionLost = errors.New("connection lost")
	// ErrServiceUnsupported indicates the peer has no temperature service or characteristic.
	ErrServiceUnsupported = errors.New("temperature service not supported by device")
	// ErrUndecodable indicates a payload that is not a valid temperature measurement.
	ErrUndecodable = errors.New("payload cannot be decoded")
)

// FormatUserError turns an error chain into a one-line message with a hint where one helps.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%s: turn Bluetooth on and retry", err)
	case errors.Is(err, device.ErrNotInitialized):
		return fmt.Sprintf("%s: the Bluetooth adapter could not be opened (on Linux this needs root or CAP_NET_ADMIN)", err)
	case errors.Is(err, device.ErrTransportUnavailable):
		return fmt.Sprintf("%s: no Bluetooth adapter is available", err)
	case errors.Is(err, ErrServiceUnsupported):
		return fmt.Sprintf("%s: the device must expose service %s with characteristic %s",
			err, device.NormalizeUUID(device.TemperatureServiceUUID), device.NormalizeUUID(device.TemperatureCharUUID))
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%s: make sure the device is powered and in range", err)
	}
	return err.Error()
}
