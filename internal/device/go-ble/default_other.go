//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/thermolink/internal/device"
)

func defaultDevice() (ble.Device, error) {
	return nil, device.ErrTransportUnavailable
}
