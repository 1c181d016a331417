package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/thermolink/internal/device"
)

// NormalizeError maps known go-ble error strings to structured ConnectionError types.
// The original error is wrapped so its message stays available.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "have=4 want=5"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "is bluetooth turned on"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case strings.Contains(msg, "device already connected"):
		return fmt.Errorf("%w: %v", device.ErrAlreadyConnected, err)
	case strings.Contains(msg, "connection is not initialized"),
		strings.Contains(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", device.ErrNotInitialized, err)
	default:
		return err
	}
}
