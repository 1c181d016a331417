package device

import (
	"errors"
	"fmt"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// For BLE hierarchy: characteristic is in service, descriptor is in characteristic
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected         ConnectionState = "not_connected"
	AlreadyConnected     ConnectionState = "already_connected"
	NotInitialized       ConnectionState = "not_initialized"
	TransportUnavailable ConnectionState = "transport_unavailable"
	BluetoothOff         ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected         = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected     = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized       = &ConnectionError{State: NotInitialized}
	ErrTransportUnavailable = &ConnectionError{State: TransportUnavailable}
	ErrBluetoothOff         = &ConnectionError{State: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
	ErrClosed      = errors.New("handle closed")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Transport opens links to peripherals. Every primitive on the returned Handle is
// asynchronous: it returns as soon as the operation is issued and reports the outcome
// exactly once through the Callbacks passed to Open.
type Transport interface {
	// Open starts a link to the peripheral at address. A nil error means the
	// attempt was issued; the outcome arrives via OnLinkStateChanged.
	Open(address string, cb Callbacks) (Handle, error)
}

// Handle is the ownership token for one live link.
type Handle interface {
	Address() string
	// Name returns the peer display name, empty until the link is up.
	Name() string
	// Reusable reports whether Reconnect may be issued on this handle.
	Reusable() bool
	Reconnect() error

	DiscoverServices() error
	// Characteristic looks up a discovered characteristic. Returns *NotFoundError
	// when the service or the characteristic is absent.
	Characteristic(serviceUUID, charUUID string) (Characteristic, error)
	// EnableNotifications turns on local delivery of notifications for c.
	EnableNotifications(c Characteristic) error
	WriteDescriptor(c Characteristic, descriptorUUID string, value []byte) error

	// Disconnect requests a link-level disconnect; confirmation arrives as
	// OnLinkStateChanged(false).
	Disconnect() error
	// Close synchronously releases the handle. No callbacks fire afterwards.
	Close() error
}

// LinkErrorReporter is implemented by handles that keep the cause of their last
// failed link attempt. LastError returns nil once a link comes up.
type LinkErrorReporter interface {
	LastError() error
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	ServiceUUID() string
	// CanNotify reports whether the characteristic supports notifications or indications.
	CanNotify() bool
}

// Callbacks receives transport completions. Implementations must tolerate calls
// from arbitrary goroutines.
type Callbacks interface {
	OnLinkStateChanged(connected bool)
	OnDiscoveryComplete(success bool)
	OnDescriptorWriteComplete(charUUID string, success bool)
	OnNotification(charUUID string, data []byte)
}
