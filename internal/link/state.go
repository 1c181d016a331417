// Package link drives a single connection to a temperature peripheral.
//
// The transition logic lives in Step, a pure function over Connection values. Machine
// owns the transport handle, serializes every input through one queue, executes the
// commands Step asks for and publishes the resulting events to subscribers.
package link

import "fmt"

// State is the coarse lifecycle stage of the link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Subscribed:
		return "Subscribed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Live reports whether a transport handle is held in this state.
func (s State) Live() bool {
	return s != Disconnected
}

// Connection is the observable link entity. The zero value is the Disconnected state.
type Connection struct {
	State       State
	PeerAddress string
	// PeerName is known only once the link is up.
	PeerName string

	disconnectPending bool
}

// DisconnectPending reports whether a teardown has been requested but not yet confirmed.
func (c Connection) DisconnectPending() bool {
	return c.disconnectPending
}

func (c Connection) String() string {
	if c.PeerAddress == "" {
		return c.State.String()
	}
	return fmt.Sprintf("%s(%s)", c.State, c.PeerAddress)
}
