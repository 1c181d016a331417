package link

import (
	"errors"
	"strings"

	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/events"
)

// Input is anything that may move the link: caller requests and transport completions.
type Input interface {
	inputName() string
}

type (
	// ConnectRequested asks for a link to Address. Reusable is filled by the machine and
	// tells whether the live handle supports Reconnect.
	ConnectRequested struct {
		Address  string
		Reusable bool
	}
	DisconnectRequested struct{}
	CloseRequested      struct{}

	// OpenFailed means the transport refused to start a link synchronously.
	OpenFailed struct{ Err error }
	// ReconnectFailed means Reconnect on a reused handle was refused synchronously.
	ReconnectFailed struct{ Err error }

	LinkUp struct{ Name string }
	// LinkDown covers both a dropped link and a connect attempt that never came up.
	LinkDown struct{}

	DiscoveryCompleted struct{ Success bool }
	// CharacteristicLookup carries the result of locating the temperature characteristic.
	CharacteristicLookup struct {
		Found bool
		Err   error
	}
	DescriptorWritten struct {
		CharUUID string
		Success  bool
	}
	// NotificationReceived carries an already decoded notification payload.
	NotificationReceived struct {
		CharUUID string
		Reading  events.Reading
		Decoded  bool
	}
	HandshakeExpired struct{}
)

func (ConnectRequested) inputName() string     { return "connect" }
func (DisconnectRequested) inputName() string  { return "disconnect" }
func (CloseRequested) inputName() string       { return "close" }
func (OpenFailed) inputName() string           { return "open_failed" }
func (ReconnectFailed) inputName() string      { return "reconnect_failed" }
func (LinkUp) inputName() string               { return "link_up" }
func (LinkDown) inputName() string             { return "link_down" }
func (DiscoveryCompleted) inputName() string   { return "discovery_completed" }
func (CharacteristicLookup) inputName() string { return "characteristic_lookup" }
func (DescriptorWritten) inputName() string    { return "descriptor_written" }
func (NotificationReceived) inputName() string { return "notification" }
func (HandshakeExpired) inputName() string     { return "handshake_expired" }

// CommandKind enumerates the transport actions a transition can request.
type CommandKind int

const (
	CmdOpen CommandKind = iota
	CmdReconnect
	CmdDiscover
	CmdLocate
	CmdSubscribe
	CmdDisconnect
	CmdRelease
)

func (k CommandKind) String() string {
	switch k {
	case CmdOpen:
		return "open"
	case CmdReconnect:
		return "reconnect"
	case CmdDiscover:
		return "discover"
	case CmdLocate:
		return "locate"
	case CmdSubscribe:
		return "subscribe"
	case CmdDisconnect:
		return "disconnect"
	case CmdRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Command is a transport action to execute after a transition is applied.
type Command struct {
	Kind    CommandKind
	Address string // CmdOpen, CmdReconnect
}

// FailureKind classifies why a transition is tearing the link down.
type FailureKind int

const (
	NoFailure FailureKind = iota
	LinkFailure
	SubscriptionFailure
	ServiceUnsupported
	DecodeFailure
)

func (f FailureKind) String() string {
	switch f {
	case NoFailure:
		return "none"
	case LinkFailure:
		return "link_failure"
	case SubscriptionFailure:
		return "subscription_failure"
	case ServiceUnsupported:
		return "service_unsupported"
	case DecodeFailure:
		return "decode_failure"
	default:
		return "unknown"
	}
}

// Transition is the result of applying one Input to a Connection.
type Transition struct {
	Next     Connection
	Events   []events.Event
	Commands []Command
	// Rejected is set when a connect request is refused.
	Rejected bool
	Failure  FailureKind
}

// Step computes the next connection, the events to publish and the commands to run.
// It performs no I/O.
func Step(conn Connection, in Input) Transition {
	t := Transition{Next: conn}

	switch in := in.(type) {
	case ConnectRequested:
		return stepConnect(conn, in)

	case DisconnectRequested:
		if conn.State.Live() {
			t.requestDisconnect()
		}

	case CloseRequested:
		if conn.State.Live() {
			t.Commands = append(t.Commands, Command{Kind: CmdRelease})
		}
		t.Next = Connection{}

	case OpenFailed:
		if conn.State == Connecting {
			t.Next = Connection{}
			t.Rejected = true
			t.Failure = LinkFailure
		}

	case ReconnectFailed:
		t = teardown(conn)
		t.Rejected = true
		t.Failure = LinkFailure

	case LinkDown:
		t = teardown(conn)
		if !conn.disconnectPending && conn.State.Live() {
			t.Failure = LinkFailure
		}

	case LinkUp:
		if conn.State != Connecting {
			break
		}
		t.Next.State = Connected
		t.Next.PeerName = in.Name
		t.Events = append(t.Events, events.LinkConnected{PeerID: conn.PeerAddress, Name: in.Name})
		if conn.disconnectPending {
			// the earlier request could only cancel the dial
			t.reissueDisconnect()
			break
		}
		t.next(CmdDiscover)

	case DiscoveryCompleted:
		if conn.State != Connected {
			break
		}
		if !in.Success {
			t.fail(LinkFailure)
			break
		}
		t.Events = append(t.Events, events.ServicesReady{})
		t.next(CmdLocate)

	case CharacteristicLookup:
		if conn.State != Connected {
			break
		}
		if in.Found {
			t.next(CmdSubscribe)
			break
		}
		var nf *device.NotFoundError
		if in.Err != nil && !errors.As(in.Err, &nf) {
			t.fail(LinkFailure)
			break
		}
		t.Events = append(t.Events, events.ServiceUnsupported{
			ServiceUUID: device.TemperatureServiceUUID,
			CharUUID:    device.TemperatureCharUUID,
		})
		t.fail(ServiceUnsupported)

	case DescriptorWritten:
		if conn.State != Connected {
			break
		}
		if !in.Success {
			t.fail(SubscriptionFailure)
			break
		}
		if !device.IsTemperatureCharacteristic(in.CharUUID) {
			break
		}
		t.Next.State = Subscribed
		t.Events = append(t.Events, events.StreamOnline{})

	case NotificationReceived:
		if conn.State != Connected && conn.State != Subscribed {
			break
		}
		if !device.IsTemperatureCharacteristic(in.CharUUID) {
			break
		}
		if !in.Decoded {
			t.Failure = DecodeFailure
			break
		}
		t.Events = append(t.Events, in.Reading)

	case HandshakeExpired:
		if conn.State == Connecting || conn.State == Connected {
			t.fail(LinkFailure)
		}
	}

	return t
}

func stepConnect(conn Connection, in ConnectRequested) Transition {
	t := Transition{Next: conn}
	address := strings.TrimSpace(in.Address)

	switch {
	case address == "":
		t.Rejected = true
	case conn.State == Disconnected:
		t.Next = Connection{State: Connecting, PeerAddress: address}
		t.Commands = append(t.Commands, Command{Kind: CmdOpen, Address: address})
	case !strings.EqualFold(conn.PeerAddress, address) || conn.disconnectPending:
		t.Rejected = true
	case conn.State == Connecting && in.Reusable:
		t.Commands = append(t.Commands, Command{Kind: CmdReconnect, Address: conn.PeerAddress})
	}
	return t
}

// teardown is the single path into Disconnected for a live link.
func teardown(conn Connection) Transition {
	t := Transition{Next: Connection{}}
	if conn.State.Live() {
		t.Events = append(t.Events, events.LinkDisconnected{})
		t.Commands = append(t.Commands, Command{Kind: CmdRelease})
	}
	return t
}

// next issues the following handshake step unless a teardown was requested meanwhile.
func (t *Transition) next(kind CommandKind) {
	if t.Next.disconnectPending {
		return
	}
	t.Commands = append(t.Commands, Command{Kind: kind})
}

// reissueDisconnect repeats a pending teardown against a link that came up after it
// was requested.
func (t *Transition) reissueDisconnect() {
	t.Commands = append(t.Commands, Command{Kind: CmdDisconnect})
}

func (t *Transition) fail(kind FailureKind) {
	t.Failure = kind
	t.requestDisconnect()
}

func (t *Transition) requestDisconnect() {
	if t.Next.disconnectPending {
		return
	}
	t.Next.disconnectPending = true
	t.Commands = append(t.Commands, Command{Kind: CmdDisconnect})
}
