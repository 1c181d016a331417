package link

import (
	"errors"
	"testing"

	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/events"
	"github.com/stretchr/testify/assert"
)

const peer = "AA:BB:CC:DD:EE:FF"

func commands(kinds ...CommandKind) []CommandKind {
	return kinds
}

func commandKinds(t Transition) []CommandKind {
	var kinds []CommandKind
	for _, c := range t.Commands {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

func TestStep(t *testing.T) {
	connecting := Connection{State: Connecting, PeerAddress: peer}
	connected := Connection{State: Connected, PeerAddress: peer, PeerName: "Thermo"}
	subscribed := Connection{State: Subscribed, PeerAddress: peer, PeerName: "Thermo"}
	pending := connected
	pending.disconnectPending = true
	reading := events.Reading{Value: 22.5}

	tests := []struct {
		name     string
		from     Connection
		in       Input
		next     Connection
		events   []events.Event
		commands []CommandKind
		rejected bool
		failure  FailureKind
	}{
		{
			name:     "connect from disconnected opens a handle",
			from:     Connection{},
			in:       ConnectRequested{Address: peer},
			next:     connecting,
			commands: commands(CmdOpen),
		},
		{
			name:     "blank address is rejected",
			from:     Connection{},
			in:       ConnectRequested{Address: "  "},
			next:     Connection{},
			rejected: true,
		},
		{
			name:     "same address while connecting reuses the handle",
			from:     connecting,
			in:       ConnectRequested{Address: peer, Reusable: true},
			next:     connecting,
			commands: commands(CmdReconnect),
		},
		{
			name: "same address while connecting without reusable handle is a no-op",
			from: connecting,
			in:   ConnectRequested{Address: "aa:bb:cc:dd:ee:ff"},
			next: connecting,
		},
		{
			name: "same address while subscribed is a no-op",
			from: subscribed,
			in:   ConnectRequested{Address: peer, Reusable: true},
			next: subscribed,
		},
		{
			name:     "different address while live is rejected",
			from:     connected,
			in:       ConnectRequested{Address: "11:22:33:44:55:66"},
			next:     connected,
			rejected: true,
		},
		{
			name:     "connect while teardown is pending is rejected",
			from:     pending,
			in:       ConnectRequested{Address: peer},
			next:     pending,
			rejected: true,
		},
		{
			name:     "open failure rolls back silently",
			from:     connecting,
			in:       OpenFailed{Err: errors.New("radio off")},
			next:     Connection{},
			rejected: true,
			failure:  LinkFailure,
		},
		{
			name:     "reconnect failure tears down",
			from:     connecting,
			in:       ReconnectFailed{Err: errors.New("stale")},
			next:     Connection{},
			events:   []events.Event{events.LinkDisconnected{}},
			commands: commands(CmdRelease),
			rejected: true,
			failure:  LinkFailure,
		},
		{
			name:     "link up records identity and discovers",
			from:     connecting,
			in:       LinkUp{Name: "Thermo"},
			next:     connected,
			events:   []events.Event{events.LinkConnected{PeerID: peer, Name: "Thermo"}},
			commands: commands(CmdDiscover),
		},
		{
			name: "link up after a disconnect request repeats the teardown",
			from: func() Connection {
				c := connecting
				c.disconnectPending = true
				return c
			}(),
			in:       LinkUp{Name: "Thermo"},
			next:     pending,
			events:   []events.Event{events.LinkConnected{PeerID: peer, Name: "Thermo"}},
			commands: commands(CmdDisconnect),
		},
		{
			name: "duplicate link up is ignored",
			from: connected,
			in:   LinkUp{Name: "Other"},
			next: connected,
		},
		{
			name:     "connect failure releases the partial handle",
			from:     connecting,
			in:       LinkDown{},
			next:     Connection{},
			events:   []events.Event{events.LinkDisconnected{}},
			commands: commands(CmdRelease),
			failure:  LinkFailure,
		},
		{
			name:     "link loss while subscribed",
			from:     subscribed,
			in:       LinkDown{},
			next:     Connection{},
			events:   []events.Event{events.LinkDisconnected{}},
			commands: commands(CmdRelease),
			failure:  LinkFailure,
		},
		{
			name:     "requested link down is not a failure",
			from:     pending,
			in:       LinkDown{},
			next:     Connection{},
			events:   []events.Event{events.LinkDisconnected{}},
			commands: commands(CmdRelease),
		},
		{
			name: "link down while disconnected emits nothing",
			from: Connection{},
			in:   LinkDown{},
			next: Connection{},
		},
		{
			name:     "discovery success locates the characteristic",
			from:     connected,
			in:       DiscoveryCompleted{Success: true},
			next:     connected,
			events:   []events.Event{events.ServicesReady{}},
			commands: commands(CmdLocate),
		},
		{
			name:     "discovery failure disconnects",
			from:     connected,
			in:       DiscoveryCompleted{Success: false},
			next:     pending,
			commands: commands(CmdDisconnect),
			failure:  LinkFailure,
		},
		{
			name:   "discovery success with pending teardown issues no next step",
			from:   pending,
			in:     DiscoveryCompleted{Success: true},
			next:   pending,
			events: []events.Event{events.ServicesReady{}},
		},
		{
			name:     "characteristic located subscribes",
			from:     connected,
			in:       CharacteristicLookup{Found: true},
			next:     connected,
			commands: commands(CmdSubscribe),
		},
		{
			name: "missing service is unsupported",
			from: connected,
			in: CharacteristicLookup{Err: &device.NotFoundError{
				Resource: "service", UUIDs: []string{device.TemperatureServiceUUID},
			}},
			next: pending,
			events: []events.Event{events.ServiceUnsupported{
				ServiceUUID: device.TemperatureServiceUUID,
				CharUUID:    device.TemperatureCharUUID,
			}},
			commands: commands(CmdDisconnect),
			failure:  ServiceUnsupported,
		},
		{
			name:     "lookup transport error is a link failure",
			from:     connected,
			in:       CharacteristicLookup{Err: device.ErrNotConnected},
			next:     pending,
			commands: commands(CmdDisconnect),
			failure:  LinkFailure,
		},
		{
			name:   "descriptor write success subscribes",
			from:   connected,
			in:     DescriptorWritten{CharUUID: "2A1C", Success: true},
			next:   subscribed,
			events: []events.Event{events.StreamOnline{}},
		},
		{
			name: "descriptor write on another characteristic is ignored",
			from: connected,
			in:   DescriptorWritten{CharUUID: "2a19", Success: true},
			next: connected,
		},
		{
			name:     "descriptor write failure disconnects",
			from:     connected,
			in:       DescriptorWritten{CharUUID: device.TemperatureCharUUID, Success: false},
			next:     pending,
			commands: commands(CmdDisconnect),
			failure:  SubscriptionFailure,
		},
		{
			name:   "notification while subscribed emits a reading",
			from:   subscribed,
			in:     NotificationReceived{CharUUID: device.TemperatureCharUUID, Reading: reading, Decoded: true},
			next:   subscribed,
			events: []events.Event{reading},
		},
		{
			name:    "undecodable notification is discarded",
			from:    subscribed,
			in:      NotificationReceived{CharUUID: device.TemperatureCharUUID},
			next:    subscribed,
			failure: DecodeFailure,
		},
		{
			name: "notification from another characteristic is ignored",
			from: subscribed,
			in:   NotificationReceived{CharUUID: "2a19"},
			next: subscribed,
		},
		{
			name: "notification while connecting is ignored",
			from: connecting,
			in:   NotificationReceived{CharUUID: device.TemperatureCharUUID, Reading: reading, Decoded: true},
			next: connecting,
		},
		{
			name: "disconnect while disconnected is a no-op",
			from: Connection{},
			in:   DisconnectRequested{},
			next: Connection{},
		},
		{
			name: "disconnect while subscribed requests teardown",
			from: subscribed,
			in:   DisconnectRequested{},
			next: func() Connection {
				c := subscribed
				c.disconnectPending = true
				return c
			}(),
			commands: commands(CmdDisconnect),
		},
		{
			name: "disconnect is not re-issued while pending",
			from: pending,
			in:   DisconnectRequested{},
			next: pending,
		},
		{
			name:     "close releases without events",
			from:     subscribed,
			in:       CloseRequested{},
			next:     Connection{},
			commands: commands(CmdRelease),
		},
		{
			name: "close while disconnected is a no-op",
			from: Connection{},
			in:   CloseRequested{},
			next: Connection{},
		},
		{
			name: "handshake expiry while connecting disconnects",
			from: connecting,
			in:   HandshakeExpired{},
			next: func() Connection {
				c := connecting
				c.disconnectPending = true
				return c
			}(),
			commands: commands(CmdDisconnect),
			failure:  LinkFailure,
		},
		{
			name: "handshake expiry after subscribing is ignored",
			from: subscribed,
			in:   HandshakeExpired{},
			next: subscribed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Step(tt.from, tt.in)

			assert.Equal(t, tt.next, got.Next, "next connection MUST match")
			assert.Equal(t, tt.events, got.Events, "emitted events MUST match")
			assert.Equal(t, tt.commands, commandKinds(got), "issued commands MUST match")
			assert.Equal(t, tt.rejected, got.Rejected)
			assert.Equal(t, tt.failure, got.Failure)
		})
	}
}

func TestStepSubscribedImpliesLiveHandle(t *testing.T) {
	// GOAL: Verify every path into Disconnected releases the handle and no path reaches
	// Subscribed without a successful descriptor write
	//
	// TEST SCENARIO: Apply every input to every state → check release and subscription invariants

	states := []Connection{
		{},
		{State: Connecting, PeerAddress: peer},
		{State: Connected, PeerAddress: peer},
		{State: Subscribed, PeerAddress: peer},
	}
	inputs := []Input{
		ConnectRequested{Address: peer}, DisconnectRequested{}, CloseRequested{},
		OpenFailed{}, ReconnectFailed{}, LinkUp{}, LinkDown{},
		DiscoveryCompleted{Success: true}, DiscoveryCompleted{},
		CharacteristicLookup{Found: true}, CharacteristicLookup{},
		DescriptorWritten{CharUUID: device.TemperatureCharUUID}, NotificationReceived{},
		HandshakeExpired{},
	}

	for _, from := range states {
		for _, in := range inputs {
			got := Step(from, in)
			if from.State.Live() && got.Next.State == Disconnected {
				_, isOpenFailed := in.(OpenFailed)
				if !isOpenFailed {
					assert.Contains(t, commandKinds(got), CmdRelease,
						"%s + %s MUST release the handle", from, in.inputName())
				}
			}
			if got.Next.State == Subscribed && from.State != Subscribed {
				assert.Fail(t, "unexpected subscription", "%s + %s MUST NOT subscribe", from, in.inputName())
			}
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Subscribed", Subscribed.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "Connecting(AA:BB:CC:DD:EE:FF)", Connection{State: Connecting, PeerAddress: peer}.String())
	assert.Equal(t, "locate", CmdLocate.String())
	assert.Equal(t, "service_unsupported", ServiceUnsupported.String())
}
