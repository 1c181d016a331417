package testutils

import (
	"errors"
	"sync"

	"github.com/srg/thermolink/internal/device"
)

// PeripheralProfile scripts how a FakeTransport peripheral behaves.
type PeripheralProfile struct {
	Name string
	// Auto completes every asynchronous primitive synchronously from inside the call.
	Auto bool
	// Reusable makes handles accept Reconnect.
	Reusable bool

	MissingService        bool
	MissingCharacteristic bool
	NoNotify              bool
	LinkFails             bool
	DiscoveryFails        bool
	DescriptorWriteFails  bool

	OpenErr      error
	ReconnectErr error
	// LinkErr is reported by LastError as the cause of a link that never came up.
	LinkErr       error
	DiscoverErr   error
	WriteErr      error
	DisconnectErr error
}

// FakeTransport is a scripted device.Transport. Every handle it opens is recorded.
type FakeTransport struct {
	mu      sync.Mutex
	profile PeripheralProfile
	handles []*FakeHandle
}

// NewFakeTransport creates a transport whose handles follow profile.
func NewFakeTransport(profile PeripheralProfile) *FakeTransport {
	return &FakeTransport{profile: profile}
}

// SetProfile changes the behavior of handles opened afterwards and of live handles.
func (t *FakeTransport) SetProfile(profile PeripheralProfile) {
	t.mu.Lock()
	t.profile = profile
	handles := append([]*FakeHandle(nil), t.handles...)
	t.mu.Unlock()
	for _, h := range handles {
		h.setProfile(profile)
	}
}

func (t *FakeTransport) Open(address string, cb device.Callbacks) (device.Handle, error) {
	t.mu.Lock()
	profile := t.profile
	t.mu.Unlock()

	if profile.OpenErr != nil {
		return nil, profile.OpenErr
	}

	h := &FakeHandle{address: address, cb: cb, profile: profile}
	h.record("open")

	t.mu.Lock()
	t.handles = append(t.handles, h)
	t.mu.Unlock()

	if profile.Auto {
		h.completeLink()
	}
	return h, nil
}

// Handles returns every handle opened so far.
func (t *FakeTransport) Handles() []*FakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeHandle(nil), t.handles...)
}

// Last returns the most recently opened handle or nil.
func (t *FakeTransport) Last() *FakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[len(t.handles)-1]
}

// OpenCount returns how many handles were opened.
func (t *FakeTransport) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// FakeCharacteristic is a device.Characteristic value.
type FakeCharacteristic struct {
	Service string
	Char    string
	Notify  bool
}

func (c *FakeCharacteristic) UUID() string        { return c.Char }
func (c *FakeCharacteristic) ServiceUUID() string { return c.Service }
func (c *FakeCharacteristic) CanNotify() bool     { return c.Notify }

// FakeHandle records every primitive issued on it. In manual mode completions are
// triggered by the test through LinkUp, LinkDown, CompleteDiscovery,
// CompleteDescriptorWrite and Notify.
type FakeHandle struct {
	address string
	cb      device.Callbacks

	mu              sync.Mutex
	profile         PeripheralProfile
	calls           []string
	closed          bool
	callsAfterClose int
}

func (h *FakeHandle) setProfile(p PeripheralProfile) {
	h.mu.Lock()
	h.profile = p
	h.mu.Unlock()
}

func (h *FakeHandle) snapshotProfile() PeripheralProfile {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.profile
}

func (h *FakeHandle) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.callsAfterClose++
	}
	h.calls = append(h.calls, call)
}

// Calls returns the primitives issued on the handle in order.
func (h *FakeHandle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Count returns how many times call was issued.
func (h *FakeHandle) Count(call string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == call {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// CallsAfterClose counts primitives issued after Close, including repeated Close calls.
func (h *FakeHandle) CallsAfterClose() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callsAfterClose
}

func (h *FakeHandle) Address() string { return h.address }

func (h *FakeHandle) Name() string {
	return h.snapshotProfile().Name
}

func (h *FakeHandle) Reusable() bool {
	return h.snapshotProfile().Reusable
}

func (h *FakeHandle) Reconnect() error {
	h.record("reconnect")
	p := h.snapshotProfile()
	if p.ReconnectErr != nil {
		return p.ReconnectErr
	}
	if p.Auto {
		h.completeLink()
	}
	return nil
}

// LastError returns the scripted LinkErr.
func (h *FakeHandle) LastError() error {
	return h.snapshotProfile().LinkErr
}

func (h *FakeHandle) DiscoverServices() error {
	h.record("discover")
	p := h.snapshotProfile()
	if p.DiscoverErr != nil {
		return p.DiscoverErr
	}
	if p.Auto {
		h.cb.OnDiscoveryComplete(!p.DiscoveryFails)
	}
	return nil
}

func (h *FakeHandle) Characteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	h.record("characteristic")
	p := h.snapshotProfile()
	if p.MissingService {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}
	if p.MissingCharacteristic {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return &FakeCharacteristic{Service: serviceUUID, Char: charUUID, Notify: !p.NoNotify}, nil
}

func (h *FakeHandle) EnableNotifications(c device.Characteristic) error {
	h.record("enable")
	return nil
}

func (h *FakeHandle) WriteDescriptor(c device.Characteristic, descriptorUUID string, value []byte) error {
	h.record("write:" + device.NormalizeUUID(descriptorUUID))
	p := h.snapshotProfile()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	if p.Auto {
		h.cb.OnDescriptorWriteComplete(c.UUID(), !p.DescriptorWriteFails)
	}
	return nil
}

func (h *FakeHandle) Disconnect() error {
	h.record("disconnect")
	p := h.snapshotProfile()
	if p.DisconnectErr != nil {
		return p.DisconnectErr
	}
	if p.Auto {
		h.cb.OnLinkStateChanged(false)
	}
	return nil
}

func (h *FakeHandle) Close() error {
	h.record("close")
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("fake handle already closed")
	}
	h.closed = true
	return nil
}

func (h *FakeHandle) completeLink() {
	h.cb.OnLinkStateChanged(!h.snapshotProfile().LinkFails)
}

// LinkUp reports an established link.
func (h *FakeHandle) LinkUp() { h.cb.OnLinkStateChanged(true) }

// LinkDown reports a lost link or a failed connect attempt.
func (h *FakeHandle) LinkDown() { h.cb.OnLinkStateChanged(false) }

// CompleteDiscovery reports the discovery outcome.
func (h *FakeHandle) CompleteDiscovery(success bool) { h.cb.OnDiscoveryComplete(success) }

// CompleteDescriptorWrite reports a descriptor write outcome for charUUID.
func (h *FakeHandle) CompleteDescriptorWrite(charUUID string, success bool) {
	h.cb.OnDescriptorWriteComplete(charUUID, success)
}

// Notify delivers a notification payload.
func (h *FakeHandle) Notify(charUUID string, data []byte) { h.cb.OnNotification(charUUID, data) }

var (
	_ device.Transport         = (*FakeTransport)(nil)
	_ device.Handle            = (*FakeHandle)(nil)
	_ device.LinkErrorReporter = (*FakeHandle)(nil)
	_ device.Characteristic    = (*FakeCharacteristic)(nil)
)
