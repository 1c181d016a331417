package link

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/thermolink/internal/decoder"
	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/events"
)

// Option configures a Machine.
type Option func(*Machine)

// WithDecoder sets the decoder applied to notifications.
func WithDecoder(d *decoder.Decoder) Option {
	return func(m *Machine) {
		if d != nil {
			m.decoder = d
		}
	}
}

// WithHandshakeTimeout makes the machine disconnect when Subscribed is not reached
// within d after a connect. Zero disables the timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Machine) { m.handshakeTimeout = d }
}

// WithBus publishes events on an existing bus instead of a private one.
func WithBus(b *events.Bus) Option {
	return func(m *Machine) {
		if b != nil {
			m.bus = b
		}
	}
}

type request struct {
	in      Input
	session uint64 // zero for caller requests
	done    chan bool
}

// Machine serializes all link inputs and owns the transport handle.
//
// Connect, Disconnect and Close must not be called from transport callbacks.
type Machine struct {
	transport        device.Transport
	decoder          *decoder.Decoder
	bus              *events.Bus
	logger           *logrus.Logger
	handshakeTimeout time.Duration

	mu       sync.Mutex
	queue    []request
	draining bool
	lastErr  error

	// owned by the draining goroutine
	conn    Connection
	handle  device.Handle
	char    device.Characteristic
	session uint64
	timer   *time.Timer

	sessions atomic.Uint64
	snapshot atomic.Pointer[Connection]
}

// New creates a machine in the Disconnected state. A nil transport makes every
// Connect fail with device.ErrTransportUnavailable.
func New(transport device.Transport, logger *logrus.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Machine{
		transport: transport,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.decoder == nil {
		m.decoder = decoder.New()
	}
	if m.bus == nil {
		m.bus = events.NewBus(logger)
	}
	m.snapshot.Store(&Connection{})
	return m
}

// Connect starts a link to address. It returns false when the request is refused;
// otherwise the outcome is reported through events.
func (m *Machine) Connect(address string) bool {
	if m.transport == nil {
		m.logger.WithField("address", address).
			WithError(device.ErrTransportUnavailable).
			Warn("Connect refused")
		m.setLastError(device.ErrTransportUnavailable)
		return false
	}
	return m.submit(ConnectRequested{Address: address})
}

// Disconnect requests a best-effort teardown. Completion is reported as LinkDisconnected.
func (m *Machine) Disconnect() {
	m.enqueue(request{in: DisconnectRequested{}})
}

// Close releases the transport handle synchronously without emitting events.
// It is idempotent; the machine may be connected again afterwards.
func (m *Machine) Close() {
	m.submit(CloseRequested{})
}

// LastError returns why the most recent link attempt failed: a refused open or
// reconnect, the transport's cause for a link that never came up, or an expired
// handshake. It is nil while an attempt is in progress or after it succeeded.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Machine) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Subscribe registers an event observer.
func (m *Machine) Subscribe(buffer int) *events.Subscription {
	return m.bus.Subscribe(buffer)
}

// Snapshot returns the latest published connection.
func (m *Machine) Snapshot() Connection {
	return *m.snapshot.Load()
}

func (m *Machine) CurrentState() State {
	return m.Snapshot().State
}

// PeerAddress returns the address of the current peer, if any.
func (m *Machine) PeerAddress() (string, bool) {
	addr := m.Snapshot().PeerAddress
	return addr, addr != ""
}

// PeerName returns the peer display name once the link is up.
func (m *Machine) PeerName() string {
	return m.Snapshot().PeerName
}

func (m *Machine) submit(in Input) bool {
	done := make(chan bool, 1)
	m.enqueue(request{in: in, done: done})
	return <-done
}

// enqueue appends a request. The caller drains the queue unless another goroutine
// already does, so inputs raised while a request is being processed are never
// applied recursively.
func (m *Machine) enqueue(req request) {
	m.mu.Lock()
	m.queue = append(m.queue, req)
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue[0] = request{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		ok := m.process(next)
		if next.done != nil {
			next.done <- ok
		}
	}
}

func (m *Machine) process(req request) bool {
	if req.session != 0 && req.session != m.session {
		m.logger.WithFields(logrus.Fields{
			"input":   req.in.inputName(),
			"session": req.session,
			"live":    m.session,
		}).Debug("Ignoring completion from stale session")
		return false
	}

	in := req.in
	switch v := in.(type) {
	case ConnectRequested:
		v.Reusable = m.handle != nil && m.handle.Reusable()
		in = v
	case LinkUp:
		if m.handle != nil {
			v.Name = m.handle.Name()
		}
		in = v
	}
	return m.apply(in)
}

func (m *Machine) apply(in Input) bool {
	prev := m.conn
	t := Step(prev, in)
	m.conn = t.Next
	snap := t.Next
	m.snapshot.Store(&snap)

	m.logTransition(in, prev, t)
	m.recordFailure(in, prev, t)

	if t.Next.State == Subscribed && prev.State != Subscribed {
		m.stopHandshakeTimer()
	}

	for _, ev := range t.Events {
		m.bus.Publish(ev)
	}

	ok := !t.Rejected
	for _, cmd := range t.Commands {
		if follow := m.execute(cmd); follow != nil {
			ok = m.apply(follow) && ok
		}
	}
	return ok
}

// recordFailure keeps the cause of a failed attempt for LastError.
func (m *Machine) recordFailure(in Input, prev Connection, t Transition) {
	switch in := in.(type) {
	case OpenFailed:
		if t.Failure != NoFailure {
			m.setLastError(in.Err)
		}
	case ReconnectFailed:
		m.setLastError(in.Err)
	case LinkDown:
		if prev.State != Connecting || t.Failure == NoFailure {
			return
		}
		cause := error(device.ErrNotConnected)
		if r, ok := m.handle.(device.LinkErrorReporter); ok && r.LastError() != nil {
			cause = r.LastError()
		}
		m.setLastError(cause)
	case HandshakeExpired:
		if t.Failure != NoFailure {
			m.setLastError(fmt.Errorf("%w: not streaming within %s", device.ErrTimeout, m.handshakeTimeout))
		}
	}
}

// execute runs a command against the transport. A synchronous failure is returned
// as the input that the matching failed completion would have produced.
func (m *Machine) execute(cmd Command) Input {
	log := m.logger.WithField("command", cmd.Kind.String())

	if cmd.Kind == CmdOpen {
		m.session = m.sessions.Add(1)
		h, err := m.transport.Open(cmd.Address, &session{m: m, id: m.session})
		if err != nil {
			log.WithError(err).WithField("address", cmd.Address).Warn("Transport refused to open link")
			m.session = 0
			return OpenFailed{Err: err}
		}
		m.handle = h
		m.setLastError(nil)
		m.startHandshakeTimer()
		return nil
	}

	if m.handle == nil {
		log.Debug("No live handle, command skipped")
		return nil
	}

	switch cmd.Kind {
	case CmdReconnect:
		if err := m.handle.Reconnect(); err != nil {
			log.WithError(err).Warn("Transport refused to reconnect")
			return ReconnectFailed{Err: err}
		}
		m.setLastError(nil)
		m.startHandshakeTimer()

	case CmdDiscover:
		if err := m.handle.DiscoverServices(); err != nil {
			log.WithError(err).Warn("Service discovery could not be started")
			return DiscoveryCompleted{Success: false}
		}

	case CmdLocate:
		c, err := m.handle.Characteristic(device.TemperatureServiceUUID, device.TemperatureCharUUID)
		if err != nil {
			log.WithError(err).Info("Temperature characteristic not available")
			return CharacteristicLookup{Err: err}
		}
		m.char = c
		return CharacteristicLookup{Found: true}

	case CmdSubscribe:
		return m.subscribe(log)

	case CmdDisconnect:
		if err := m.handle.Disconnect(); err != nil {
			log.WithError(err).Warn("Disconnect request failed, tearing down locally")
			return LinkDown{}
		}

	case CmdRelease:
		m.release()
	}
	return nil
}

func (m *Machine) subscribe(log *logrus.Entry) Input {
	c := m.char
	failed := DescriptorWritten{CharUUID: device.TemperatureCharUUID, Success: false}
	if c == nil {
		return failed
	}
	failed.CharUUID = c.UUID()

	if !c.CanNotify() {
		log.WithField("characteristic", c.UUID()).Warn("Characteristic does not support notifications")
		return failed
	}
	if err := m.handle.EnableNotifications(c); err != nil {
		log.WithError(err).Warn("Failed to enable local notifications")
		return failed
	}
	if err := m.handle.WriteDescriptor(c, device.ClientConfigDescriptorUUID, device.EnableNotificationValue); err != nil {
		log.WithError(err).Warn("Failed to write client configuration descriptor")
		return failed
	}
	return nil
}

func (m *Machine) release() {
	m.stopHandshakeTimer()
	h := m.handle
	m.handle = nil
	m.char = nil
	m.session = 0
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		m.logger.WithError(err).WithField("address", h.Address()).Debug("Handle close reported an error")
	}
}

func (m *Machine) startHandshakeTimer() {
	if m.handshakeTimeout <= 0 {
		return
	}
	m.stopHandshakeTimer()
	id := m.session
	m.timer = time.AfterFunc(m.handshakeTimeout, func() {
		m.enqueue(request{in: HandshakeExpired{}, session: id})
	})
}

func (m *Machine) stopHandshakeTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) logTransition(in Input, prev Connection, t Transition) {
	fields := logrus.Fields{
		"input": in.inputName(),
		"from":  prev.State.String(),
		"to":    t.Next.State.String(),
	}
	if prev.PeerAddress != "" {
		fields["address"] = prev.PeerAddress
	}

	if n, ok := in.(NotificationReceived); ok && !device.IsTemperatureCharacteristic(n.CharUUID) {
		fields["characteristic"] = n.CharUUID
		m.logger.WithFields(fields).Debug("Ignoring notification from another characteristic")
		return
	}

	switch {
	case t.Failure == DecodeFailure:
		m.logger.WithFields(fields).Debug("Discarding undecodable notification")
	case t.Failure != NoFailure:
		fields["failure"] = t.Failure.String()
		m.logger.WithFields(fields).Warn("Link step failed")
	case t.Rejected:
		m.logger.WithFields(fields).Warn("Connect request rejected")
	case prev.State != t.Next.State:
		m.logger.WithFields(fields).Info("Link state changed")
	default:
		if m.logger.IsLevelEnabled(logrus.TraceLevel) {
			m.logger.WithFields(fields).Trace("Link input processed")
		}
	}
}

// session adapts transport callbacks of one opened handle into queued inputs.
type session struct {
	m  *Machine
	id uint64
}

func (s *session) OnLinkStateChanged(connected bool) {
	var in Input = LinkDown{}
	if connected {
		in = LinkUp{}
	}
	s.m.enqueue(request{in: in, session: s.id})
}

func (s *session) OnDiscoveryComplete(success bool) {
	s.m.enqueue(request{in: DiscoveryCompleted{Success: success}, session: s.id})
}

func (s *session) OnDescriptorWriteComplete(charUUID string, success bool) {
	s.m.enqueue(request{in: DescriptorWritten{CharUUID: charUUID, Success: success}, session: s.id})
}

func (s *session) OnNotification(charUUID string, data []byte) {
	r, ok := s.m.decoder.Decode(charUUID, data)
	s.m.enqueue(request{in: NotificationReceived{CharUUID: charUUID, Reading: r, Decoded: ok}, session: s.id})
}

var _ device.Callbacks = (*session)(nil)
