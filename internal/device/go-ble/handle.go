package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/thermolink/internal/device"
)

// Handle is one go-ble link. Every field below mu is guarded by it.
type Handle struct {
	transport *Transport
	dev       ble.Device
	address   string
	cb        device.Callbacks
	logger    *logrus.Entry

	mu         sync.Mutex
	client     ble.Client
	profile    *ble.Profile
	gen        uint64 // bumped on every dial attempt
	dialing    bool
	linkUp     bool
	closed     bool
	cancelDial context.CancelFunc
	lastErr    error // cause of the last failed dial
	stopWatch  chan struct{}
	notifying  map[string]bool
	subs       map[string]*ble.Characteristic
}

// characteristic wraps a discovered go-ble characteristic.
type characteristic struct {
	service string
	char    *ble.Characteristic
}

func (c *characteristic) UUID() string        { return device.NormalizeUUID(c.char.UUID.String()) }
func (c *characteristic) ServiceUUID() string { return c.service }
func (c *characteristic) CanNotify() bool {
	return c.char.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

func (h *Handle) Address() string { return h.address }

// Name returns the peripheral name reported by go-ble once the link is up.
func (h *Handle) Name() string {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return ""
	}
	return client.Name()
}

// LastError returns the normalized cause of the last failed dial.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Reusable reports whether Reconnect can restart dialing on this handle.
func (h *Handle) Reusable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Reconnect restarts the dial unless the link is already up.
func (h *Handle) Reconnect() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return device.ErrClosed
	}
	if h.linkUp {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.logger.Debug("Restarting dial on existing handle")
	h.dial()
	return nil
}

func (h *Handle) dial() {
	h.mu.Lock()
	if h.cancelDial != nil {
		h.cancelDial()
	}
	h.gen++
	gen := h.gen
	ctx, cancel := context.WithTimeout(context.Background(), h.transport.dialTimeout)
	h.cancelDial = cancel
	h.dialing = true
	h.mu.Unlock()

	h.logger.WithField("timeout", h.transport.dialTimeout).Info("Connecting to BLE device...")

	h.transport.goRadio("ble-dial", func(context.Context) {
		defer cancel()
		client, err := h.dev.Dial(ctx, ble.NewAddr(h.address))

		h.mu.Lock()
		if h.closed || gen != h.gen {
			h.mu.Unlock()
			if client != nil {
				_ = client.CancelConnection()
			}
			return
		}
		h.dialing = false
		if err == nil && ctx.Err() != nil {
			// the connection completed as the dial was cancelled
			h.mu.Unlock()
			h.logger.Info("Dial cancelled after the link came up, dropping connection")
			if cerr := NormalizeError(client.CancelConnection()); cerr != nil {
				h.logger.WithError(cerr).Debug("Cancel connection after cancelled dial failed")
			}
			h.cb.OnLinkStateChanged(false)
			return
		}
		if err != nil {
			h.lastErr = NormalizeError(err)
			h.mu.Unlock()
			h.logger.WithError(h.lastErr).Warn("Failed to dial BLE device")
			h.cb.OnLinkStateChanged(false)
			return
		}
		h.client = client
		h.linkUp = true
		h.lastErr = nil
		h.mu.Unlock()

		h.logger.Info("BLE device connected")
		h.monitor(client, gen)
		h.cb.OnLinkStateChanged(true)
	})
}

// monitor reports link loss when the client exposes a Disconnected channel.
func (h *Handle) monitor(client ble.Client, gen uint64) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		h.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	ch := dc.Disconnected()
	if ch == nil {
		return
	}
	stop := make(chan struct{})
	h.mu.Lock()
	if h.closed || gen != h.gen || !h.linkUp {
		h.mu.Unlock()
		return
	}
	h.stopWatching()
	h.stopWatch = stop
	h.mu.Unlock()

	h.transport.goRadio("ble-link-monitor", func(context.Context) {
		select {
		case <-ch:
			h.logger.Warn("Peripheral reported disconnection")
			h.linkLost(gen)
		case <-stop:
		}
	})
}

// linkLost reports a link-down once per dial generation.
func (h *Handle) linkLost(gen uint64) {
	h.mu.Lock()
	if h.closed || gen != h.gen || !h.linkUp {
		h.mu.Unlock()
		return
	}
	h.linkUp = false
	h.client = nil
	h.profile = nil
	h.subs = make(map[string]*ble.Characteristic)
	h.stopWatching()
	h.mu.Unlock()

	h.cb.OnLinkStateChanged(false)
}

// stopWatching ends the link monitor. Caller holds mu.
func (h *Handle) stopWatching() {
	if h.stopWatch != nil {
		close(h.stopWatch)
		h.stopWatch = nil
	}
}

// connected returns the live client and generation or device.ErrNotConnected.
func (h *Handle) connected() (ble.Client, uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, 0, device.ErrClosed
	}
	if h.client == nil || !h.linkUp {
		return nil, 0, device.ErrNotConnected
	}
	return h.client, h.gen, nil
}

// live reports whether a completion of generation gen may still be delivered.
func (h *Handle) live(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed && gen == h.gen
}

func (h *Handle) DiscoverServices() error {
	client, gen, err := h.connected()
	if err != nil {
		return err
	}

	h.transport.goRadio("ble-discover", func(context.Context) {
		h.logger.Debug("Discovering services and characteristics...")
		profile, err := client.DiscoverProfile(true)
		if err != nil {
			h.logger.WithError(NormalizeError(err)).Error("Failed to discover profile")
		} else {
			h.logger.WithField("services", len(profile.Services)).Debug("Profile discovered successfully")
		}

		h.mu.Lock()
		if h.closed || gen != h.gen {
			h.mu.Unlock()
			return
		}
		if err == nil {
			h.profile = profile
		}
		h.mu.Unlock()

		h.cb.OnDiscoveryComplete(err == nil && profile != nil)
	})
	return nil
}

// Characteristic looks up a discovered characteristic by normalized UUIDs.
func (h *Handle) Characteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	h.mu.Lock()
	profile := h.profile
	h.mu.Unlock()
	if profile == nil {
		return nil, device.ErrNotConnected
	}

	for _, svc := range profile.Services {
		if !device.SameUUID(svc.UUID.String(), serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if device.SameUUID(c.UUID.String(), charUUID) {
				return &characteristic{service: device.NormalizeUUID(serviceUUID), char: c}, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

// EnableNotifications turns on local delivery for c. The remote side is enabled by
// writing the client configuration descriptor.
func (h *Handle) EnableNotifications(c device.Characteristic) error {
	bc, ok := c.(*characteristic)
	if !ok {
		return device.ErrUnsupported
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return device.ErrClosed
	}
	h.notifying[bc.UUID()] = true
	return nil
}

// WriteDescriptor writes value to a descriptor of c. Writes to the client
// configuration descriptor go through go-ble Subscribe/Unsubscribe, which own the
// CCCD on every platform.
func (h *Handle) WriteDescriptor(c device.Characteristic, descriptorUUID string, value []byte) error {
	bc, ok := c.(*characteristic)
	if !ok {
		return device.ErrUnsupported
	}
	client, gen, err := h.connected()
	if err != nil {
		return err
	}
	uuid := bc.UUID()

	if device.SameUUID(descriptorUUID, device.ClientConfigDescriptorUUID) {
		enable := len(value) > 0 && value[0]&0x03 != 0
		indicate := len(value) > 0 && value[0]&0x01 == 0 && value[0]&0x02 != 0

		h.transport.goRadio("ble-cccd-write", func(context.Context) {
			var err error
			if enable {
				err = client.Subscribe(bc.char, indicate, func(data []byte) {
					h.deliver(gen, uuid, data)
				})
			} else {
				err = client.Unsubscribe(bc.char, indicate)
			}
			err = NormalizeError(err)
			h.logWrite(uuid, descriptorUUID, err)

			h.mu.Lock()
			if h.closed || gen != h.gen {
				h.mu.Unlock()
				return
			}
			if err == nil && enable {
				h.subs[uuid] = bc.char
			}
			h.mu.Unlock()

			h.cb.OnDescriptorWriteComplete(uuid, err == nil)
		})
		return nil
	}

	var target *ble.Descriptor
	for _, d := range bc.char.Descriptors {
		if device.SameUUID(d.UUID.String(), descriptorUUID) {
			target = d
			break
		}
	}
	if target == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{uuid, descriptorUUID}}
	}

	h.transport.goRadio("ble-descriptor-write", func(context.Context) {
		err := NormalizeError(client.WriteDescriptor(target, value))
		h.logWrite(uuid, descriptorUUID, err)
		if !h.live(gen) {
			return
		}
		h.cb.OnDescriptorWriteComplete(uuid, err == nil)
	})
	return nil
}

func (h *Handle) logWrite(charUUID, descriptorUUID string, err error) {
	log := h.logger.WithFields(logrus.Fields{
		"char_uuid":       charUUID,
		"descriptor_uuid": device.NormalizeUUID(descriptorUUID),
	})
	if err != nil {
		log.WithError(err).Warn("Descriptor write failed")
		return
	}
	log.Debug("Descriptor written")
}

func (h *Handle) deliver(gen uint64, charUUID string, data []byte) {
	h.mu.Lock()
	if h.closed || gen != h.gen || !h.notifying[charUUID] {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	payload := make([]byte, len(data))
	copy(payload, data)
	h.cb.OnNotification(charUUID, payload)
}

// Disconnect cancels an in-flight dial or drops the live link. The confirmation is
// OnLinkStateChanged(false).
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return device.ErrClosed
	}
	gen := h.gen
	client := h.client
	dialing := h.dialing
	cancel := h.cancelDial
	h.mu.Unlock()

	switch {
	case dialing:
		// the dial goroutine reports the link down once its context is cancelled
		h.logger.Debug("Cancelling in-flight dial")
		cancel()
	case client != nil:
		h.logger.Info("Disconnecting BLE device...")
		h.transport.goRadio("ble-disconnect", func(context.Context) {
			if err := NormalizeError(client.CancelConnection()); err != nil {
				h.logger.WithError(err).Warn("BLE device disconnected with errors")
			}
			h.linkLost(gen)
		})
	default:
		h.transport.goRadio("ble-disconnect", func(context.Context) {
			if h.live(gen) {
				h.cb.OnLinkStateChanged(false)
			}
		})
	}
	return nil
}

// Close releases the handle. No callbacks are delivered afterwards; the radio
// teardown itself finishes in the background.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	client := h.client
	subs := h.subs
	cancel := h.cancelDial
	h.client = nil
	h.profile = nil
	h.subs = nil
	h.notifying = map[string]bool{}
	h.linkUp = false
	h.stopWatching()
	h.mu.Unlock()

	h.transport.forget(h)
	if cancel != nil {
		cancel()
	}
	if client == nil {
		return nil
	}

	h.transport.goRadio("ble-release", func(context.Context) {
		for uuid, c := range subs {
			h.tryUnsubscribe(client, c, uuid)
		}
		if err := NormalizeError(client.CancelConnection()); err != nil {
			h.logger.WithError(err).Debug("Cancel connection during release failed")
		}
		h.logger.Debug("BLE handle released")
	})
	return nil
}

// tryUnsubscribe attempts both notify and indicate modes and logs only when both fail.
func (h *Handle) tryUnsubscribe(client ble.Client, c *ble.Characteristic, uuid string) {
	err1 := NormalizeError(client.Unsubscribe(c, false))
	err2 := NormalizeError(client.Unsubscribe(c, true))
	if err1 != nil && err2 != nil {
		h.logger.WithFields(logrus.Fields{
			"char_uuid":   uuid,
			"notifyErr":   err1,
			"indicateErr": err2,
		}).Debug("Failed to unsubscribe from characteristic notifications")
	}
}

var (
	_ device.Handle            = (*Handle)(nil)
	_ device.LinkErrorReporter = (*Handle)(nil)
	_ device.Characteristic    = (*characteristic)(nil)
)
