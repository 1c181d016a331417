// Package goble implements device.Transport on top of github.com/go-ble/ble.
//
// go-ble exposes blocking calls (Dial, DiscoverProfile, Subscribe). Each handle
// primitive runs the blocking call on a named goroutine and reports the outcome
// through device.Callbacks, which is the contract the link machine expects.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/groutine"
)

// DefaultDialTimeout bounds a single connect attempt.
const DefaultDialTimeout = 30 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = defaultDevice

// Option configures a Transport.
type Option func(*Transport)

// WithDialTimeout bounds each connect attempt. Non-positive values keep the default.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

// Transport opens go-ble links. The underlying ble.Device is created lazily on the
// first Open and shared by every handle.
type Transport struct {
	logger      *logrus.Logger
	dialTimeout time.Duration

	mu      sync.Mutex
	dev     ble.Device
	handles map[*Handle]struct{}
	closed  bool

	routines groutine.Group
}

// NewTransport creates a go-ble transport.
func NewTransport(logger *logrus.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	t := &Transport{
		logger:      logger,
		dialTimeout: DefaultDialTimeout,
		handles:     make(map[*Handle]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open starts dialing address and returns immediately. The dial outcome is reported
// through cb.OnLinkStateChanged.
func (t *Transport) Open(address string, cb device.Callbacks) (device.Handle, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	if cb == nil {
		return nil, fmt.Errorf("callbacks are required")
	}

	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	h := &Handle{
		transport: t,
		dev:       dev,
		address:   address,
		cb:        cb,
		logger:    t.logger.WithField("address", address),
		notifying: make(map[string]bool),
		subs:      make(map[string]*ble.Characteristic),
	}

	t.mu.Lock()
	t.handles[h] = struct{}{}
	t.mu.Unlock()

	h.dial()
	return h, nil
}

// Close releases every open handle, waits for in-flight radio goroutines and stops
// the BLE device.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	dev := t.dev
	t.dev = nil
	handles := make([]*Handle, 0, len(t.handles))
	for h := range t.handles {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
	t.routines.Wait()

	if dev == nil {
		return nil
	}
	if err := dev.Stop(); err != nil {
		t.logger.WithError(err).Warn("Failed to stop BLE device")
		return NormalizeError(err)
	}
	t.logger.Debug("BLE device stopped")
	return nil
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, device.ErrClosed
	}
	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

func (t *Transport) forget(h *Handle) {
	t.mu.Lock()
	delete(t.handles, h)
	t.mu.Unlock()
}

func (t *Transport) goRadio(name string, fn func(ctx context.Context)) {
	t.routines.Go(context.Background(), name, fn)
}

var _ device.Transport = (*Transport)(nil)
