// Package events carries the link's observable events and the explicit observer
// registration they are published through.
package events

import "time"

// Event is a state-change or data notification emitted by the link.
type Event interface {
	// Kind returns a stable, machine-readable event name.
	Kind() string
}

// Event kinds
const (
	KindLinkConnected      = "link_connected"
	KindLinkDisconnected   = "link_disconnected"
	KindServicesReady      = "services_ready"
	KindStreamOnline       = "stream_online"
	KindServiceUnsupported = "service_unsupported"
	KindReading            = "reading"
)

// LinkConnected is emitted when the transport reports the link up.
type LinkConnected struct {
	PeerID string // peer address
	Name   string // peer display name, may be empty
}

// LinkDisconnected is emitted once per teardown, whatever initiated it.
type LinkDisconnected struct{}

// ServicesReady is emitted when service discovery completes successfully.
type ServicesReady struct{}

// StreamOnline is emitted when the peer accepted the notification subscription.
type StreamOnline struct{}

// ServiceUnsupported is emitted when discovery succeeded but the temperature
// service or characteristic is absent.
type ServiceUnsupported struct {
	ServiceUUID string
	CharUUID    string
}

// Reading is one decoded temperature notification.
type Reading struct {
	Timestamp time.Time
	Value     float64
}

func (LinkConnected) Kind() string      { return KindLinkConnected }
func (LinkDisconnected) Kind() string   { return KindLinkDisconnected }
func (ServicesReady) Kind() string      { return KindServicesReady }
func (StreamOnline) Kind() string       { return KindStreamOnline }
func (ServiceUnsupported) Kind() string { return KindServiceUnsupported }
func (Reading) Kind() string            { return KindReading }
