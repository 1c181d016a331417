// Package device defines the transport contract between the temperature link and a
// platform Bluetooth Low Energy stack.
//
// The contract is deliberately asynchronous: every Handle primitive returns as soon as
// the operation is issued and reports completion exactly once through Callbacks:
//   - Transport.Open / Handle.Reconnect / Handle.Disconnect → OnLinkStateChanged
//   - Handle.DiscoverServices → OnDiscoveryComplete
//   - Handle.WriteDescriptor → OnDescriptorWriteComplete
//   - peer-pushed values after subscription → OnNotification
//
// The package also carries the fixed Health Thermometer identifiers, UUID
// normalization helpers, and the structured error types shared by transports.
package device
