// Package nrfmesh provides a façade over the nRF24 mesh stack: the radio
// driver, the tree network and the mesh address service.
package nrfmesh

import (
	"github.com/ystepanoff/nrfmesh/mesh"
	"github.com/ystepanoff/nrfmesh/network"
	"github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/registry"
)

// The constructors are split into build-tag specific files:
// - constructors_rpi.go - for a Raspberry Pi with an nRF24 on spidev (//go:build rpi)
// - constructors_host.go - for development/testing on the simulated air (//go:build !rpi)

// Re-export types for convenience
type (
	Address      = protocol.Address
	Header       = protocol.Header
	Frame        = protocol.Frame
	Payload      = protocol.Payload
	RadioDriver  = network.RadioDriver
	Registry     = registry.Registry
	MeshNode     = registry.Node
	LookupResult = mesh.LookupResult
)

// Error constants exposed in the public API
var (
	ErrInvalidPayload       = protocol.ErrInvalidPayload
	ErrTimeout              = protocol.ErrTimeout
	ErrInvalidChannel       = protocol.ErrInvalidChannel
	ErrInvalidAddress       = protocol.ErrInvalidAddress
	ErrPayloadTooLarge      = protocol.ErrPayloadTooLarge
	ErrHardwareUnresponsive = protocol.ErrHardwareUnresponsive
	ErrNotAssigned          = protocol.ErrNotAssigned
	ErrUnknownNode          = registry.ErrUnknownNode
)

// Constants exposed in the public API
const (
	RootAddress      = protocol.RootAddress
	DefaultAddress   = protocol.DefaultAddress
	MulticastAddress = protocol.MulticastAddress
	DefaultChannel   = protocol.DefaultChannel

	TagBigSensor   = protocol.TagBigSensor
	TagSmallSensor = protocol.TagSmallSensor
	TagCommand     = protocol.TagCommand
)
