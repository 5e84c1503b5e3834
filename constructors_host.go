//go:build !rpi

// This file is built only for hosts without radio hardware.
package nrfmesh

import "github.com/ystepanoff/nrfmesh/driver/stub"

// hostAir is shared by every node built in this process. Nodes in
// separate processes, such as the gateway and sensor programs run on their
// own, each get their own air and never hear each other.
var hostAir = stub.NewAir(nil)

// NewNode builds a node on the process-wide simulated air.
func NewNode(cfg Config) (*Node, error) {
	return NewStubNode(hostAir, cfg), nil
}

// NewStubNode builds a node on the given simulated air.
func NewStubNode(air *stub.Air, cfg Config) *Node {
	return newNode(air.NewRadio(), nil, cfg)
}
