// Package registry persists the root node's table of mesh members and the
// payloads they report.
package registry

import (
	"errors"
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

var ErrUnknownNode = errors.New("registry: unknown node")

// Node is one mesh member as known to the root.
type Node struct {
	UniqueID uint8
	Address  proto.Address
	// ReleaseTime is when Address last changed.
	ReleaseTime time.Time
	Name        string
	Type        uint8
	Topic       string
	LastPayload PayloadRecord
}

// Bound reports whether the node currently holds a tree address. Only the
// root lives at address 0, and it is never stored.
func (n Node) Bound() bool {
	return n.Address != proto.RootAddress
}

// PayloadRecord is one payload as stored, rendered to text by the caller.
type PayloadRecord struct {
	Type byte
	Text string
	At   time.Time
}

// Registry is the storage behind the root's node table. The mesh reads it
// once at startup and writes through on every address change.
type Registry interface {
	Nodes() ([]Node, error)
	Node(uniqueID uint8) (Node, bool, error)
	UpsertNode(Node) error
	DeleteNode(uniqueID uint8) error
	LatestPayload(uniqueID uint8) (PayloadRecord, bool, error)
	AppendPayload(uniqueID uint8, typeTag byte, text string, at time.Time) error
	NodeCount() (int, error)
	PayloadCount(uniqueID uint8) (int, error)
}
