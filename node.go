package nrfmesh

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ystepanoff/nrfmesh/mesh"
	"github.com/ystepanoff/nrfmesh/network"
	"github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/registry"
)

// PollInterval is the pause between two cycles of Node.Run.
const PollInterval = 2 * time.Millisecond

// Config describes one node. Hardware fields are ignored by host builds.
type Config struct {
	// NodeID is the mesh unique id; 0 makes the node the root.
	NodeID   uint8
	Channel  uint8
	DataRate protocol.DataRate
	// Registry persists the root's node table. Nil keeps it in memory.
	Registry registry.Registry
	Logger   *slog.Logger

	SPIDevice string
	CEPin     int
}

// Handler receives every frame a node's Run loop takes off the queues.
type Handler func(Frame)

// Node bundles the three layers of one mesh participant.
type Node struct {
	Radio   network.RadioDriver
	Network *network.Network
	Mesh    *mesh.Mesh

	closer io.Closer
}

func newNode(radio network.RadioDriver, closer io.Closer, cfg Config) *Node {
	net := network.New(radio, network.Config{Logger: cfg.Logger})
	m := mesh.New(net, cfg.Registry, mesh.Config{
		NodeID:   cfg.NodeID,
		Channel:  cfg.Channel,
		DataRate: cfg.DataRate,
		Logger:   cfg.Logger,
	})
	return &Node{Radio: radio, Network: net, Mesh: m, closer: closer}
}

// Begin starts the radio and joins the mesh, or takes the root address.
func (n *Node) Begin() (bool, error) { return n.Mesh.Begin() }

// Run drives the node until ctx is done: it pumps the mesh, serves address
// requests on the root and hands every queued frame to h. It must be the
// only goroutine using the node's Mesh and Network.
func (n *Node) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := n.Mesh.Update(); err != nil {
			return err
		}
		if err := n.Mesh.DHCP(); err != nil {
			return err
		}
		for {
			f, ok := n.Network.ReadFrame()
			if !ok {
				break
			}
			if h != nil {
				h(f)
			}
		}
		for {
			f, ok := n.Network.ReadExternal()
			if !ok {
				break
			}
			if h != nil {
				h(f)
			}
		}
		time.Sleep(PollInterval)
	}
}

// Close releases the hardware bus, if any.
func (n *Node) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer.Close()
}
