// Package transport sits between the mesh and the application: a Receiver
// dispatches incoming frames to per-type callbacks and a Transmitter sends
// application payloads, renewing the node's address when its parent is gone.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ystepanoff/nrfmesh/mesh"
	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// AnyType registers a callback for every frame type without its own.
const AnyType byte = 0

// Receiver encapsulates the inbound side of a node.
type Receiver struct {
	mesh *mesh.Mesh
	log  *slog.Logger

	// Record stores every decoded application payload in the mesh registry,
	// keyed by the sender's node id. Only the root knows those ids locally.
	Record bool

	mu        sync.Mutex
	callbacks map[byte]func(*proto.Frame)
	lastSeen  map[proto.Address]time.Time
}

func NewReceiver(m *mesh.Mesh, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		mesh:      m,
		log:       logger.With("component", "receiver"),
		callbacks: make(map[byte]func(*proto.Frame)),
		lastSeen:  make(map[proto.Address]time.Time),
	}
}

func (r *Receiver) RegisterCallback(typ byte, cb func(*proto.Frame)) {
	r.mu.Lock()
	r.callbacks[typ] = cb
	r.mu.Unlock()
}

// Handle is ProcessFrame in the shape of a run loop handler.
func (r *Receiver) Handle(f proto.Frame) { r.ProcessFrame(&f) }

func (r *Receiver) ProcessFrame(frame *proto.Frame) {
	if frame == nil {
		return
	}

	r.mu.Lock()
	r.lastSeen[frame.From] = time.Now()
	cb, ok := r.callbacks[frame.Type]
	if !ok {
		cb = r.callbacks[AnyType]
	}
	r.mu.Unlock()

	r.log.Debug("frame received", "from", frame.From, "type", frame.Type, "size", len(frame.Payload))
	if r.Record {
		r.record(frame)
	}
	if cb != nil {
		cb(frame)
	}
}

func (r *Receiver) record(frame *proto.Frame) {
	id, res, err := r.mesh.IDForAddress(frame.From)
	if err != nil || res != mesh.LookupFound {
		r.log.Debug("payload from unknown node", "from", frame.From, "result", res, "err", err)
		return
	}
	p, err := proto.DecodePayload(frame.Type, frame.Payload)
	if err != nil {
		r.log.Warn("undecodable payload", "from", frame.From, "type", frame.Type, "err", err)
		return
	}
	text, err := json.Marshal(p)
	if err != nil {
		r.log.Warn("payload not encodable", "node", id, "err", err)
		return
	}
	if err := r.mesh.RecordPayload(id, frame.Type, string(text)); err != nil {
		r.log.Warn("payload not stored", "node", id, "err", err)
	}
}

// LastSeen reports when a frame from addr was last processed.
func (r *Receiver) LastSeen(addr proto.Address) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastSeen[addr]
	return t, ok
}

// CleanupStale forgets senders silent for longer than maxAge and returns
// their addresses.
func (r *Receiver) CleanupStale(maxAge time.Duration) []proto.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []proto.Address
	now := time.Now()
	for addr, seen := range r.lastSeen {
		if now.Sub(seen) > maxAge {
			r.log.Info("node went silent", "address", addr, "last_seen", seen)
			delete(r.lastSeen, addr)
			stale = append(stale, addr)
		}
	}
	return stale
}
