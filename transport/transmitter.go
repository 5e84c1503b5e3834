package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ystepanoff/nrfmesh/mesh"
	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// Transmitter encapsulates the outbound side of a sensor node. Like the
// mesh it drives, it must be used from the node's own goroutine.
type Transmitter struct {
	mesh *mesh.Mesh
	log  *slog.Logger

	// RenewalTimeout bounds each address renewal after a lost connection.
	RenewalTimeout time.Duration
}

func NewTransmitter(m *mesh.Mesh, logger *slog.Logger) *Transmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transmitter{
		mesh:           m,
		log:            logger.With("component", "transmitter"),
		RenewalTimeout: proto.MeshRenewalTimeout * time.Millisecond,
	}
}

// SendData sends payload to the root.
func (t *Transmitter) SendData(typ byte, payload []byte) (bool, error) {
	return t.SendTo(proto.RootAddress, typ, payload)
}

// SendPayload encodes p and sends it to the root under its own tag.
func (t *Transmitter) SendPayload(p proto.Payload) (bool, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return false, err
	}
	return t.SendData(p.Tag(), b)
}

// SendTo sends payload to a known address.
func (t *Transmitter) SendTo(to proto.Address, typ byte, payload []byte) (bool, error) {
	if t.mesh.State() != mesh.StateAssigned {
		return false, proto.ErrNotAssigned
	}
	if len(payload) > proto.MaxPayloadSize {
		return false, proto.ErrInvalidPayload
	}
	return t.mesh.WriteTo(to, payload, typ)
}

// SendHeartbeat checks the path to the root and renews the address if it
// is broken. It reports whether the node is connected afterwards.
func (t *Transmitter) SendHeartbeat() (bool, error) {
	if t.mesh.State() == mesh.StateAssigned {
		ok, err := t.mesh.CheckConnection()
		if err != nil || ok {
			return ok, err
		}
	}
	t.log.Info("connection lost, renewing address", "address", t.mesh.Address())
	return t.mesh.RenewAddress(t.RenewalTimeout)
}

// SendDataReliable sends payload to the node with the given id, retrying
// up to maxRetries times. After a failed attempt the connection is checked
// and the address renewed before backing off.
func (t *Transmitter) SendDataReliable(nodeID uint8, typ byte, payload []byte, maxRetries int) error {
	if len(payload) > proto.MaxPayloadSize {
		return proto.ErrInvalidPayload
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if t.mesh.State() == mesh.StateAssigned {
			ok, err := t.mesh.Write(payload, typ, nodeID)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		t.log.Debug("send failed", "node", nodeID, "attempt", attempt+1)

		if attempt < maxRetries-1 {
			if _, err := t.SendHeartbeat(); err != nil {
				return err
			}
			time.Sleep(time.Duration(20+attempt*10) * time.Millisecond)
		}
	}
	return fmt.Errorf("transport: send to node %d: %w", nodeID, proto.ErrTimeout)
}
