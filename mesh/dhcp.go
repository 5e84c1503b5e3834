package mesh

import (
	"encoding/binary"
	"fmt"
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/registry"
)

// DHCP serves the address request saved by the last Update, if any. It is
// a no-op everywhere but the root. A granted address is only bound once
// the requester confirms it from that address.
func (m *Mesh) DHCP() error {
	if !m.dhcpPending {
		return nil
	}
	m.dhcpPending = false
	if !m.isRoot() {
		return nil
	}

	req := m.request
	id := req.Reserved
	if id == 0 {
		m.log.Debug("address request without node id", "from", req.From)
		return nil
	}

	fwdBy, direct := req.From, false
	if fwdBy == proto.DefaultAddress {
		fwdBy, direct = proto.RootAddress, true
	}

	addr, ok := allocate(m.Nodes(), fwdBy, direct, id, m.cfg.MaxChildren)
	if !ok {
		m.log.Warn("no free address", "node", id, "parent", fwdBy)
		return nil
	}

	h := proto.Header{To: fwdBy, Type: proto.TypeAddrResponse, Reserved: id}
	payload := binary.LittleEndian.AppendUint16(nil, uint16(addr))
	var err error
	if direct {
		h.To = proto.DefaultAddress
		_, err = m.net.WriteDirect(&h, payload, proto.DefaultAddress)
	} else {
		_, err = m.net.Write(&h, payload)
	}
	if err != nil {
		return fmt.Errorf("mesh: address response: %w", err)
	}
	m.log.Debug("address offered", "node", id, "address", addr, "parent", fwdBy)

	deadline := time.Now().Add(m.net.RouteTimeout())
	for time.Now().Before(deadline) {
		typ, err := m.net.Update()
		if err != nil {
			return err
		}
		if typ == proto.TypeAddrConfirm && m.net.LastFrame().From == addr {
			if err := m.bind(id, addr); err != nil {
				return err
			}
			m.log.Info("address bound", "node", id, "address", addr)
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	m.log.Debug("address not confirmed", "node", id, "address", addr)
	return nil
}

// allocate picks the first free child slot under fwdBy for node id. Slots
// held by other nodes are skipped; a slot already held by id is reused.
// The root has one extra slot for nodes that asked it directly.
func allocate(nodes []registry.Node, fwdBy proto.Address, direct bool, id uint8, maxChildren int) (proto.Address, bool) {
	depth := fwdBy.Depth()
	if depth >= 5 {
		return 0, false
	}
	slots := maxChildren
	if direct {
		slots++
	}
	if slots > 5 {
		slots = 5
	}

	for i := 1; i <= slots; i++ {
		cand := fwdBy | proto.Address(i)<<(3*depth)
		if cand == proto.RootAddress || cand == proto.DefaultAddress {
			continue
		}
		taken := false
		for _, n := range nodes {
			if n.Address == cand && n.UniqueID != id {
				taken = true
				break
			}
		}
		if !taken {
			return cand, true
		}
	}
	return 0, false
}
