package mesh

import (
	"encoding/binary"
	"fmt"
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// LookupResult tells a found answer apart from a root that does not know
// the node and from a root that did not answer at all.
type LookupResult uint8

const (
	LookupFound LookupResult = iota
	LookupUnknown
	LookupTimeout
)

func (r LookupResult) String() string {
	switch r {
	case LookupFound:
		return "found"
	case LookupUnknown:
		return "unknown"
	case LookupTimeout:
		return "timeout"
	}
	return fmt.Sprintf("LookupResult(%d)", uint8(r))
}

// AddressForID resolves a node id to its current address. The root answers
// from its own table; other nodes ask the root.
func (m *Mesh) AddressForID(id uint8) (proto.Address, LookupResult, error) {
	if m.isRoot() || id == 0 {
		if addr, ok := m.lookupLocalAddress(id); ok {
			return addr, LookupFound, nil
		}
		return 0, LookupUnknown, nil
	}
	v, res, err := m.lookup(proto.TypeAddrLookup, []byte{id}, addrLookupWait)
	return proto.Address(v), res, err
}

// IDForAddress resolves an address to the id of the node holding it.
func (m *Mesh) IDForAddress(addr proto.Address) (uint8, LookupResult, error) {
	if m.isRoot() || addr == proto.RootAddress {
		if id, ok := m.lookupLocalID(addr); ok {
			return id, LookupFound, nil
		}
		return 0, LookupUnknown, nil
	}
	payload := binary.LittleEndian.AppendUint16(nil, uint16(addr))
	v, res, err := m.lookup(proto.TypeIDLookup, payload, idLookupWait)
	return uint8(v), res, err
}

func (m *Mesh) lookup(typ byte, payload []byte, wait time.Duration) (uint16, LookupResult, error) {
	if m.address == proto.DefaultAddress {
		return 0, LookupTimeout, nil
	}
	h := m.net.NewHeader(proto.RootAddress, typ)
	ok, err := m.net.Write(&h, payload)
	if err != nil {
		return 0, LookupTimeout, err
	}
	if !ok {
		return 0, LookupTimeout, nil
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		t, err := m.net.Update()
		if err != nil {
			return 0, LookupTimeout, err
		}
		if t == typ {
			f := m.net.LastFrame()
			if len(f.Payload) >= 2 {
				v := binary.LittleEndian.Uint16(f.Payload)
				if v == proto.MeshBlankID {
					return 0, LookupUnknown, nil
				}
				return v, LookupFound, nil
			}
		}
		time.Sleep(time.Millisecond)
	}
	m.log.Debug("lookup timed out", "type", proto.TypeName(typ))
	return 0, LookupTimeout, nil
}

// Write sends payload to the node with the given id, resolving its address
// through the root first. Lookups are retried with a growing delay until
// the lookup timeout unless the root reports the node as unknown.
func (m *Mesh) Write(payload []byte, typ byte, nodeID uint8) (bool, error) {
	if m.address == proto.DefaultAddress {
		return false, nil
	}

	start := time.Now()
	delay := 50 * time.Millisecond
	var to proto.Address
	for {
		addr, res, err := m.AddressForID(nodeID)
		if err != nil {
			return false, err
		}
		if res == LookupFound {
			to = addr
			break
		}
		if res == LookupUnknown || time.Since(start) > m.cfg.LookupTimeout {
			m.log.Debug("write target not resolved", "node", nodeID, "result", res)
			return false, nil
		}
		time.Sleep(delay)
		delay += 50 * time.Millisecond
	}
	return m.WriteTo(to, payload, typ)
}

// WriteTo sends payload to a known address.
func (m *Mesh) WriteTo(addr proto.Address, payload []byte, typ byte) (bool, error) {
	if m.address == proto.DefaultAddress {
		return false, nil
	}
	h := m.net.NewHeader(addr, typ)
	return m.net.Write(&h, payload)
}
