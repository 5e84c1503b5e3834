package network

import proto "github.com/ystepanoff/nrfmesh/protocol"

// Topology holds the masks derived from a node's own address. It decides
// whether another address lies in this node's subtree and which child
// leads there.
type Topology struct {
	Address        proto.Address
	Mask           uint16
	Parent         proto.Address
	ParentPipe     uint8
	MulticastLevel uint8
}

func NewTopology(addr proto.Address) Topology {
	check := uint16(0xFFFF)
	var level uint8
	for uint16(addr)&check != 0 {
		check <<= 3
		level++
	}
	mask := ^check
	parentMask := mask >> 3

	pipe := uint16(addr)
	for m := parentMask; m != 0; m >>= 3 {
		pipe >>= 3
	}

	return Topology{
		Address:        addr,
		Mask:           mask,
		Parent:         proto.Address(uint16(addr) & parentMask),
		ParentPipe:     uint8(pipe),
		MulticastLevel: level,
	}
}

func (t Topology) IsDescendant(node proto.Address) bool {
	return uint16(node)&t.Mask == uint16(t.Address)
}

func (t Topology) IsDirectChild(node proto.Address) bool {
	if !t.IsDescendant(node) {
		return false
	}
	childMask := ^t.Mask << 3
	return uint16(node)&childMask == 0
}

// DirectChildRouteTo returns the direct child of this node on the path to node.
func (t Topology) DirectChildRouteTo(node proto.Address) proto.Address {
	return proto.Address(uint16(node) & (t.Mask<<3 | 7))
}
