package protocol

import "fmt"

// Address is a logical tree address. Each octal digit (0-5) selects a child
// slot at one tree level, least significant digit first; 0 is the root.
type Address uint16

const (
	RootAddress      Address = 0
	MulticastAddress Address = 0o100
	// DefaultAddress is held by nodes that have not been assigned an address yet.
	DefaultAddress Address = 0o4444
)

// Valid reports whether every octal digit of a is in the range 0-5.
func (a Address) Valid() bool {
	for v := uint16(a); v != 0; v >>= 3 {
		if v&7 > 5 {
			return false
		}
	}
	return true
}

// Depth returns the number of octal digits in a, i.e. its tree level.
func (a Address) Depth() int {
	d := 0
	for v := uint16(a); v != 0; v >>= 3 {
		d++
	}
	return d
}

func (a Address) String() string { return fmt.Sprintf("0%o", uint16(a)) }

// LevelAddress returns the lowest address at the given tree level.
func LevelAddress(level uint8) Address {
	if level == 0 {
		return 0
	}
	return Address(1) << ((level - 1) * 3)
}

var pipeTranslation = [...]byte{0xc3, 0x3c, 0x33, 0xce, 0x3e, 0xe3, 0xec}

// PipeAddress derives the 5-byte on-air address for pipe of node.
// Pipe 0 of a non-root node only encodes the node's depth, so all nodes on a
// level share it as their multicast address.
func PipeAddress(node Address, pipe uint8) [5]byte {
	out := [5]byte{0xcc, 0xcc, 0xcc, 0xcc, 0xcc}
	direct := pipe != 0 || node == 0
	count := 1
	for dec := uint16(node); dec != 0; dec >>= 3 {
		if direct && count < len(out) {
			out[count] = pipeTranslation[dec&7]
		}
		count++
	}
	if direct {
		out[0] = pipeTranslation[pipe]
	} else {
		out[1] = pipeTranslation[count-1]
	}
	return out
}
