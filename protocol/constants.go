package protocol

// Generic radio & protocol constants (platform independent). All higher layers should depend on this file.
const (
	// Frame sizing
	// Layout:
	//   From (2) | To (2) | ID (2) | Type (1) | Reserved (1) | Payload (0-24)
	// All multi-byte fields are little-endian.
	HeaderSize          = 8
	MaxFrameSize        = 32 // nRF24 payload limit
	MaxFramePayloadSize = MaxFrameSize - HeaderSize

	// Largest logical payload a fragmented write may carry.
	MaxPayloadSize = 144
	MaxFragments   = MaxPayloadSize / MaxFramePayloadSize

	// RF defaults (can be overridden per node)
	DefaultChannel = 76
	MaxChannel     = 125

	// Header types 1-127 are user types, 128-255 are reserved for the stack.
	MaxUserType = 127

	TypeAddrResponse      = 128
	TypeAddrConfirm       = 129
	TypePing              = 130
	TypeExternalData      = 131
	TypeFirstFragment     = 148
	TypeMoreFragments     = 149
	TypeLastFragment      = 150
	TypeAck               = 193
	TypePoll              = 194
	TypeReqAddress        = 195
	TypeAddrLookup        = 196
	TypeAddrRelease       = 197
	TypeIDLookup          = 198
	TypeMoreFragmentsNack = 200

	// Mesh defaults
	MeshMaxChildren    = 4
	MeshMaxPolls       = 4
	MeshLookupTimeout  = 3000  // ms
	MeshWriteTimeout   = 5550  // ms
	MeshRenewalTimeout = 60000 // ms
	MeshBlankID        = 0xFFFF
)

// RequiresNetworkAck reports whether frames of type t are acknowledged
// end-to-end by the last relay. Types 65-191 are ack types, except the
// last fragment of a fragmented payload.
func RequiresNetworkAck(t byte) bool {
	return t > 64 && t < 192 && t != TypeLastFragment
}

// IsFragmentType reports whether t is one of the fragmentation control types.
func IsFragmentType(t byte) bool {
	switch t {
	case TypeFirstFragment, TypeMoreFragments, TypeLastFragment, TypeMoreFragmentsNack:
		return true
	}
	return false
}

// TypeName returns a short human-readable name for system types.
func TypeName(t byte) string {
	switch t {
	case TypeAddrResponse:
		return "ADDR_RESPONSE"
	case TypeAddrConfirm:
		return "ADDR_CONFIRM"
	case TypePing:
		return "PING"
	case TypeExternalData:
		return "EXTERNAL_DATA"
	case TypeFirstFragment:
		return "FIRST_FRAGMENT"
	case TypeMoreFragments:
		return "MORE_FRAGMENTS"
	case TypeLastFragment:
		return "LAST_FRAGMENT"
	case TypeAck:
		return "NETWORK_ACK"
	case TypePoll:
		return "POLL"
	case TypeReqAddress:
		return "REQ_ADDRESS"
	case TypeAddrLookup:
		return "ADDR_LOOKUP"
	case TypeAddrRelease:
		return "ADDR_RELEASE"
	case TypeIDLookup:
		return "ID_LOOKUP"
	case TypeMoreFragmentsNack:
		return "MORE_FRAGMENTS_NACK"
	}
	if t <= MaxUserType {
		return "USER"
	}
	return "SYSTEM"
}
