package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header precedes every frame on air.
// Layout: From(2) | To(2) | ID(2) | Type(1) | Reserved(1), little-endian.
// During fragmentation Reserved carries the remaining fragment count, or the
// message type on the last fragment.
type Header struct {
	From     Address
	To       Address
	ID       uint16
	Type     byte
	Reserved byte
}

func (h Header) String() string {
	return fmt.Sprintf("id %d from %s to %s type %d reserved %d", h.ID, h.From, h.To, h.Type, h.Reserved)
}

// Frame is a header plus up to MaxPayloadSize bytes of payload. Frames
// longer than MaxFramePayloadSize only exist after reassembly.
type Frame struct {
	Header
	Payload []byte
}

// PutHeader writes h into the first HeaderSize bytes of b.
func PutHeader(b []byte, h *Header) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(h.From))
	binary.LittleEndian.PutUint16(b[2:4], uint16(h.To))
	binary.LittleEndian.PutUint16(b[4:6], h.ID)
	b[6] = h.Type
	b[7] = h.Reserved
}

func EncodeHeader(h *Header) []byte {
	b := make([]byte, HeaderSize)
	if h != nil {
		PutHeader(b, h)
	}
	return b
}

func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrShortFrame
	}
	return Header{
		From:     Address(binary.LittleEndian.Uint16(data[0:2])),
		To:       Address(binary.LittleEndian.Uint16(data[2:4])),
		ID:       binary.LittleEndian.Uint16(data[4:6]),
		Type:     data[6],
		Reserved: data[7],
	}, nil
}

// EncodeFrame serialises a single on-air frame. Payloads longer than
// MaxFramePayloadSize are truncated; fragmenting is the caller's job.
func EncodeFrame(f *Frame) []byte {
	if f == nil {
		return make([]byte, 0)
	}
	n := len(f.Payload)
	if n > MaxFramePayloadSize {
		n = MaxFramePayloadSize
	}
	data := make([]byte, HeaderSize+n)
	PutHeader(data, &f.Header)
	copy(data[HeaderSize:], f.Payload[:n])
	return data
}

// DecodeFrame parses an on-air frame. The payload is copied out of data.
func DecodeFrame(data []byte) (*Frame, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, len(data)-HeaderSize)
	copy(payload, data[HeaderSize:])
	return &Frame{Header: h, Payload: payload}, nil
}
