package network

import (
	"log/slog"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

type assembly struct {
	header  proto.Header
	payload []byte
}

// assembler rebuilds fragmented payloads, one in-flight payload per sender.
type assembler struct {
	pending map[proto.Address]*assembly
	log     *slog.Logger
}

func newAssembler(log *slog.Logger) *assembler {
	return &assembler{pending: make(map[proto.Address]*assembly), log: log}
}

func (a *assembler) reset() {
	clear(a.pending)
}

// add feeds one fragment in and returns the complete frame once the last
// fragment of a payload arrives. Fragments that do not continue the
// pending sequence are dropped.
func (a *assembler) add(f *proto.Frame) *proto.Frame {
	switch f.Type {
	case proto.TypeFirstFragment:
		if int(f.Reserved) > proto.MaxFragments {
			a.log.Debug("too many fragments, dropping", "from", f.From, "fragments", f.Reserved)
			return nil
		}
		if p, ok := a.pending[f.From]; ok && p.header.ID == f.ID {
			a.log.Debug("repeated first fragment restarts assembly", "from", f.From, "id", f.ID)
		}
		a.pending[f.From] = &assembly{
			header:  f.Header,
			payload: append(make([]byte, 0, proto.MaxPayloadSize), f.Payload...),
		}
		return nil

	case proto.TypeMoreFragments, proto.TypeMoreFragmentsNack:
		p := a.pending[f.From]
		if p == nil {
			return nil
		}
		if p.header.Reserved-1 != f.Reserved || p.header.ID != f.ID {
			a.log.Debug("out of order fragment dropped", "from", f.From, "id", f.ID,
				"got", f.Reserved, "want", p.header.Reserved-1)
			return nil
		}
		if len(p.payload)+len(f.Payload) > proto.MaxPayloadSize {
			delete(a.pending, f.From)
			return nil
		}
		p.payload = append(p.payload, f.Payload...)
		p.header = f.Header
		return nil

	case proto.TypeLastFragment:
		p := a.pending[f.From]
		if p == nil {
			return nil
		}
		delete(a.pending, f.From)
		if len(p.payload)+len(f.Payload) > proto.MaxPayloadSize {
			a.log.Debug("reassembled payload too large", "from", f.From, "size", len(p.payload)+len(f.Payload))
			return nil
		}
		if p.header.Reserved != 2 || p.header.ID != f.ID {
			a.log.Debug("out of sequence last fragment, assembly cleared", "from", f.From, "id", f.ID)
			return nil
		}
		done := &proto.Frame{Header: f.Header, Payload: append(p.payload, f.Payload...)}
		done.Type = f.Reserved
		done.Reserved = 1
		return done
	}
	return nil
}
