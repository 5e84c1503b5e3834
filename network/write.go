package network

import (
	"fmt"
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

type txMode uint8

const (
	txNormal txMode = iota
	txRouted
	txToPhysical
	txToLogical
	txMulticast
)

// conversion is the physical next hop a logical destination resolves to.
type conversion struct {
	node      proto.Address
	pipe      uint8
	multicast bool
}

func (n *Network) route(to proto.Address, mode txMode) conversion {
	c := conversion{node: n.topo.Parent, pipe: n.topo.ParentPipe}
	switch {
	case mode > txRouted:
		c = conversion{node: to, pipe: 0, multicast: true}
	case n.topo.IsDirectChild(to):
		c = conversion{node: to, pipe: 5}
	case n.topo.IsDescendant(to):
		c = conversion{node: n.topo.DirectChildRouteTo(to), pipe: 5}
	}
	return c
}

// Write sends payload to h.To, routing through the tree. h.From is set to
// this node and a zero h.ID is stamped with the next sequence id. Payloads
// longer than one frame are fragmented.
func (n *Network) Write(h *proto.Header, payload []byte) (bool, error) {
	return n.write(h, payload, noRoute)
}

// WriteDirect hands the frame to via instead of the routed next hop. If
// via is the destination the frame goes straight to it.
func (n *Network) WriteDirect(h *proto.Header, payload []byte, via proto.Address) (bool, error) {
	return n.write(h, payload, via)
}

// Multicast sends payload to every node listening at the given tree level.
// No hardware acknowledgement is requested.
func (n *Network) Multicast(h *proto.Header, payload []byte, level uint8) (bool, error) {
	if level > 4 {
		level = 4
	}
	h.To = proto.MulticastAddress
	return n.write(h, payload, proto.LevelAddress(level))
}

func (n *Network) write(h *proto.Header, payload []byte, via proto.Address) (bool, error) {
	if len(payload) > proto.MaxPayloadSize {
		return false, fmt.Errorf("network: %d byte payload: %w", len(payload), proto.ErrPayloadTooLarge)
	}
	if h.ID == 0 {
		h.ID = n.nextID()
	}
	n.remaining = 0

	for time.Since(n.txTime) < n.cfg.MinWriteSpacing {
		t, err := n.Update()
		if err != nil {
			return false, err
		}
		if t > proto.MaxUserType {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(200 * time.Microsecond)

	if len(payload) <= proto.MaxFramePayloadSize {
		return n.writeFrame(h, payload, via)
	}
	return n.writeFragments(h, payload, via)
}

func (n *Network) writeFragments(h *proto.Header, payload []byte, via proto.Address) (bool, error) {
	count := (len(payload) + proto.MaxFramePayloadSize - 1) / proto.MaxFramePayloadSize
	typ := h.Type
	fast := h.To != proto.MulticastAddress
	if fast {
		n.flags |= FlagFastFrag
		if err := n.radio.StopListening(); err != nil {
			return false, err
		}
	}

	var (
		ok       bool
		err      error
		sent     int
		attempts int
	)
	for left := count; left > 0; {
		fh := *h
		switch {
		case left == 1:
			fh.Type = proto.TypeLastFragment
			fh.Reserved = typ
		case sent == 0:
			fh.Type = proto.TypeFirstFragment
			fh.Reserved = uint8(left)
		default:
			fh.Type = proto.TypeMoreFragments
			fh.Reserved = uint8(left)
		}
		off := sent * proto.MaxFramePayloadSize
		end := min(off+proto.MaxFramePayloadSize, len(payload))

		ok, err = n.writeFrame(&fh, payload[off:end], via)
		if err != nil {
			break
		}
		if !ok {
			attempts++
			if attempts >= n.cfg.FragmentRetries {
				n.log.Debug("fragment failed, aborting", "to", h.To, "id", h.ID, "remaining", left)
				break
			}
			time.Sleep(n.cfg.FragmentRetryDelay)
			continue
		}
		attempts = 0
		sent++
		left--
	}
	n.remaining = count - sent

	if fast {
		if _, serr := n.radio.TxStandBy(n.cfg.TxTimeout); serr != nil && err == nil {
			err = serr
		}
		if lerr := n.radio.StartListening(); lerr != nil && err == nil {
			err = lerr
		}
		if aerr := n.radio.SetAutoAckPipe(0, false); aerr != nil && err == nil {
			err = aerr
		}
		n.flags &^= FlagFastFrag
	}
	if err != nil {
		return false, err
	}
	return ok && n.remaining == 0, nil
}

// writeFrame sends one frame originated here. A failure holds off the
// next originating write for MinWriteSpacing.
func (n *Network) writeFrame(h *proto.Header, payload []byte, via proto.Address) (bool, error) {
	h.From = n.topo.Address
	f := &proto.Frame{Header: *h, Payload: payload}

	to, mode := h.To, txNormal
	if via != noRoute {
		to, mode = via, txToLogical
		if h.To == proto.MulticastAddress {
			mode = txMulticast
		}
		if h.To == via {
			mode = txToPhysical
		}
	}
	ok, err := n.send(f, to, mode)
	if err == nil && !ok {
		n.txTime = time.Now()
	}
	return ok, err
}

// send puts f on air towards to. Routed frames that reach their final hop
// are acknowledged back to the origin; originating writes of ack types wait
// for that acknowledgement.
func (n *Network) send(f *proto.Frame, to proto.Address, mode txMode) (bool, error) {
	if !to.Valid() {
		return false, nil
	}
	c := n.route(to, mode)
	ok, err := n.writeToPipe(c, proto.EncodeFrame(f))
	if err != nil {
		return false, err
	}

	if mode == txRouted && ok && c.node == to && proto.RequiresNetworkAck(f.Type) {
		ack := proto.Header{From: f.From, To: f.From, ID: f.ID, Type: proto.TypeAck}
		ac := n.route(ack.To, txRouted)
		if _, err := n.writeToPipe(ac, proto.EncodeHeader(&ack)); err != nil {
			return false, err
		}
		n.log.Debug("network ack sent", "to", ack.To, "via", ac.node, "id", ack.ID)
	}

	if ok && c.node != to && (mode == txNormal || mode == txToLogical) && proto.RequiresNetworkAck(f.Type) {
		if n.flags&FlagFastFrag != 0 {
			if _, err := n.radio.TxStandBy(n.cfg.TxTimeout); err != nil {
				return false, err
			}
			n.flags &^= FlagFastFrag
			if err := n.radio.SetAutoAckPipe(0, false); err != nil {
				return false, err
			}
		}
		if err := n.radio.StartListening(); err != nil {
			return false, err
		}
		ok, err = n.waitAck()
		if err != nil {
			return false, err
		}
		if !ok {
			n.log.Debug("no network ack", "to", to, "id", f.ID)
		}
	}

	if n.flags&FlagFastFrag == 0 {
		if err := n.radio.StartListening(); err != nil {
			return false, err
		}
	}

	if ok {
		n.stats.Successes++
	} else {
		n.stats.Failures++
	}
	return ok, nil
}

func (n *Network) waitAck() (bool, error) {
	deadline := time.Now().Add(n.RouteTimeout())
	for {
		t, err := n.Update()
		if err != nil {
			return false, err
		}
		if t == proto.TypeAck {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (n *Network) writeToPipe(c conversion, raw []byte) (bool, error) {
	fast := n.flags&FlagFastFrag != 0
	if !fast {
		if err := n.radio.StopListening(); err != nil {
			return false, err
		}
	}
	if err := n.radio.SetAutoAckPipe(0, !c.multicast); err != nil {
		return false, err
	}
	addr := proto.PipeAddress(c.node, c.pipe)
	if err := n.radio.OpenWritingPipe(addr[:]); err != nil {
		return false, err
	}
	ok, err := n.radio.WriteFast(raw, c.multicast)
	if err != nil {
		return false, err
	}
	if !fast {
		done, err := n.radio.TxStandBy(n.cfg.TxTimeout)
		if err != nil {
			return false, err
		}
		ok = ok && done
		if err := n.radio.SetAutoAckPipe(0, false); err != nil {
			return false, err
		}
	}
	return ok, nil
}
