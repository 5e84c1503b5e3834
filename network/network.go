// Package network routes frames across a tree of nRF24 nodes. Each node
// talks to its parent and up to five children over the radio's six pipes;
// frames for anyone else are relayed hop by hop.
package network

import (
	"log/slog"
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// Flags tune how Update and Write behave.
type Flags uint8

const (
	FlagHoldIncoming Flags = 1 << iota
	FlagBypassHolds
	FlagFastFrag
	FlagNoPoll
)

// KeepChannel makes Begin leave the radio on its current channel.
const KeepChannel = 0xFF

// noRoute is an invalid address used to mean "route normally".
const noRoute proto.Address = 0o70

type Config struct {
	// TxTimeout bounds the hardware retry phase of a single send.
	TxTimeout time.Duration
	// MinWriteSpacing is the quiet time enforced after a failed write.
	MinWriteSpacing    time.Duration
	FragmentRetries    int
	FragmentRetryDelay time.Duration
	Logger             *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		TxTimeout:          25 * time.Millisecond,
		MinWriteSpacing:    25 * time.Millisecond,
		FragmentRetries:    3,
		FragmentRetryDelay: 2 * time.Millisecond,
	}
}

// Stats counts send outcomes on this node, relayed frames included.
type Stats struct {
	Successes uint32
	Failures  uint32
}

// Network is one node's view of the tree. Update, Write and friends must
// be called from a single goroutine; the receive queues may be read from
// any goroutine.
type Network struct {
	radio RadioDriver
	cfg   Config
	log   *slog.Logger

	// ReturnSysMsgs makes Update return system frames addressed to this
	// node instead of queueing them. The mesh layer relies on it.
	ReturnSysMsgs bool
	// MulticastRelay forwards received multicast frames one level down.
	MulticastRelay bool

	topo      Topology
	seq       uint16
	flags     Flags
	txTime    time.Time
	last      proto.Frame
	queue     frameQueue
	external  frameQueue
	frags     *assembler
	stats     Stats
	remaining int
}

func New(radio RadioDriver, cfg Config) *Network {
	def := DefaultConfig()
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = def.TxTimeout
	}
	if cfg.MinWriteSpacing <= 0 {
		cfg.MinWriteSpacing = def.MinWriteSpacing
	}
	if cfg.FragmentRetries <= 0 {
		cfg.FragmentRetries = def.FragmentRetries
	}
	if cfg.FragmentRetryDelay <= 0 {
		cfg.FragmentRetryDelay = def.FragmentRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "network")
	return &Network{
		radio: radio,
		cfg:   cfg,
		log:   logger,
		topo:  NewTopology(proto.DefaultAddress),
		frags: newAssembler(logger),
	}
}

// Begin configures the radio for addr and starts listening on all six
// pipes. It returns false if addr is not a valid tree address or the radio
// does not answer.
func (n *Network) Begin(channel uint8, addr proto.Address) (bool, error) {
	if !addr.Valid() {
		n.log.Warn("invalid node address", "address", addr)
		return false, nil
	}
	connected, err := n.radio.IsConnected()
	if err != nil {
		return false, err
	}
	if !connected {
		n.log.Error("radio not connected")
		return false, nil
	}

	if channel != KeepChannel {
		if err := n.radio.SetChannel(channel); err != nil {
			return false, err
		}
	}
	if err := n.radio.SetAutoAckPipe(0, false); err != nil {
		return false, err
	}
	if err := n.radio.EnableDynamicPayloads(); err != nil {
		return false, err
	}
	if err := n.radio.EnableDynamicAck(); err != nil {
		return false, err
	}
	// Stagger retry delays so siblings do not collide forever.
	delay := uint8(uint16(addr)%6+1)*2 + 3
	if err := n.radio.SetRetries(delay, 5); err != nil {
		return false, err
	}

	n.topo = NewTopology(addr)
	for pipe := uint8(0); pipe < 6; pipe++ {
		a := proto.PipeAddress(addr, pipe)
		if err := n.radio.OpenReadingPipe(pipe, a[:]); err != nil {
			return false, err
		}
	}
	if err := n.radio.StartListening(); err != nil {
		return false, err
	}

	n.flags &^= FlagFastFrag
	n.queue.reset()
	n.external.reset()
	n.frags.reset()
	n.log.Debug("network started", "address", addr, "parent", n.topo.Parent, "pipe", n.topo.ParentPipe)
	return true, nil
}

// SetMulticastLevel moves this node's multicast listening address to level.
func (n *Network) SetMulticastLevel(level uint8) error {
	n.topo.MulticastLevel = level
	a := proto.PipeAddress(proto.LevelAddress(level), 0)
	return n.radio.OpenReadingPipe(0, a[:])
}

func (n *Network) Address() proto.Address { return n.topo.Address }
func (n *Network) Topology() Topology { return n.topo }
func (n *Network) Radio() RadioDriver { return n.radio }
func (n *Network) TxTimeout() time.Duration {
	return n.cfg.TxTimeout
}

// RouteTimeout bounds how long an originating node waits for a network ack.
func (n *Network) RouteTimeout() time.Duration { return 3 * n.cfg.TxTimeout }

func (n *Network) Flags() Flags { return n.flags }
func (n *Network) SetFlags(f Flags) { n.flags |= f }
func (n *Network) ClearFlags(f Flags) { n.flags &^= f }
func (n *Network) Stats() Stats { return n.stats }
func (n *Network) LastFrame() proto.Frame { return n.last }

// FragmentsRemaining reports how many fragments of the last fragmented
// write were never delivered; 0 after a complete send.
func (n *Network) FragmentsRemaining() int { return n.remaining }

// NewHeader returns a header for to stamped with this node's next
// sequence id.
func (n *Network) NewHeader(to proto.Address, typ byte) proto.Header {
	return proto.Header{To: to, ID: n.nextID(), Type: typ}
}

func (n *Network) nextID() uint16 {
	n.seq++
	if n.seq == 0 {
		n.seq++
	}
	return n.seq
}

// Available reports whether a user frame is waiting.
func (n *Network) Available() bool { return n.queue.len() > 0 }

// Peek returns the header and payload size of the next user frame without
// removing it.
func (n *Network) Peek() (proto.Header, int, bool) {
	f, ok := n.queue.peek()
	return f.Header, len(f.Payload), ok
}

// Read removes the next user frame and copies at most len(buf) payload
// bytes into buf.
func (n *Network) Read(buf []byte) (proto.Header, int, bool) {
	f, ok := n.queue.pop()
	if !ok {
		return proto.Header{}, 0, false
	}
	return f.Header, copy(buf, f.Payload), true
}

// ReadFrame removes and returns the next user frame.
func (n *Network) ReadFrame() (proto.Frame, bool) { return n.queue.pop() }

// ReadPayload removes the next user frame and decodes it into p.
func (n *Network) ReadPayload(p proto.Payload) (proto.Header, bool, error) {
	f, ok := n.queue.pop()
	if !ok {
		return proto.Header{}, false, nil
	}
	return f.Header, true, p.UnmarshalBinary(f.Payload)
}

func (n *Network) AvailableExternal() bool { return n.external.len() > 0 }

func (n *Network) ReadExternal() (proto.Frame, bool) { return n.external.pop() }

// Update drains the radio. Frames for this node are queued, frames for
// others are relayed. It returns the type of the last frame handled, or
// returns early with a system type when ReturnSysMsgs is set.
func (n *Network) Update() (byte, error) {
	var last byte
	buf := make([]byte, proto.MaxFrameSize)
	for {
		_, ok, err := n.radio.Available()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		size, err := n.radio.DynamicPayloadSize()
		if err != nil {
			return 0, err
		}
		// Empty frames are still read so the FIFO head advances.
		if _, err := n.radio.Read(buf[:size]); err != nil {
			return 0, err
		}
		if size < proto.HeaderSize {
			n.log.Debug("runt frame dropped", "size", size)
			continue
		}

		f, _ := proto.DecodeFrame(buf[:size])
		if !f.To.Valid() {
			n.log.Debug("frame with invalid address dropped", "to", f.To)
			continue
		}
		last = f.Type
		n.last = *f

		var (
			ret  byte
			done bool
		)
		switch f.To {
		case n.topo.Address:
			ret, done, err = n.handleLocal(f)
		case proto.MulticastAddress:
			ret, done, err = n.handleMulticast(f)
		default:
			_, err = n.send(f, f.To, txRouted)
		}
		if err != nil {
			return 0, err
		}
		if done {
			return ret, nil
		}
	}
	return last, nil
}

func (n *Network) handleLocal(f *proto.Frame) (byte, bool, error) {
	switch f.Type {
	case proto.TypePing:
		return 0, false, nil

	case proto.TypeAddrResponse:
		// A relay hands the response on to the unaddressed requester.
		if n.topo.Address != proto.DefaultAddress {
			f.To = proto.DefaultAddress
			for i := 0; i < 2; i++ {
				if i > 0 {
					time.Sleep(10 * time.Millisecond)
				}
				if _, err := n.send(f, proto.DefaultAddress, txToPhysical); err != nil {
					return 0, false, err
				}
			}
			return 0, false, nil
		}

	case proto.TypeReqAddress:
		if n.topo.Address != proto.RootAddress {
			f.From = n.topo.Address
			f.To = proto.RootAddress
			_, err := n.send(f, proto.RootAddress, txNormal)
			return 0, false, err
		}
	}

	if (n.ReturnSysMsgs && f.Type > proto.MaxUserType) || f.Type == proto.TypeAck {
		if !proto.IsFragmentType(f.Type) && f.Type != proto.TypeExternalData {
			return f.Type, true, nil
		}
	}
	if n.enqueue(f) == queuedExternal {
		return proto.TypeExternalData, true, nil
	}
	return 0, false, nil
}

func (n *Network) handleMulticast(f *proto.Frame) (byte, bool, error) {
	if f.Type == proto.TypePoll {
		if n.flags&FlagNoPoll == 0 && n.topo.Address != proto.DefaultAddress {
			f.To = f.From
			f.From = n.topo.Address
			// Siblings answer in pipe order to avoid talking over each other.
			time.Sleep(time.Duration(n.topo.ParentPipe) * time.Millisecond)
			if _, err := n.send(f, f.To, txToPhysical); err != nil {
				return 0, false, err
			}
		}
		return 0, false, nil
	}

	res := n.enqueue(f)
	if n.MulticastRelay {
		n.log.Debug("relaying multicast", "from", f.From, "level", n.topo.MulticastLevel+1)
		if _, err := n.send(f, proto.LevelAddress(n.topo.MulticastLevel+1), txMulticast); err != nil {
			return 0, false, err
		}
	}
	if res == queuedExternal {
		return proto.TypeExternalData, true, nil
	}
	return 0, false, nil
}

type queueResult int

const (
	queuedNone queueResult = iota
	queuedUser
	queuedExternal
)

func (n *Network) enqueue(f *proto.Frame) queueResult {
	if proto.IsFragmentType(f.Type) {
		if f.From == n.topo.Address {
			n.log.Debug("fragmented frame to self dropped")
			return queuedNone
		}
		done := n.frags.add(f)
		if done == nil {
			return queuedNone
		}
		f = done
	}

	if f.Type == proto.TypeExternalData && f.From != n.topo.Address {
		n.external.push(*f)
		return queuedExternal
	}
	n.queue.push(*f)
	return queuedUser
}
