package stub

import (
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// Radio is one simulated transceiver. Frames reach it on any open reading
// pipe whether or not it is listening.
type Radio struct {
	air *Air
	id  int

	powered   bool
	listening bool
	channel   uint8
	rate      proto.DataRate
	pipes     [6][]byte
	autoAck   [6]bool
	txAddr    []byte
	rx        ringBuffer
	txLog     ringBuffer
	lastTx    bool

	failNext    int
	corruptNext bool
	dead        bool
}

func (r *Radio) lock() func() {
	r.air.mu.Lock()
	return r.air.mu.Unlock
}

func (r *Radio) Begin() error {
	defer r.lock()()
	if r.dead {
		return proto.ErrHardwareUnresponsive
	}
	r.powered = true
	r.listening = false
	r.channel = proto.DefaultChannel
	r.rate = proto.DataRate1Mbps
	r.rx.reset()
	return nil
}

func (r *Radio) StartListening() error {
	defer r.lock()()
	r.powered = true
	r.listening = true
	return nil
}

func (r *Radio) StopListening() error {
	defer r.lock()()
	r.listening = false
	return nil
}

func (r *Radio) Available() (uint8, bool, error) {
	defer r.lock()()
	f, ok := r.rx.peek()
	if !ok {
		return 0, false, nil
	}
	return f[0], true, nil
}

func (r *Radio) DynamicPayloadSize() (int, error) {
	defer r.lock()()
	f, ok := r.rx.peek()
	if !ok {
		return 0, nil
	}
	return len(f) - 1, nil
}

func (r *Radio) Read(buf []byte) (int, error) {
	defer r.lock()()
	f, ok := r.rx.pop()
	if !ok {
		return 0, nil
	}
	return copy(buf, f[1:]), nil
}

func (r *Radio) Write(buf []byte, multicast bool) (bool, error) {
	defer r.lock()()
	return r.write(buf, multicast), nil
}

func (r *Radio) WriteFast(buf []byte, multicast bool) (bool, error) {
	defer r.lock()()
	return r.write(buf, multicast), nil
}

// TxStandBy reports the outcome of the last write; simulated frames are
// delivered immediately.
func (r *Radio) TxStandBy(timeout time.Duration) (bool, error) {
	defer r.lock()()
	return r.lastTx, nil
}

func (r *Radio) write(buf []byte, multicast bool) bool {
	if !r.powered || r.dead {
		r.lastTx = false
		return false
	}
	if r.failNext > 0 {
		r.failNext--
		r.lastTx = false
		return false
	}
	r.lastTx = r.air.transmit(r, buf, multicast)
	return r.lastTx
}

func (r *Radio) OpenWritingPipe(addr []byte) error {
	defer r.lock()()
	r.txAddr = append([]byte(nil), addr...)
	return nil
}

func (r *Radio) OpenReadingPipe(pipe uint8, addr []byte) error {
	defer r.lock()()
	if pipe > 5 {
		return nil
	}
	r.pipes[pipe] = append([]byte(nil), addr...)
	return nil
}

func (r *Radio) CloseReadingPipe(pipe uint8) error {
	defer r.lock()()
	if pipe <= 5 {
		r.pipes[pipe] = nil
	}
	return nil
}

func (r *Radio) SetAutoAckPipe(pipe uint8, enable bool) error {
	defer r.lock()()
	if pipe <= 5 {
		r.autoAck[pipe] = enable
	}
	return nil
}

func (r *Radio) SetChannel(ch uint8) error {
	if ch > proto.MaxChannel {
		return proto.ErrInvalidChannel
	}
	defer r.lock()()
	r.channel = ch
	return nil
}

func (r *Radio) Channel() uint8 {
	defer r.lock()()
	return r.channel
}

func (r *Radio) SetDataRate(rate proto.DataRate) (bool, error) {
	defer r.lock()()
	r.rate = rate
	return true, nil
}

func (r *Radio) SetRetries(delay, count uint8) error { return nil }
func (r *Radio) EnableDynamicPayloads() error { return nil }
func (r *Radio) EnableDynamicAck() error { return nil }

func (r *Radio) RxFifoFull() (bool, error) {
	defer r.lock()()
	return r.rx.full(), nil
}

func (r *Radio) IsConnected() (bool, error) {
	defer r.lock()()
	return !r.dead, nil
}

// Listening reports whether the radio is in receive mode.
func (r *Radio) Listening() bool {
	defer r.lock()()
	return r.listening
}

// InjectRx queues raw as if it had arrived on pipe, bypassing the air.
func (r *Radio) InjectRx(pipe uint8, raw []byte) {
	defer r.lock()()
	r.rx.push(append([]byte{pipe}, raw...))
}

// TxLog returns a copy of every frame this radio has put on air, oldest
// first, bounded to the last 64.
func (r *Radio) TxLog() [][]byte {
	defer r.lock()()
	return r.txLog.snapshot()
}

// FailWrites makes the next n writes fail as if no ack arrived.
func (r *Radio) FailWrites(n int) {
	defer r.lock()()
	r.failNext = n
}

// CorruptNext flips a bit in the next transmitted frame after its checksum
// is computed, so receivers drop it.
func (r *Radio) CorruptNext() {
	defer r.lock()()
	r.corruptNext = true
}

// SetDead makes the radio stop answering, as if unplugged.
func (r *Radio) SetDead(dead bool) {
	defer r.lock()()
	r.dead = dead
}
