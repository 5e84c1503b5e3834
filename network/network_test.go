package network_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ystepanoff/nrfmesh/driver/stub"
	"github.com/ystepanoff/nrfmesh/network"
	proto "github.com/ystepanoff/nrfmesh/protocol"
)

var _ network.RadioDriver = (*stub.Radio)(nil)

func newNode(t *testing.T, air *stub.Air, addr proto.Address) (*network.Network, *stub.Radio) {
	t.Helper()
	radio := air.NewRadio()
	n := network.New(radio, network.Config{})
	ok, err := n.Begin(proto.DefaultChannel, addr)
	if err != nil || !ok {
		t.Fatalf("Begin(%v) = %v, %v", addr, ok, err)
	}
	return n, radio
}

// pump runs Update on n in the background until the returned stop func is
// called.
func pump(t *testing.T, n *network.Network) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := n.Update(); err != nil {
				t.Errorf("Update() error = %v", err)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func update(t *testing.T, n *network.Network) byte {
	t.Helper()
	typ, err := n.Update()
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	return typ
}

func TestBegin(t *testing.T) {
	air := stub.NewAir(nil)

	n := network.New(air.NewRadio(), network.Config{})
	if ok, _ := n.Begin(proto.DefaultChannel, 0o16); ok {
		t.Errorf("Begin(016) = true for invalid address")
	}

	dead := air.NewRadio()
	dead.SetDead(true)
	n = network.New(dead, network.Config{})
	if ok, _ := n.Begin(proto.DefaultChannel, 0o1); ok {
		t.Errorf("Begin() = true for disconnected radio")
	}

	radio := air.NewRadio()
	n = network.New(radio, network.Config{})
	if err := radio.SetChannel(90); err != nil {
		t.Fatal(err)
	}
	if ok, err := n.Begin(network.KeepChannel, 0o23); !ok || err != nil {
		t.Fatalf("Begin() = %v, %v", ok, err)
	}
	if radio.Channel() != 90 {
		t.Errorf("channel = %d, want 90 kept", radio.Channel())
	}
	if !radio.Listening() {
		t.Errorf("radio not listening after Begin")
	}
	if n.Address() != 0o23 || n.Topology().Parent != 0o3 {
		t.Errorf("topology = %+v", n.Topology())
	}
	if n.RouteTimeout() != 3*n.TxTimeout() {
		t.Errorf("RouteTimeout() = %v, want 3*TxTimeout", n.RouteTimeout())
	}
}

func TestWriteToParent(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	child, _ := newNode(t, air, 0o1)

	h := child.NewHeader(proto.RootAddress, 'T')
	ok, err := child.Write(&h, []byte("temp=21.5"))
	if err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}

	if typ := update(t, root); typ != 'T' {
		t.Errorf("Update() = %d, want %d", typ, 'T')
	}
	got, ok := root.ReadFrame()
	if !ok {
		t.Fatalf("no frame queued")
	}
	if got.From != 0o1 || got.ID != h.ID || string(got.Payload) != "temp=21.5" {
		t.Errorf("frame = %v %q", got.Header, got.Payload)
	}
	if s := child.Stats(); s.Successes != 1 || s.Failures != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestWriteSpacing(t *testing.T) {
	const spacing = 400 * time.Millisecond
	air := stub.NewAir(nil)
	newNode(t, air, proto.RootAddress)
	radio := air.NewRadio()
	relay := network.New(radio, network.Config{MinWriteSpacing: spacing})
	if ok, err := relay.Begin(proto.DefaultChannel, 0o1); err != nil || !ok {
		t.Fatalf("Begin() = %v, %v", ok, err)
	}

	// A frame for a missing child fails on the relay hop only.
	lost := proto.Header{From: proto.RootAddress, To: 0o11, ID: 7, Type: 'T'}
	radio.InjectRx(1, proto.EncodeHeader(&lost))
	update(t, relay)
	if s := relay.Stats(); s.Failures != 1 {
		t.Fatalf("Stats() after relay = %+v, want one failure", s)
	}

	h := relay.NewHeader(proto.RootAddress, 'T')
	start := time.Now()
	if ok, err := relay.Write(&h, []byte("own")); err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}
	if d := time.Since(start); d >= spacing/2 {
		t.Errorf("own write after a relay failure took %v", d)
	}

	// An originating failure does hold off the next write.
	miss := relay.NewHeader(0o21, 'T')
	if ok, _ := relay.Write(&miss, []byte("x")); ok {
		t.Fatalf("Write() to missing node succeeded")
	}
	h = relay.NewHeader(proto.RootAddress, 'T')
	start = time.Now()
	if ok, err := relay.Write(&h, []byte("own")); err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}
	if d := time.Since(start); d < spacing/2 {
		t.Errorf("write after own failure took %v, want about %v", d, spacing)
	}
}

func TestFragmentedWrite(t *testing.T) {
	for _, size := range []int{25, 72, 100, proto.MaxPayloadSize} {
		air := stub.NewAir(nil)
		root, _ := newNode(t, air, proto.RootAddress)
		child, radio := newNode(t, air, 0o3)

		payload := bytes.Repeat([]byte{0x10, 0x20, 0x30}, size/3+1)[:size]
		h := child.NewHeader(proto.RootAddress, 33)
		ok, err := child.Write(&h, payload)
		if err != nil || !ok {
			t.Fatalf("size %d: Write() = %v, %v", size, ok, err)
		}
		if child.FragmentsRemaining() != 0 {
			t.Errorf("size %d: FragmentsRemaining() = %d", size, child.FragmentsRemaining())
		}
		if child.Flags()&network.FlagFastFrag != 0 {
			t.Errorf("size %d: fast fragment flag left set", size)
		}
		if !radio.Listening() {
			t.Errorf("size %d: radio not listening after fragmented write", size)
		}
		want := (size + proto.MaxFramePayloadSize - 1) / proto.MaxFramePayloadSize
		if got := len(radio.TxLog()); got != want {
			t.Errorf("size %d: %d frames on air, want %d", size, got, want)
		}

		update(t, root)
		var buf [proto.MaxPayloadSize]byte
		rh, n, ok := root.Read(buf[:])
		if !ok {
			t.Fatalf("size %d: nothing reassembled", size)
		}
		if rh.Type != 33 || rh.ID != h.ID || rh.From != 0o3 {
			t.Errorf("size %d: header = %v", size, rh)
		}
		if !bytes.Equal(buf[:n], payload) {
			t.Errorf("size %d: payload mismatch", size)
		}
	}
}

func TestWriteTooLarge(t *testing.T) {
	air := stub.NewAir(nil)
	newNode(t, air, proto.RootAddress)
	child, radio := newNode(t, air, 0o1)

	h := child.NewHeader(proto.RootAddress, 1)
	ok, err := child.Write(&h, make([]byte, proto.MaxPayloadSize+1))
	if ok || !errors.Is(err, proto.ErrPayloadTooLarge) {
		t.Errorf("Write() = %v, %v, want false, ErrPayloadTooLarge", ok, err)
	}
	if len(radio.TxLog()) != 0 {
		t.Errorf("oversized payload reached the air")
	}
}

func TestFragmentAbort(t *testing.T) {
	air := stub.NewAir(nil)
	newNode(t, air, proto.RootAddress)
	child, radio := newNode(t, air, 0o1)

	radio.FailWrites(3)
	h := child.NewHeader(proto.RootAddress, 12)
	ok, err := child.Write(&h, make([]byte, 60))
	if err != nil || ok {
		t.Errorf("Write() = %v, %v, want false", ok, err)
	}
	if got := child.FragmentsRemaining(); got != 3 {
		t.Errorf("FragmentsRemaining() = %d, want 3", got)
	}
	if !radio.Listening() {
		t.Errorf("radio not listening after aborted write")
	}
}

func TestFragmentRetry(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	child, radio := newNode(t, air, 0o1)

	radio.FailWrites(2)
	payload := testPayload(60)
	h := child.NewHeader(proto.RootAddress, 12)
	if ok, err := child.Write(&h, payload); err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}
	update(t, root)
	f, ok := root.ReadFrame()
	if !ok || !bytes.Equal(f.Payload, payload) {
		t.Errorf("payload not reassembled after retries")
	}
}

func TestRoutedWriteAck(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	relay, _ := newNode(t, air, 0o1)
	leaf, _ := newNode(t, air, 0o11)

	stop := pump(t, relay)
	h := leaf.NewHeader(proto.RootAddress, 70)
	ok, err := leaf.Write(&h, []byte{1, 2, 3})
	stop()
	if err != nil || !ok {
		t.Fatalf("Write() = %v, %v, want acked", ok, err)
	}

	update(t, root)
	f, ok := root.ReadFrame()
	if !ok || f.From != 0o11 || f.Type != 70 {
		t.Errorf("root got %v, %v", f.Header, ok)
	}
}

func TestRoutedWriteNoAck(t *testing.T) {
	air := stub.NewAir(nil)
	newNode(t, air, proto.RootAddress)
	newNode(t, air, 0o1)
	leaf, _ := newNode(t, air, 0o11)

	// The relay never runs, so the end-to-end ack cannot arrive.
	h := leaf.NewHeader(proto.RootAddress, 70)
	start := time.Now()
	ok, err := leaf.Write(&h, []byte{1})
	if err != nil || ok {
		t.Errorf("Write() = %v, %v, want false", ok, err)
	}
	if time.Since(start) < leaf.RouteTimeout() {
		t.Errorf("Write() returned before RouteTimeout")
	}
	if s := leaf.Stats(); s.Failures != 1 {
		t.Errorf("Stats() = %+v, want one failure", s)
	}
}

func TestRootToGrandchild(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	relay, _ := newNode(t, air, 0o2)
	leaf, _ := newNode(t, air, 0o32)

	// Types below 65 are not acknowledged end to end.
	h := root.NewHeader(0o32, 20)
	if ok, err := root.Write(&h, []byte("cmd")); err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}
	update(t, relay)
	if relay.Available() {
		t.Errorf("relay queued a frame meant for its child")
	}
	update(t, leaf)
	f, ok := leaf.ReadFrame()
	if !ok || string(f.Payload) != "cmd" || f.From != proto.RootAddress {
		t.Errorf("leaf got %v %q, %v", f.Header, f.Payload, ok)
	}
}

func TestUpdateDrops(t *testing.T) {
	air := stub.NewAir(nil)
	root, radio := newNode(t, air, proto.RootAddress)

	ping := proto.Header{From: 0o1, To: proto.RootAddress, ID: 1, Type: proto.TypePing}
	bad := proto.Header{From: 0o1, To: 0o67, ID: 2, Type: 1}
	radio.InjectRx(1, []byte{1, 2, 3})
	radio.InjectRx(1, proto.EncodeHeader(&bad))
	radio.InjectRx(1, proto.EncodeHeader(&ping))

	update(t, root)
	if root.Available() {
		t.Errorf("dropped frame reached the user queue")
	}
	if _, avail, _ := radio.Available(); avail {
		t.Errorf("radio not drained")
	}
}

func TestUpdateDropsEmptyFrame(t *testing.T) {
	air := stub.NewAir(nil)
	root, radio := newNode(t, air, proto.RootAddress)
	radio.InjectRx(1, nil)

	done := make(chan byte, 1)
	go func() {
		typ, _ := root.Update()
		done <- typ
	}()
	select {
	case typ := <-done:
		if typ != 0 {
			t.Errorf("Update() = %d, want 0", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Update() blocked on an empty frame")
	}
	if _, avail, _ := radio.Available(); avail {
		t.Errorf("empty frame left in the radio")
	}
	if root.Available() {
		t.Errorf("empty frame reached the user queue")
	}
}

func TestPollReply(t *testing.T) {
	tests := []struct {
		name    string
		noPoll  bool
		replies bool
	}{
		{"answers", false, true},
		{"no poll flag", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			air := stub.NewAir(nil)
			node, _ := newNode(t, air, 0o4)
			joiner, _ := newNode(t, air, proto.DefaultAddress)
			joiner.ReturnSysMsgs = true
			if tt.noPoll {
				node.SetFlags(network.FlagNoPoll)
			}

			h := joiner.NewHeader(proto.MulticastAddress, proto.TypePoll)
			if ok, err := joiner.Multicast(&h, nil, 1); err != nil || !ok {
				t.Fatalf("Multicast() = %v, %v", ok, err)
			}
			update(t, node)

			typ := update(t, joiner)
			if !tt.replies {
				if typ == proto.TypePoll {
					t.Errorf("got a poll reply with FlagNoPoll set")
				}
				return
			}
			if typ != proto.TypePoll {
				t.Fatalf("Update() = %d, want POLL", typ)
			}
			if from := joiner.LastFrame().From; from != 0o4 {
				t.Errorf("reply from %v, want 04", from)
			}
		})
	}
}

func TestMulticastRelay(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	mid, _ := newNode(t, air, 0o1)
	low, _ := newNode(t, air, 0o21)
	mid.MulticastRelay = true

	h := root.NewHeader(proto.MulticastAddress, 7)
	if ok, err := root.Multicast(&h, []byte("all"), 1); err != nil || !ok {
		t.Fatalf("Multicast() = %v, %v", ok, err)
	}
	update(t, mid)
	if f, ok := mid.ReadFrame(); !ok || string(f.Payload) != "all" {
		t.Errorf("level 1 node did not get the multicast")
	}
	update(t, low)
	if f, ok := low.ReadFrame(); !ok || string(f.Payload) != "all" || f.From != proto.RootAddress {
		t.Errorf("level 2 node did not get the relayed multicast")
	}
}

func TestAddressResponseRelay(t *testing.T) {
	air := stub.NewAir(nil)
	relay, relayRadio := newNode(t, air, 0o5)
	joiner, _ := newNode(t, air, proto.DefaultAddress)
	joiner.ReturnSysMsgs = true

	resp := proto.Frame{
		Header:  proto.Header{From: proto.RootAddress, To: 0o5, ID: 9, Type: proto.TypeAddrResponse, Reserved: 7},
		Payload: []byte{0o15, 0},
	}
	relayRadio.InjectRx(5, proto.EncodeFrame(&resp))
	update(t, relay)

	if got := len(relayRadio.TxLog()); got != 2 {
		t.Errorf("relay sent %d frames, want 2", got)
	}
	if typ := update(t, joiner); typ != proto.TypeAddrResponse {
		t.Fatalf("Update() = %d, want ADDR_RESPONSE", typ)
	}
	if f := joiner.LastFrame(); f.Reserved != 7 || !bytes.Equal(f.Payload, []byte{0o15, 0}) {
		t.Errorf("joiner got %v % x", f.Header, f.Payload)
	}
}

func TestAddressRequestForwarded(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	relay, relayRadio := newNode(t, air, 0o2)
	root.ReturnSysMsgs = true

	req := proto.Header{From: proto.DefaultAddress, To: 0o2, ID: 3, Type: proto.TypeReqAddress, Reserved: 42}
	relayRadio.InjectRx(0, proto.EncodeHeader(&req))
	update(t, relay)

	if typ := update(t, root); typ != proto.TypeReqAddress {
		t.Fatalf("root Update() = %d, want REQ_ADDRESS", typ)
	}
	if f := root.LastFrame(); f.From != 0o2 || f.Reserved != 42 {
		t.Errorf("root got %v", f.Header)
	}
}

func TestExternalData(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	child, _ := newNode(t, air, 0o1)

	h := child.NewHeader(proto.RootAddress, proto.TypeExternalData)
	if ok, err := child.Write(&h, []byte{0xDE, 0xAD}); err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}
	if typ := update(t, root); typ != proto.TypeExternalData {
		t.Errorf("Update() = %d, want EXTERNAL_DATA", typ)
	}
	if root.Available() || !root.AvailableExternal() {
		t.Fatalf("external frame in wrong queue")
	}
	f, _ := root.ReadExternal()
	if !bytes.Equal(f.Payload, []byte{0xDE, 0xAD}) {
		t.Errorf("payload = % x", f.Payload)
	}
}

func TestReadPayload(t *testing.T) {
	air := stub.NewAir(nil)
	root, _ := newNode(t, air, proto.RootAddress)
	child, _ := newNode(t, air, 0o1)

	sent := &proto.Command{NodeID: 7, Command: 2, Value: 300}
	data, _ := sent.MarshalBinary()
	h := child.NewHeader(proto.RootAddress, sent.Tag())
	if ok, err := child.Write(&h, data); err != nil || !ok {
		t.Fatalf("Write() = %v, %v", ok, err)
	}
	update(t, root)

	var got proto.Command
	rh, ok, err := root.ReadPayload(&got)
	if err != nil || !ok {
		t.Fatalf("ReadPayload() = %v, %v", ok, err)
	}
	if rh.Type != proto.TagCommand || got != *sent {
		t.Errorf("ReadPayload() = %v %+v, want %+v", rh, got, *sent)
	}
}

func TestSequenceIDs(t *testing.T) {
	n := network.New(nil, network.Config{})
	seen := make(map[uint16]bool)
	for i := 0; i < 70000; i++ {
		id := n.NewHeader(0, 1).ID
		if id == 0 {
			t.Fatalf("NewHeader() produced id 0")
		}
		seen[id] = true
	}
	if len(seen) != 65535 {
		t.Errorf("%d distinct ids, want 65535", len(seen))
	}
}

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
