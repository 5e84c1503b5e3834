package stub

import (
	"bytes"
	"testing"
)

var (
	addrA = []byte{0xCC, 0xCC, 0xCC, 0xCC, 0x3C}
	addrB = []byte{0xCC, 0xCC, 0xCC, 0x3C, 0x33}
)

func newPair(t *testing.T) (*Radio, *Radio) {
	t.Helper()
	air := NewAir(nil)
	tx, rx := air.NewRadio(), air.NewRadio()
	for _, r := range []*Radio{tx, rx} {
		if err := r.Begin(); err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
	}
	if err := rx.OpenReadingPipe(1, addrA); err != nil {
		t.Fatal(err)
	}
	if err := rx.StartListening(); err != nil {
		t.Fatal(err)
	}
	if err := tx.OpenWritingPipe(addrA); err != nil {
		t.Fatal(err)
	}
	return tx, rx
}

func TestDelivery(t *testing.T) {
	tx, rx := newPair(t)
	payload := []byte("hello mesh")

	ok, err := tx.WriteFast(payload, false)
	if err != nil || !ok {
		t.Fatalf("WriteFast() = %v, %v, want true", ok, err)
	}
	if done, _ := tx.TxStandBy(0); !done {
		t.Errorf("TxStandBy() = false after acked write")
	}

	pipe, avail, _ := rx.Available()
	if !avail || pipe != 1 {
		t.Fatalf("Available() = %d, %v, want 1, true", pipe, avail)
	}
	size, _ := rx.DynamicPayloadSize()
	if size != len(payload) {
		t.Errorf("DynamicPayloadSize() = %d, want %d", size, len(payload))
	}
	buf := make([]byte, 32)
	n, _ := rx.Read(buf)
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("Read() = %q, want %q", buf[:n], payload)
	}
	if _, avail, _ := rx.Available(); avail {
		t.Errorf("Available() = true after draining")
	}

	if log := tx.TxLog(); len(log) != 1 || !bytes.Equal(log[0], payload) {
		t.Errorf("TxLog() = %q", log)
	}
}

func TestAutoAck(t *testing.T) {
	tests := []struct {
		name      string
		addr      []byte
		autoAck   bool
		multicast bool
		want      bool
	}{
		{"acked", addrA, true, false, true},
		{"ack disabled on pipe", addrA, false, false, false},
		{"no-ack frame to pipe without ack", addrA, false, true, true},
		{"nobody listening", addrB, true, false, false},
		{"multicast to nobody", addrB, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, rx := newPair(t)
			if err := rx.SetAutoAckPipe(1, tt.autoAck); err != nil {
				t.Fatal(err)
			}
			if err := tx.OpenWritingPipe(tt.addr); err != nil {
				t.Fatal(err)
			}
			ok, _ := tx.Write([]byte{1, 2, 3}, tt.multicast)
			if ok != tt.want {
				t.Errorf("Write() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestCorruptFrameDropped(t *testing.T) {
	tx, rx := newPair(t)
	tx.CorruptNext()
	if ok, _ := tx.Write([]byte{0xAA, 0xBB}, false); ok {
		t.Errorf("Write() = true for corrupted frame")
	}
	if _, avail, _ := rx.Available(); avail {
		t.Errorf("corrupted frame was delivered")
	}

	if ok, _ := tx.Write([]byte{0xAA, 0xBB}, false); !ok {
		t.Errorf("Write() = false after corruption cleared")
	}
}

func TestChannelIsolation(t *testing.T) {
	tx, rx := newPair(t)
	if err := rx.SetChannel(90); err != nil {
		t.Fatal(err)
	}
	if ok, _ := tx.Write([]byte{1}, false); ok {
		t.Errorf("Write() = true across channels")
	}
	if err := rx.SetChannel(126); err == nil {
		t.Errorf("SetChannel(126) error = nil")
	}
}

func TestFailWrites(t *testing.T) {
	tx, rx := newPair(t)
	tx.FailWrites(2)
	for i := 0; i < 2; i++ {
		if ok, _ := tx.WriteFast([]byte{byte(i)}, false); ok {
			t.Errorf("write %d succeeded, want failure", i)
		}
	}
	if ok, _ := tx.WriteFast([]byte{9}, false); !ok {
		t.Errorf("write after failures = false")
	}
	buf := make([]byte, 32)
	n, _ := rx.Read(buf)
	if n != 1 || buf[0] != 9 {
		t.Errorf("Read() = % x, want 09", buf[:n])
	}
}

func TestDeadRadio(t *testing.T) {
	air := NewAir(nil)
	r := air.NewRadio()
	r.SetDead(true)
	if err := r.Begin(); err == nil {
		t.Errorf("Begin() error = nil for dead radio")
	}
	if ok, _ := r.IsConnected(); ok {
		t.Errorf("IsConnected() = true for dead radio")
	}
}

func TestRingBufferOverwrite(t *testing.T) {
	var rb ringBuffer
	for i := 0; i < ringCapacity+3; i++ {
		rb.push([]byte{byte(i)})
	}
	if !rb.full() {
		t.Fatalf("full() = false")
	}
	f, _ := rb.pop()
	if f[0] != 3 {
		t.Errorf("oldest = %d, want 3", f[0])
	}
	if got := len(rb.snapshot()); got != ringCapacity-1 {
		t.Errorf("len(snapshot()) = %d, want %d", got, ringCapacity-1)
	}
}
