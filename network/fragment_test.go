package network

import (
	"bytes"
	"log/slog"
	"testing"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

func fragments(from proto.Address, id uint16, typ byte, payload []byte) []*proto.Frame {
	count := (len(payload) + proto.MaxFramePayloadSize - 1) / proto.MaxFramePayloadSize
	var out []*proto.Frame
	for i := 0; i < count; i++ {
		left := count - i
		h := proto.Header{From: from, To: 0, ID: id, Reserved: uint8(left)}
		switch {
		case left == 1:
			h.Type = proto.TypeLastFragment
			h.Reserved = typ
		case i == 0:
			h.Type = proto.TypeFirstFragment
		default:
			h.Type = proto.TypeMoreFragments
		}
		end := min((i+1)*proto.MaxFramePayloadSize, len(payload))
		out = append(out, &proto.Frame{Header: h, Payload: payload[i*proto.MaxFramePayloadSize : end]})
	}
	return out
}

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 1)
	}
	return b
}

func TestAssemblerRoundTrip(t *testing.T) {
	for _, size := range []int{25, 48, 49, 100, proto.MaxPayloadSize} {
		a := newAssembler(slog.Default())
		payload := testPayload(size)
		var done *proto.Frame
		for _, f := range fragments(0o1, 9, 42, payload) {
			if done != nil {
				t.Fatalf("size %d: assembly completed early", size)
			}
			done = a.add(f)
		}
		if done == nil {
			t.Fatalf("size %d: assembly did not complete", size)
		}
		if !bytes.Equal(done.Payload, payload) {
			t.Errorf("size %d: payload mismatch", size)
		}
		if done.Type != 42 || done.Reserved != 1 || done.ID != 9 {
			t.Errorf("size %d: header = %v, want type 42 reserved 1 id 9", size, done.Header)
		}
		if len(a.pending) != 0 {
			t.Errorf("size %d: %d assemblies left pending", size, len(a.pending))
		}
	}
}

func TestAssemblerDuplicateMoreDropped(t *testing.T) {
	a := newAssembler(slog.Default())
	payload := testPayload(96)
	frags := fragments(0o2, 5, 10, payload)

	a.add(frags[0])
	a.add(frags[1])
	want := append([]byte(nil), a.pending[0o2].payload...)

	dup := *frags[1]
	dup.Payload = bytes.Repeat([]byte{0xEE}, proto.MaxFramePayloadSize)
	if got := a.add(&dup); got != nil {
		t.Fatalf("duplicate fragment completed an assembly")
	}
	p := a.pending[0o2]
	if p == nil {
		t.Fatalf("duplicate fragment discarded the pending assembly")
	}
	if !bytes.Equal(p.payload, want) {
		t.Errorf("duplicate fragment changed the partial payload")
	}

	a.add(frags[2])
	done := a.add(frags[3])
	if done == nil || !bytes.Equal(done.Payload, payload) {
		t.Errorf("assembly did not survive the duplicate")
	}
}

func TestAssemblerRejects(t *testing.T) {
	tests := []struct {
		name  string
		input func() []*proto.Frame
	}{
		{
			name: "last without first",
			input: func() []*proto.Frame {
				return fragments(0o1, 1, 10, testPayload(48))[1:]
			},
		},
		{
			name: "id mismatch on last",
			input: func() []*proto.Frame {
				f := fragments(0o1, 1, 10, testPayload(48))
				f[1].ID = 2
				return f
			},
		},
		{
			name: "missing middle fragment",
			input: func() []*proto.Frame {
				f := fragments(0o1, 1, 10, testPayload(72))
				return []*proto.Frame{f[0], f[2]}
			},
		},
		{
			name: "too many fragments announced",
			input: func() []*proto.Frame {
				f := fragments(0o1, 1, 10, testPayload(48))
				f[0].Reserved = proto.MaxFragments + 1
				return f
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssembler(slog.Default())
			for _, f := range tt.input() {
				if done := a.add(f); done != nil {
					t.Fatalf("add() completed a bad sequence: %v", done.Header)
				}
			}
		})
	}
}

func TestAssemblerPerSender(t *testing.T) {
	a := newAssembler(slog.Default())
	p1, p2 := testPayload(60), bytes.Repeat([]byte{0x55}, 50)
	f1 := fragments(0o1, 3, 11, p1)
	f2 := fragments(0o2, 3, 12, p2)

	for i := 0; i < 2; i++ {
		a.add(f1[i])
		a.add(f2[i])
	}
	d1 := a.add(f1[2])
	d2 := a.add(f2[2])
	if d1 == nil || !bytes.Equal(d1.Payload, p1) || d1.Type != 11 {
		t.Errorf("sender 01 assembly wrong")
	}
	if d2 == nil || !bytes.Equal(d2.Payload, p2) || d2.Type != 12 {
		t.Errorf("sender 02 assembly wrong")
	}
}

func TestAssemblerFirstRestarts(t *testing.T) {
	a := newAssembler(slog.Default())
	old := fragments(0o1, 4, 10, testPayload(72))
	a.add(old[0])
	a.add(old[1])

	payload := bytes.Repeat([]byte{0x77}, 48)
	var done *proto.Frame
	for _, f := range fragments(0o1, 4, 10, payload) {
		done = a.add(f)
	}
	if done == nil || !bytes.Equal(done.Payload, payload) {
		t.Errorf("new first fragment did not restart the assembly")
	}
}
