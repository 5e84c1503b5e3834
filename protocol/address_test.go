package protocol

import "testing"

func TestAddressValid(t *testing.T) {
	tests := []struct {
		addr Address
		want bool
	}{
		{0, true},
		{0o1, true},
		{0o5, true},
		{0o6, false},
		{0o7, false},
		{0o15, true},
		{0o16, false},
		{0o70, false},
		{0o4444, true},
		{0o5555, true},
		{0o5655, false},
		{0o100, true},
		{0o12345, true},
		{0o12375, false},
	}

	for _, tt := range tests {
		if got := tt.addr.Valid(); got != tt.want {
			t.Errorf("%s.Valid() = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestAddressValidExhaustive(t *testing.T) {
	for a := 0; a <= 0xFFFF; a++ {
		want := true
		for v := a; v != 0; v /= 8 {
			if v%8 > 5 {
				want = false
				break
			}
		}
		if got := Address(a).Valid(); got != want {
			t.Fatalf("Address(%o).Valid() = %v, want %v", a, got, want)
		}
	}
}

func TestAddressString(t *testing.T) {
	if got := Address(0o4444).String(); got != "04444" {
		t.Errorf("String() = %q, want %q", got, "04444")
	}
	if got := RootAddress.String(); got != "00" {
		t.Errorf("String() = %q, want %q", got, "00")
	}
}

func TestAddressDepth(t *testing.T) {
	tests := []struct {
		addr Address
		want int
	}{
		{0, 0}, {0o3, 1}, {0o23, 2}, {0o123, 3}, {DefaultAddress, 4},
	}
	for _, tt := range tests {
		if got := tt.addr.Depth(); got != tt.want {
			t.Errorf("%s.Depth() = %d, want %d", tt.addr, got, tt.want)
		}
	}
}

func TestLevelAddress(t *testing.T) {
	want := []Address{0, 0o1, 0o10, 0o100, 0o1000}
	for level, w := range want {
		if got := LevelAddress(uint8(level)); got != w {
			t.Errorf("LevelAddress(%d) = %s, want %s", level, got, w)
		}
	}
}

func TestPipeAddress(t *testing.T) {
	tests := []struct {
		name string
		node Address
		pipe uint8
		want [5]byte
	}{
		{"root pipe 0", 0, 0, [5]byte{0xc3, 0xcc, 0xcc, 0xcc, 0xcc}},
		{"root pipe 1", 0, 1, [5]byte{0x3c, 0xcc, 0xcc, 0xcc, 0xcc}},
		{"child pipe 5", 0o1, 5, [5]byte{0xe3, 0x3c, 0xcc, 0xcc, 0xcc}},
		{"grandchild pipe 5", 0o12, 5, [5]byte{0xe3, 0x33, 0x3c, 0xcc, 0xcc}},
		{"level 1 multicast", 0o1, 0, [5]byte{0xcc, 0x3c, 0xcc, 0xcc, 0xcc}},
		{"default node multicast", DefaultAddress, 0, [5]byte{0xcc, 0x3e, 0xcc, 0xcc, 0xcc}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PipeAddress(tt.node, tt.pipe); got != tt.want {
				t.Errorf("PipeAddress(%s, %d) = % x, want % x", tt.node, tt.pipe, got, tt.want)
			}
		})
	}
}

func TestPipeAddressMulticastSharedPerLevel(t *testing.T) {
	for _, node := range []Address{0o1, 0o2, 0o5} {
		if PipeAddress(node, 0) != PipeAddress(LevelAddress(1), 0) {
			t.Errorf("node %s pipe 0 differs from level 1 address", node)
		}
	}
	if PipeAddress(0o21, 0) == PipeAddress(0o1, 0) {
		t.Errorf("levels 1 and 2 share a multicast address")
	}
}
