package protocol

import "testing"

func TestRequiresNetworkAck(t *testing.T) {
	tests := []struct {
		typ  byte
		want bool
	}{
		{1, false},
		{50, false},
		{64, false},
		{65, true},
		{100, true},
		{127, true},
		{TypeAddrResponse, true},
		{TypeAddrConfirm, true},
		{TypeFirstFragment, true},
		{TypeMoreFragments, true},
		{TypeLastFragment, false},
		{191, true},
		{192, false},
		{TypeAck, false},
		{TypePoll, false},
		{200, false},
		{255, false},
	}

	for _, tt := range tests {
		if got := RequiresNetworkAck(tt.typ); got != tt.want {
			t.Errorf("RequiresNetworkAck(%d) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestIsFragmentType(t *testing.T) {
	for _, typ := range []byte{TypeFirstFragment, TypeMoreFragments, TypeLastFragment, TypeMoreFragmentsNack} {
		if !IsFragmentType(typ) {
			t.Errorf("IsFragmentType(%d) = false, want true", typ)
		}
	}
	for _, typ := range []byte{0, 65, TypeExternalData, TypeAck} {
		if IsFragmentType(typ) {
			t.Errorf("IsFragmentType(%d) = true, want false", typ)
		}
	}
}

func TestGenerateNodeID(t *testing.T) {
	for i := 0; i < 100; i++ {
		if GenerateNodeID() == 0 {
			t.Fatal("GenerateNodeID returned the root id")
		}
	}
}
