package node

import "testing"

func TestBoardFromID(t *testing.T) {
	cases := []struct {
		id   byte
		want Board
	}{
		{0, BoardIris},
		{6, BoardPrometeo},
		{21, BoardSoter},
		{31, BoardThor},
		{33, BoardRhea},
		{255, BoardUnknown},
	}
	for _, c := range cases {
		if got := BoardFromID(c.id); got != c.want {
			t.Errorf("BoardFromID(%d) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestBoardIsLowPower(t *testing.T) {
	if !BoardIris.IsLowPower() {
		t.Error("Iris should be low-power")
	}
	if !BoardSoter.IsLowPower() {
		t.Error("Soter should be low-power")
	}
	if BoardPrometeo.IsLowPower() {
		t.Error("Prometeo should not be low-power")
	}
}

func TestBoardIsPowerMeter(t *testing.T) {
	if !BoardThor.IsPowerMeter() {
		t.Error("Thor should be a power meter")
	}
	if BoardIris.IsPowerMeter() {
		t.Error("Iris should not be a power meter")
	}
}

func TestNewNodeDerivesBoardFromUUID(t *testing.T) {
	uuid := [16]byte{31}
	n := NewNode([6]byte{1, 2, 3, 4, 5, 6}, uuid, 21)
	if n.Board != BoardThor {
		t.Fatalf("got board %v, want BoardThor", n.Board)
	}
	if n.UnicastAddr != 21 {
		t.Fatalf("got unicast address %d, want 21", n.UnicastAddr)
	}
	if n.IsLowPower() {
		t.Fatal("a Thor node should not be reported as low-power")
	}
}

func TestMACString(t *testing.T) {
	n := NewNode([6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}, [16]byte{}, 0)
	if got, want := n.MACString(), "deadbeef0001"; got != want {
		t.Fatalf("MACString() = %q, want %q", got, want)
	}
}
