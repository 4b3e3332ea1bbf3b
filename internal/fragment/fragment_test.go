package fragment

import "testing"

func TestReassembleInOrder(t *testing.T) {
	r := New()
	r.Start(1, 12)
	r.Data(1, 0, []byte{1, 2, 3, 4, 5})
	r.Data(1, 1, []byte{6, 7, 8, 9, 10})
	r.Data(1, 2, []byte{11, 12})

	data, ok := r.End(1, [6]byte{})
	if !ok {
		t.Fatal("expected reassembly to complete")
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if len(data) != len(want) {
		t.Fatalf("got %v, want %v", data, want)
	}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d", i, data[i], want[i])
		}
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	r := New()
	r.Start(1, 10)
	r.Data(1, 1, []byte{6, 7, 8, 9, 10})
	r.Data(1, 0, []byte{1, 2, 3, 4, 5})

	data, ok := r.End(1, [6]byte{})
	if !ok || len(data) != 10 {
		t.Fatalf("got %v, ok=%v", data, ok)
	}
}

func TestEndBeforeAllFragmentsMissing(t *testing.T) {
	r := New()
	r.Start(1, 10)
	r.Data(1, 0, []byte{1, 2, 3, 4, 5})

	if _, ok := r.End(1, [6]byte{}); ok {
		t.Fatal("expected End to fail with a missing fragment")
	}
}

func TestEndWithoutStart(t *testing.T) {
	r := New()
	if _, ok := r.End(5, [6]byte{}); ok {
		t.Fatal("expected End to fail for an address with no in-flight reassembly")
	}
}

// TestOutOfRangeSeqIgnored exercises the corrected bound check: a seq at
// or beyond the fragment count for the declared length must be dropped,
// not indexed into the chunk slice.
func TestOutOfRangeSeqIgnored(t *testing.T) {
	r := New()
	r.Start(1, 6) // 2 fragments of 5 bytes: seq 0, 1
	r.Data(1, 5, []byte{1, 2, 3, 4, 5})
	r.Data(1, 0, []byte{1, 2, 3, 4, 5})
	r.Data(1, 1, []byte{6})

	data, ok := r.End(1, [6]byte{})
	if !ok {
		t.Fatal("expected reassembly to complete, ignoring the out-of-range fragment")
	}
	if len(data) != 6 {
		t.Fatalf("got %d bytes, want 6", len(data))
	}
}

func TestRepeatSeqIgnored(t *testing.T) {
	r := New()
	r.Start(1, 5)
	r.Data(1, 0, []byte{1, 2, 3, 4, 5})
	r.Data(1, 0, []byte{9, 9, 9, 9, 9})

	data, ok := r.End(1, [6]byte{})
	if !ok {
		t.Fatal("expected reassembly to complete")
	}
	if data[0] != 1 {
		t.Fatalf("repeat fragment overwrote the first arrival: got %v", data)
	}
}

func TestIndependentSources(t *testing.T) {
	r := New()
	r.Start(1, 5)
	r.Start(2, 5)
	r.Data(2, 0, []byte{2, 2, 2, 2, 2})
	r.Data(1, 0, []byte{1, 1, 1, 1, 1})

	d1, ok1 := r.End(1, [6]byte{})
	d2, ok2 := r.End(2, [6]byte{})
	if !ok1 || !ok2 {
		t.Fatal("expected both sources to reassemble independently")
	}
	if d1[0] != 1 || d2[0] != 2 {
		t.Fatalf("cross-talk between sources: d1=%v d2=%v", d1, d2)
	}
}
