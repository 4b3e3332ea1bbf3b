package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Opcode: 0x42, Payload: []byte{1, 2, 3}}
	buf := Encode(f)
	if want := []byte{4, 0x42, 1, 2, 3}; !bytes.Equal(buf, want) {
		t.Fatalf("Encode = % x, want % x", buf, want)
	}

	got, n, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d bytes, want %d", n, len(buf))
	}
	if got.Opcode != f.Opcode || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

func TestDecodeFrameLeavesTrailingBytes(t *testing.T) {
	buf := append(Encode(Frame{Opcode: 1, Payload: []byte{9}}), Encode(Frame{Opcode: 2})...)
	first, n, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if first.Opcode != 1 {
		t.Fatalf("got opcode %d, want 1", first.Opcode)
	}
	second, _, err := DecodeFrame(buf[n:])
	if err != nil {
		t.Fatalf("DecodeFrame (second): %v", err)
	}
	if second.Opcode != 2 {
		t.Fatalf("got opcode %d, want 2", second.Opcode)
	}
}

func TestDecodeFrameIncomplete(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{5, 1, 2}); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("got %v, want ErrIncomplete", err)
	}
	if _, _, err := DecodeFrame(nil); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("got %v, want ErrIncomplete for an empty buffer", err)
	}
}

func TestDecodeFrameInvalidLength(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{0}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("got %v, want ErrInvalidLength", err)
	}
}

func TestReaderReadFrame(t *testing.T) {
	buf := append(Encode(Frame{Opcode: 0x10, Payload: []byte{0xaa, 0xbb}}),
		Encode(Frame{Opcode: 0x20})...)
	r := NewReader(bytes.NewReader(buf))

	f1, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f1.Opcode != 0x10 || !bytes.Equal(f1.Payload, []byte{0xaa, 0xbb}) {
		t.Fatalf("got %+v", f1)
	}

	f2, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame (second): %v", err)
	}
	if f2.Opcode != 0x20 || len(f2.Payload) != 0 {
		t.Fatalf("got %+v, want opcode 0x20 with no payload", f2)
	}
}

func TestScanForPreamble(t *testing.T) {
	buf := append([]byte{0xff, 0xff, 0x04}, append(BootPreamble[:], 0x99)...)
	src := bytes.NewReader(buf)
	if err := ScanForPreamble(src); err != nil {
		t.Fatalf("ScanForPreamble: %v", err)
	}
	rest := make([]byte, 1)
	if _, err := src.Read(rest); err != nil || rest[0] != 0x99 {
		t.Fatalf("expected the byte after the preamble to be 0x99, got %v (err=%v)", rest, err)
	}
}
