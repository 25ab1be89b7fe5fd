package otosink

import (
	"bytes"
	"testing"
)

func TestRingWrapsAround(t *testing.T) {
	t.Parallel()

	b := newRing(8, 2)
	if n := b.Write([]byte{1, 2, 3, 4, 5, 6}); n != 6 {
		t.Fatalf("write: got %d, want 6", n)
	}
	out := make([]byte, 4)
	b.Read(out)
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Errorf("read: got %v", out)
	}
	// Four bytes free at the end and start of the buffer.
	if n := b.Write([]byte{7, 8, 9, 10, 11, 12}); n != 6 {
		t.Fatalf("write across the end: got %d, want 6", n)
	}
	out = make([]byte, 8)
	b.Read(out)
	if want := []byte{5, 6, 7, 8, 9, 10, 11, 12}; !bytes.Equal(out, want) {
		t.Errorf("read across the end: got %v, want %v", out, want)
	}
}

func TestRingWholeFrames(t *testing.T) {
	t.Parallel()

	b := newRing(10, 4)
	if got := b.size(); got != 8 {
		t.Errorf("size: got %d, want 8", got)
	}
	if n := b.Write(make([]byte, 7)); n != 4 {
		t.Errorf("partial frame: got %d, want 4", n)
	}
	if n := b.Write(make([]byte, 12)); n != 4 {
		t.Errorf("overfull: got %d, want 4", n)
	}
	if n := b.Write(make([]byte, 4)); n != 0 {
		t.Errorf("full: got %d, want 0", n)
	}
}

func TestRingSilenceAndIdle(t *testing.T) {
	t.Parallel()

	b := newRing(8, 2)
	out := []byte{9, 9, 9, 9}
	b.Read(out)
	if !bytes.Equal(out, make([]byte, 4)) {
		t.Errorf("empty read: got %v, want silence", out)
	}
	if b.idle() {
		t.Error("idle before any audio was written")
	}

	b.Write([]byte{1, 2})
	out = []byte{9, 9, 9, 9}
	if n, err := b.Read(out); n != 4 || err != nil {
		t.Fatalf("read: got (%d, %v), want (4, nil)", n, err)
	}
	if !bytes.Equal(out, []byte{1, 2, 0, 0}) {
		t.Errorf("short read: got %v", out)
	}
	if !b.idle() {
		t.Error("not idle after running dry")
	}
	b.Write([]byte{3, 4})
	if b.idle() {
		t.Error("idle after new data")
	}

	b.reset()
	if b.len() != 0 || b.idle() {
		t.Errorf("after reset: len %d idle %v", b.len(), b.idle())
	}
}
