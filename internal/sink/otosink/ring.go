// Package otosink plays engine audio on the default sound device through
// oto. The device output is only built with the oto tag; without it the
// package holds just the buffer the device reads from.
package otosink

import "sync"

// ring is a fixed-size PCM buffer written by the audio renderer and read
// by the device. Reads never block: an empty ring reads as silence.
type ring struct {
	mu      sync.Mutex
	buf     []byte
	r, n    int
	frame   int
	started bool
	starved bool
}

func newRing(size, frame int) *ring {
	size -= size % frame
	return &ring{buf: make([]byte, size), frame: frame}
}

// Write copies as many whole frames of p as fit and returns the byte count.
func (b *ring) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(len(p), len(b.buf)-b.n)
	n -= n % b.frame
	w := (b.r + b.n) % len(b.buf)
	c := copy(b.buf[w:], p[:n])
	copy(b.buf, p[c:n])
	b.n += n
	if n > 0 {
		b.started = true
		b.starved = false
	}
	return n
}

// Read fills p with buffered PCM followed by silence.
func (b *ring) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(len(p), b.n)
	c := copy(p[:n], b.buf[b.r:])
	copy(p[c:n], b.buf)
	b.r = (b.r + n) % len(b.buf)
	b.n -= n
	clear(p[n:])
	if n < len(p) && b.started {
		b.starved = true
	}
	return len(p), nil
}

func (b *ring) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func (b *ring) size() int { return len(b.buf) }

// idle reports whether the device ran out of data after playback started.
func (b *ring) idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starved && b.n == 0
}

func (b *ring) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r, b.n = 0, 0
	b.started, b.starved = false, false
}
