// Package buffer provides the bounded replay buffer each PTY session
// writes its output into, so a client attaching later receives recent
// history before live streaming begins.
package buffer

import "sync"

// Ring is a fixed-capacity byte ring. Writes past capacity overwrite
// the oldest bytes; reads always see a contiguous copy of what remains.
// Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []byte
	start int // index of the oldest byte
	size  int // bytes currently held
}

// New creates a ring holding at most capacity bytes. Capacities below
// one are raised to one.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes once the ring is full.
// It never fails; the error return satisfies io.Writer.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n == 0 {
		return 0, nil
	}

	// Only the trailing capacity bytes of a huge write can survive.
	if n >= len(r.buf) {
		copy(r.buf, p[n-len(r.buf):])
		r.start = 0
		r.size = len(r.buf)
		return n, nil
	}

	end := (r.start + r.size) % len(r.buf)
	wrote := copy(r.buf[end:], p)
	copy(r.buf, p[wrote:])

	r.size += n
	if r.size > len(r.buf) {
		r.start = (r.start + r.size - len(r.buf)) % len(r.buf)
		r.size = len(r.buf)
	}
	return n, nil
}

// Snapshot returns a copy of the buffered bytes, oldest first. An empty
// ring yields nil.
func (r *Ring) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}
	out := make([]byte, r.size)
	n := copy(out, r.buf[r.start:])
	if n < r.size {
		copy(out[n:], r.buf[:r.size-n])
	}
	return out
}

// Len reports how many bytes are buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap reports the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Reset discards everything buffered.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.size = 0
}
