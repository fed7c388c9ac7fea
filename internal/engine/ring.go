package engine

import "sync"

// byteRing is a fixed-capacity byte ring buffer shared between the feed path
// and the device render callback. Writes and reads are partial: each consumes
// as much as fits and reports the count.
type byteRing struct {
	mu   sync.Mutex
	buf  []byte
	r    int
	w    int
	used int
}

func newByteRing(capacity int) *byteRing {
	if capacity <= 0 {
		capacity = 32 * 1024
	}
	return &byteRing{buf: make([]byte, capacity)}
}

// write copies as much of p as fits and returns the number of bytes stored.
func (rb *byteRing) write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := 0
	for n < len(p) && rb.used < len(rb.buf) {
		chunk := len(rb.buf) - rb.w
		if free := len(rb.buf) - rb.used; chunk > free {
			chunk = free
		}
		if rem := len(p) - n; chunk > rem {
			chunk = rem
		}
		copy(rb.buf[rb.w:rb.w+chunk], p[n:n+chunk])
		rb.w = (rb.w + chunk) % len(rb.buf)
		rb.used += chunk
		n += chunk
	}
	return n
}

// read fills p with buffered bytes and returns the number copied.
func (rb *byteRing) read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := 0
	for n < len(p) && rb.used > 0 {
		chunk := len(rb.buf) - rb.r
		if chunk > rb.used {
			chunk = rb.used
		}
		if rem := len(p) - n; chunk > rem {
			chunk = rem
		}
		copy(p[n:n+chunk], rb.buf[rb.r:rb.r+chunk])
		rb.r = (rb.r + chunk) % len(rb.buf)
		rb.used -= chunk
		n += chunk
	}
	return n
}

func (rb *byteRing) free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.used
}

func (rb *byteRing) length() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used
}

func (rb *byteRing) reset() {
	rb.mu.Lock()
	rb.r, rb.w, rb.used = 0, 0, 0
	rb.mu.Unlock()
}
