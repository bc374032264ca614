package audio

import "sync"

// #region ring-buffer

// RingBuffer is a fixed-capacity sliding window over the most recent samples.
// Append is called from the capture callback and never allocates or blocks on I/O.
// Snapshot copies the window under the lock and returns the copy.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []float32
	start int // index of the oldest sample
	size  int
}

// NewRingBuffer allocates a buffer holding at most capacity samples.
// capacity must be positive.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("audio: ring buffer capacity must be positive")
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// Append adds samples, evicting the oldest ones once capacity is reached.
func (r *RingBuffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	n := len(r.buf)

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(samples) >= n {
		copy(r.buf, samples[len(samples)-n:])
		r.start, r.size = 0, n
		return
	}

	end := (r.start + r.size) % n
	k := copy(r.buf[end:], samples)
	copy(r.buf, samples[k:])

	r.size += len(samples)
	if r.size > n {
		r.start = (r.start + r.size - n) % n
		r.size = n
	}
}

// Snapshot returns the buffered samples oldest-first without consuming them.
func (r *RingBuffer) Snapshot() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, r.size)
	k := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[k:], r.buf[:r.size-k])
	return out
}

// Len returns the number of buffered samples.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the buffer capacity.
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// Reset drops all buffered samples.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	r.start, r.size = 0, 0
	r.mu.Unlock()
}

// #endregion ring-buffer
