package audio

import "sync"

// StreamBuffer accumulates captured samples between drains. All operations
// hold the lock only for the duration of a slice copy.
type StreamBuffer struct {
	mu      sync.Mutex
	samples []float32
}

func NewStreamBuffer(capacityHint int) *StreamBuffer {
	return &StreamBuffer{samples: make([]float32, 0, capacityHint)}
}

// Append copies samples onto the tail of the buffer.
func (b *StreamBuffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
}

// Drain removes and returns every sample appended since the previous drain.
// The returned slice is owned by the caller.
func (b *StreamBuffer) Drain() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	b.samples = b.samples[:0]
	return out
}

// Snapshot returns a copy of the buffered samples without draining them.
func (b *StreamBuffer) Snapshot() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Len reports the number of buffered samples.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *StreamBuffer) Reset() {
	b.mu.Lock()
	b.samples = b.samples[:0]
	b.mu.Unlock()
}

// Samples converts a duration in milliseconds to a sample count at sampleRate.
func Samples(ms, sampleRate int) int {
	return ms * sampleRate / 1000
}
