// Package stats provides the bounded sample buffer and the summary
// statistics published from it: histograms, percentiles and bimodal
// detection.
package stats

// Buffer is a FIFO ring of samples with a fixed capacity. Once full, each
// push evicts the oldest sample.
type Buffer struct {
	data []float64
	head int // Index of the oldest sample
	size int
}

// NewBuffer creates a buffer holding at most capacity samples.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]float64, capacity)}
}

// Push appends a sample and reports how many samples were evicted (0 or 1).
func (b *Buffer) Push(v float64) int {
	if b.size < len(b.data) {
		b.data[(b.head+b.size)%len(b.data)] = v
		b.size++
		return 0
	}
	b.data[b.head] = v
	b.head = (b.head + 1) % len(b.data)
	return 1
}

// Len returns the number of samples held.
func (b *Buffer) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Values returns the samples oldest first.
func (b *Buffer) Values() []float64 {
	out := make([]float64, b.size)
	for i := range out {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

// Reset empties the buffer without releasing its storage.
func (b *Buffer) Reset() {
	b.head = 0
	b.size = 0
}
