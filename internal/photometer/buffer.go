package photometer

import (
	"fmt"
	"math"
	"slices"
	"sync"
)

// Stats summarises the frequencies of a buffer
type Stats struct {
	Median float64 // Low median frequency in Hz
	Mean   float64 // Mean frequency in Hz
	StdDev float64 // Standard deviation around the mean, in Hz
}

// Buffer is a thread-safe, fixed capacity FIFO of readings. It is filled by
// a single producer and drained by a single consumer once full.
type Buffer struct {
	capacity int // Maximum number of readings to store

	mu       sync.Mutex
	readings []Reading
	full     chan struct{}
}

// NewBuffer creates a buffer holding up to capacity readings.
// Returns an error if capacity is not positive.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid buffer capacity: %d", capacity)
	}
	return &Buffer{
		capacity: capacity,
		readings: make([]Reading, 0, capacity),
		full:     make(chan struct{}),
	}, nil
}

// Append adds a reading to the end of the buffer. It fails with
// ErrCapacityExceeded when the buffer is already full.
func (b *Buffer) Append(r Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.readings) >= b.capacity {
		return fmt.Errorf("%w: capacity %d", ErrCapacityExceeded, b.capacity)
	}

	b.readings = append(b.readings, r)
	if len(b.readings) == b.capacity {
		close(b.full)
	}
	return nil
}

// Full returns a channel that is closed once the buffer reaches its capacity
func (b *Buffer) Full() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.full
}

// IsFull returns true if the buffer has reached its capacity.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings) >= b.capacity
}

// Drain removes and returns all readings in insertion order.
// Returns nil if the buffer is empty.
func (b *Buffer) Drain() []Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.readings) == 0 {
		return nil
	}

	results := b.readings
	b.reset()
	return results
}

// Clear removes all readings from the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Buffer) reset() {
	b.readings = make([]Reading, 0, b.capacity)
	b.full = make(chan struct{})
}

// Len returns the current number of readings in the buffer.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}

// Capacity returns the maximum number of readings the buffer holds.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Frequencies returns a copy of the buffered frequencies in insertion order.
func (b *Buffer) Frequencies() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	freqs := make([]float64, len(b.readings))
	for i, r := range b.readings {
		freqs[i] = r.Frequency
	}
	return freqs
}

// Statistics computes the low median, mean and standard deviation of the
// buffered frequencies.
func (b *Buffer) Statistics() (Stats, error) {
	return ComputeStats(b.Frequencies())
}

// ComputeStats computes the low median, mean and standard deviation of
// values. The median of an even number of values is the lower of the two
// central values. The standard deviation is taken around the mean and
// divided by the number of values. At least two values are required.
func ComputeStats(values []float64) (Stats, error) {
	n := len(values)
	if n < 2 {
		return Stats{}, fmt.Errorf("%w: %d values, at least 2 required", ErrInsufficientData, n)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return Stats{
		Median: sorted[(n-1)/2],
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(n)),
	}, nil
}
