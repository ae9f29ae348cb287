// Package ring implements the fixed-capacity circular sample buffer that
// backs a session's live audio window (spec §4.1). It extends the plain
// overwrite-oldest circular buffer technique with an absolute monotonic
// write position, so callers can take a mark before a detector fires and
// later ask for everything since that mark — the pre-roll mechanism the
// VAD gate needs when it retroactively decides speech started a few
// frames back.
package ring

import (
	"errors"
	"sync"
)

// InsufficientData is returned by Tail when fewer than n samples have
// ever been written to the buffer.
var InsufficientData = errors.New("ring: insufficient data")

// MarkExpired is returned by Since when the requested mark has already
// been overwritten by newer samples.
var MarkExpired = errors.New("ring: mark expired")

// Buffer is a fixed-capacity circular buffer of float32 PCM samples,
// safe for concurrent use. The zero value is not usable; construct with
// New.
type Buffer struct {
	mu      sync.Mutex
	buf     []float32
	cap     int64
	written int64 // absolute count of samples ever appended
}

// New constructs a Buffer holding up to capacity samples.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer{
		buf: make([]float32, capacity),
		cap: int64(capacity),
	}
}

// Append writes samples into the buffer, overwriting the oldest data
// once the buffer wraps. It never fails and never blocks.
func (b *Buffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range samples {
		b.buf[b.written%b.cap] = s
		b.written++
	}
}

// Mark returns the buffer's current absolute write position. Pass it to
// Since later to retrieve everything appended from that point on, as
// long as it hasn't been overwritten.
func (b *Buffer) Mark() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// validSpan returns [low, high): the absolute index range currently
// retrievable. Caller must hold b.mu.
func (b *Buffer) validSpan() (low, high int64) {
	high = b.written
	low = high - b.cap
	if low < 0 {
		low = 0
	}
	return low, high
}

// Tail returns a fresh copy of the most recent n samples in
// chronological order. It returns InsufficientData if fewer than n
// samples have ever been written, or if n exceeds the buffer's
// capacity.
func (b *Buffer) Tail(n int) ([]float32, error) {
	if n <= 0 {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if int64(n) > b.written || int64(n) > b.cap {
		return nil, InsufficientData
	}
	return b.sliceLocked(b.written-int64(n), b.written), nil
}

// Since returns a fresh copy of every sample appended from mark
// (inclusive) up to the current write position, in chronological
// order. It returns MarkExpired if mark predates everything the buffer
// still retains.
func (b *Buffer) Since(mark int64) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	low, high := b.validSpan()
	if mark < low {
		return nil, MarkExpired
	}
	if mark > high {
		mark = high
	}
	return b.sliceLocked(mark, high), nil
}

// sliceLocked materializes the samples in absolute range [from, to) in
// chronological order. Caller must hold b.mu and guarantee the range is
// within what's retained.
func (b *Buffer) sliceLocked(from, to int64) []float32 {
	n := to - from
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	for i := int64(0); i < n; i++ {
		out[i] = b.buf[(from+i)%b.cap]
	}
	return out
}

// Len reports how many samples are currently retained (capped at
// capacity).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	low, high := b.validSpan()
	return int(high - low)
}

// Cap reports the buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return int(b.cap)
}
