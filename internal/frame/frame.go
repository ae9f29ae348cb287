// Package frame assembles arbitrary-sized byte chunks from the transport
// into fixed-size 512-sample float32 frames (spec §4.2). The wire
// contract (§6.1) guarantees an integer number of 16-bit samples across
// the whole stream, but not per chunk, so the assembler carries at most
// one odd trailing byte between calls.
package frame

import (
	"github.com/echoline-labs/streamrecog/internal/apperr"
)

// Size is the canonical frame length in samples, matching the VAD's
// native window (spec §4.2, §4.3).
const Size = 512

const scale = 1.0 / 32768.0

// Assembler converts a stream of raw PCM bytes into a lazy sequence of
// Size-sample float32 frames, holding a short carry buffer across
// Write calls for chunks that split a sample in two.
type Assembler struct {
	carry   [1]byte
	hasCarr bool
	pending []float32 // samples accumulated below a full frame
}

// New constructs an empty Assembler.
func New() *Assembler {
	return &Assembler{pending: make([]float32, 0, Size)}
}

// Write feeds raw little-endian int16 PCM bytes into the assembler and
// returns every full Size-sample frame that became available, in
// arrival order. It never fails; a trailing odd byte is held as carry
// until the next Write completes it.
func (a *Assembler) Write(chunk []byte) [][]float32 {
	if len(chunk) == 0 {
		return nil
	}

	buf := chunk
	if a.hasCarr {
		buf = make([]byte, 0, len(chunk)+1)
		buf = append(buf, a.carry[0])
		buf = append(buf, chunk...)
		a.hasCarr = false
	}

	n := len(buf)
	if n%2 == 1 {
		a.carry[0] = buf[n-1]
		a.hasCarr = true
		buf = buf[:n-1]
	}

	var frames [][]float32
	for i := 0; i+2 <= len(buf); i += 2 {
		s := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
		v := float32(s) * scale
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		a.pending = append(a.pending, v)
		if len(a.pending) == Size {
			frames = append(frames, a.pending)
			a.pending = make([]float32, 0, Size)
		}
	}
	return frames
}

// Close flushes the assembler at end of stream. If a byte remains
// uncombined, it reports OddByteCount and discards it per spec §4.2;
// any partial frame below Size samples is also discarded, since the
// VAD gate only ever consumes full frames.
func (a *Assembler) Close() error {
	var err error
	if a.hasCarr {
		err = apperr.New(apperr.OddByteCount, "trailing odd byte discarded at close")
		a.hasCarr = false
	}
	a.pending = nil
	return err
}
