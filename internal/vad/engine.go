// Package vad implements the speech/silence gate that sits between the
// frame assembler and the utterance store (spec §4.3). An Engine scores
// one 512-sample frame at a time; Gate turns that score stream into
// speech_start/speech_end events via hysteresis.
package vad

import "errors"

// FrameSize is the number of samples an Engine consumes per call,
// matching the frame assembler's native window (spec §4.2).
const FrameSize = 512

// ErrWrongFrameSize is returned when a caller hands Engine.Process a
// frame that isn't exactly FrameSize samples long.
var ErrWrongFrameSize = errors.New("vad: frame must be exactly 512 samples")

// Engine scores a single audio frame's speech probability. Implementations
// are stateful across calls (spec §4.3: "the detector is stateful") but
// must not perform I/O from Process.
type Engine interface {
	// Process returns the probability in [0,1] that frame contains speech.
	Process(frame []float32) (probability float32, err error)
	// Reset clears any internal state, e.g. between sessions.
	Reset() error
	// Close releases engine resources.
	Close() error
}
