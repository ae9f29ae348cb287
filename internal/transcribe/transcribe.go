// Package transcribe implements the speech-to-text worker pool and the
// dispatcher that hands sealed utterances to it (spec §4.4). Workers
// wrap a pluggable Transcriber; a per-worker circuit breaker retires a
// worker after repeated failures without taking down the pool.
package transcribe

import (
	"context"
)

// Segment is one timed span of a recognition result.
type Segment struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// Result is the outcome of transcribing one utterance (spec §3). Err is
// set, and Text/Segments left zero, on any failure; a Result is never
// both.
type Result struct {
	Text     string
	Segments []Segment
	Language string
	Err      *ResultError
}

// ResultError is the wire-facing error shape nested in a Result,
// mirroring internal/apperr.Error without requiring callers to import
// apperr just to read a kind string back out.
type ResultError struct {
	Kind    string
	Message string
}

// Transcriber is the pluggable speech-to-text backend contract (spec
// §6.4). Implementations may be slow (seconds) and must be safe to call
// from a worker goroutine; they are not required to be deterministic.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, lang, prompt string) (Result, error)
}
