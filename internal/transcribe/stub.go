package transcribe

import (
	"context"
	"fmt"
)

// StubTranscriber is a deterministic Transcriber that reports the
// utterance's duration back as a single segment, without running any
// actual model. It exists so the service runs end to end without a
// model dependency wired in, and so tests don't need one either.
type StubTranscriber struct {
	SampleRate int
}

// NewStubTranscriber constructs a StubTranscriber for the given sample rate.
func NewStubTranscriber(sampleRate int) *StubTranscriber {
	return &StubTranscriber{SampleRate: sampleRate}
}

// Transcribe returns a single segment spanning the whole utterance.
func (t *StubTranscriber) Transcribe(ctx context.Context, samples []float32, lang, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	rate := t.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	durSec := float64(len(samples)) / float64(rate)
	text := fmt.Sprintf("[stub transcription: %.2fs]", durSec)

	return Result{
		Text:     text,
		Segments: []Segment{{StartSec: 0, EndSec: durSec, Text: text}},
		Language: lang,
	}, nil
}
