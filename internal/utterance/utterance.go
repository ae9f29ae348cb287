// Package utterance accumulates the samples of one speech utterance
// between a VAD speech_start and speech_end (spec §3, §4.3). It is the
// growable counterpart to the small fixed ring buffer: where the ring
// only ever retains a pre-roll/hangover window, a Builder grows with
// every frame the session hands it for as long as the utterance is
// open, bounded by the configured maximum duration.
package utterance

// Utterance is a sealed, time-contiguous span of samples. Once
// returned by Builder.Seal it is immutable — callers get a private
// copy of the sample slice.
type Utterance struct {
	SessionID  int64
	Samples    []float32
	SampleRate int
	StartSec   float64
	EndSec     float64
}

// DurationSec reports the utterance's length in seconds.
func (u Utterance) DurationSec() float64 {
	return u.EndSec - u.StartSec
}

// Builder accumulates samples for one in-flight utterance, starting
// from whatever pre-roll the caller pulled from the ring buffer at
// speech_start. It is not safe for concurrent use — each session owns
// exactly one Builder at a time (spec §5: "session ring/utterance
// buffers: owning session only").
type Builder struct {
	sessionID  int64
	sampleRate int
	startSec   float64
	maxSamples int
	samples    []float32
	sealed     bool
}

// NewBuilder starts an utterance at startSec, seeded with preRoll
// samples pulled from the ring buffer, capped at maxSamples total
// (spec §3: length ≤ max_utterance_sec · sample_rate).
func NewBuilder(sessionID int64, sampleRate int, startSec float64, preRoll []float32, maxSamples int) *Builder {
	b := &Builder{
		sessionID:  sessionID,
		sampleRate: sampleRate,
		startSec:   startSec,
		maxSamples: maxSamples,
	}
	b.samples = make([]float32, 0, maxSamples)
	b.appendLocked(preRoll)
	return b
}

// Append adds frame to the utterance, silently truncating at the
// configured maximum length. It is a no-op once Sealed.
func (b *Builder) Append(frame []float32) {
	if b.sealed {
		return
	}
	b.appendLocked(frame)
}

func (b *Builder) appendLocked(samples []float32) {
	remaining := b.maxSamples - len(b.samples)
	if remaining <= 0 {
		return
	}
	if len(samples) > remaining {
		samples = samples[:remaining]
	}
	b.samples = append(b.samples, samples...)
}

// Len reports the number of samples accumulated so far.
func (b *Builder) Len() int {
	return len(b.samples)
}

// Sealed reports whether Seal has already been called.
func (b *Builder) Sealed() bool {
	return b.sealed
}

// Seal finalizes the utterance and returns an immutable copy. Calling
// Seal more than once returns the same result; Append after Seal is a
// no-op.
func (b *Builder) Seal() Utterance {
	b.sealed = true
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return Utterance{
		SessionID:  b.sessionID,
		Samples:    out,
		SampleRate: b.sampleRate,
		StartSec:   b.startSec,
		EndSec:     b.startSec + float64(len(out))/float64(b.sampleRate),
	}
}
