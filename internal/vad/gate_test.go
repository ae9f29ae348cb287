package vad

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedEngine returns a prescripted sequence of probabilities, one per
// Process call, repeating the last value once exhausted.
type scriptedEngine struct {
	probs []float32
	i     int
}

func (e *scriptedEngine) Process(frame []float32) (float32, error) {
	if len(frame) != FrameSize {
		return 0, ErrWrongFrameSize
	}
	if e.i >= len(e.probs) {
		return e.probs[len(e.probs)-1], nil
	}
	p := e.probs[e.i]
	e.i++
	return p, nil
}
func (e *scriptedEngine) Reset() error { e.i = 0; return nil }
func (e *scriptedEngine) Close() error { return nil }

func frame() []float32 { return make([]float32, FrameSize) }

func TestGateStaysSilentBelowMinSpeechFrames(t *testing.T) {
	eng := &scriptedEngine{probs: []float32{0.9}}
	g := NewGate(eng, DefaultConfig())

	d, err := g.Process(frame())
	require.NoError(t, err)
	require.False(t, d.SpeechStart)
	require.Equal(t, Silence, d.State)
}

func TestGateEmitsSpeechStartAfterMinSpeechFrames(t *testing.T) {
	cfg := DefaultConfig()
	eng := &scriptedEngine{probs: []float32{0.9, 0.9}}
	g := NewGate(eng, cfg)

	d, err := g.Process(frame())
	require.NoError(t, err)
	require.False(t, d.SpeechStart)

	d, err = g.Process(frame())
	require.NoError(t, err)
	require.True(t, d.SpeechStart)
	require.Equal(t, Speech, d.State)
}

func TestGateHysteresisIgnoresBorderlineDip(t *testing.T) {
	cfg := DefaultConfig()
	// Two frames to enter speech, then a single frame between the two
	// thresholds (0.35 <= p < 0.5): it is not below threshold_off, so it
	// does not count toward the hangover and speech continues.
	eng := &scriptedEngine{probs: []float32{0.9, 0.9, 0.4}}
	g := NewGate(eng, cfg)

	g.Process(frame())
	g.Process(frame())
	d, err := g.Process(frame())
	require.NoError(t, err)
	require.Equal(t, Speech, d.State)
	require.False(t, d.SpeechEnd)
}

func TestGateSealsAfterHangoverFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 1
	cfg.HangoverFrames = 3
	eng := &scriptedEngine{probs: []float32{0.9}}
	g := NewGate(eng, cfg)

	d, _ := g.Process(frame()) // speech_start
	require.True(t, d.SpeechStart)

	eng.probs = []float32{0.1, 0.1, 0.1}
	eng.i = 0
	for i := 0; i < 2; i++ {
		d, err := g.Process(frame())
		require.NoError(t, err)
		require.False(t, d.SpeechEnd)
	}
	d, err := g.Process(frame())
	require.NoError(t, err)
	require.True(t, d.SpeechEnd)
	require.Equal(t, SealHangover, d.SealReason)
	require.Equal(t, Silence, d.State)
}

func TestGateSealsAtMaxUtteranceDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 1
	cfg.MaxUtteranceSec = 1 // 16000 samples = 31.25 frames
	eng := &scriptedEngine{probs: []float32{0.9}}
	g := NewGate(eng, cfg)

	var last struct {
		d Decision
	}
	sealed := false
	for i := 0; i < 64; i++ {
		d, err := g.Process(frame())
		require.NoError(t, err)
		last.d = d
		if d.SpeechEnd {
			sealed = true
			require.Equal(t, SealMaxDuration, d.SealReason)
			break
		}
	}
	require.True(t, sealed)
	_ = last
}

func TestGateResetReturnsToSilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 1
	eng := &scriptedEngine{probs: []float32{0.9}}
	g := NewGate(eng, cfg)

	g.Process(frame())
	require.Equal(t, Speech, g.state)

	require.NoError(t, g.Reset())
	require.Equal(t, Silence, g.state)
}

func TestGateSpeechStartThenSpeechEndPairing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 1
	cfg.HangoverFrames = 2
	probs := []float32{0.9, 0.9, 0.9, 0.1, 0.1}
	eng := &scriptedEngine{probs: probs}
	g := NewGate(eng, cfg)

	var starts, ends int
	for range probs {
		d, err := g.Process(frame())
		require.NoError(t, err)
		if d.SpeechStart {
			starts++
		}
		if d.SpeechEnd {
			ends++
		}
	}
	require.Equal(t, 1, starts)
	require.Equal(t, 1, ends)
}
