package vad

// State is the gate's speech/silence state (spec §4.3).
type State int

const (
	Silence State = iota
	Speech
)

func (s State) String() string {
	if s == Speech {
		return "speech"
	}
	return "silence"
}

// SealReason distinguishes why a speech_end was emitted.
type SealReason int

const (
	// SealNone means no seal occurred this frame.
	SealNone SealReason = iota
	// SealHangover means consecutive low-probability frames reached
	// HangoverFrames.
	SealHangover
	// SealMaxDuration means the utterance reached MaxUtteranceSec.
	SealMaxDuration
)

// Config tunes the gate's hysteresis (spec §4.3 defaults).
type Config struct {
	ThresholdOn     float32
	ThresholdOff    float32
	MinSpeechFrames int
	HangoverFrames  int
	PreRollMs       int
	HangoverMs      int
	MaxUtteranceSec int
	SampleRate      int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdOn:     0.5,
		ThresholdOff:    0.35,
		MinSpeechFrames: 2,
		HangoverFrames:  16,
		PreRollMs:       512,
		HangoverMs:      512,
		MaxUtteranceSec: 30,
		SampleRate:      16000,
	}
}

// PreRollSamples returns the configured pre-roll window in samples.
func (c Config) PreRollSamples() int {
	return c.PreRollMs * c.SampleRate / 1000
}

// HangoverSamples returns the configured trailing hangover window in
// samples, appended to a sealed utterance after the last speech frame.
func (c Config) HangoverSamples() int {
	return c.HangoverMs * c.SampleRate / 1000
}

// MaxUtteranceSamples returns the hard length cap in samples.
func (c Config) MaxUtteranceSamples() int64 {
	return int64(c.MaxUtteranceSec) * int64(c.SampleRate)
}

// Decision is the gate's verdict for one processed frame.
type Decision struct {
	Probability float32
	State       State
	SpeechStart bool
	SpeechEnd   bool
	SealReason  SealReason
}

// Gate drives the speech/silence state machine described in spec §4.3.
// It is a pure function of the engine's probability stream plus its own
// counters — it never touches the ring buffer or utterance store;
// callers translate SpeechStart/SpeechEnd into buffer operations.
type Gate struct {
	engine Engine
	cfg    Config

	state         State
	consecSpeech  int
	consecSilence int
	speechSamples int64 // samples accumulated since the current SpeechStart
}

// NewGate constructs a Gate in the initial Silence state.
func NewGate(engine Engine, cfg Config) *Gate {
	return &Gate{engine: engine, cfg: cfg, state: Silence}
}

// Process scores one FrameSize-sample frame and advances the state
// machine, returning the resulting decision.
func (g *Gate) Process(frame []float32) (Decision, error) {
	prob, err := g.engine.Process(frame)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Probability: prob}

	switch g.state {
	case Silence:
		if prob >= g.cfg.ThresholdOn {
			g.consecSpeech++
		} else {
			g.consecSpeech = 0
		}
		if g.consecSpeech >= g.cfg.MinSpeechFrames {
			g.state = Speech
			g.consecSilence = 0
			g.speechSamples = int64(g.consecSpeech * FrameSize)
			d.SpeechStart = true
		}

	case Speech:
		g.speechSamples += FrameSize
		if prob < g.cfg.ThresholdOff {
			g.consecSilence++
		} else {
			g.consecSilence = 0
		}

		switch {
		case g.speechSamples >= g.cfg.MaxUtteranceSamples():
			d.SealReason = SealMaxDuration
		case g.consecSilence >= g.cfg.HangoverFrames:
			d.SealReason = SealHangover
		}

		if d.SealReason != SealNone {
			d.SpeechEnd = true
			g.state = Silence
			g.consecSpeech = 0
			g.consecSilence = 0
			g.speechSamples = 0
		}
	}

	d.State = g.state
	return d, nil
}

// Reset returns the gate (and its engine) to the initial silence state.
func (g *Gate) Reset() error {
	g.state = Silence
	g.consecSpeech = 0
	g.consecSilence = 0
	g.speechSamples = 0
	return g.engine.Reset()
}
