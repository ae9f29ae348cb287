package vad

// StubToggleInterval is the number of frames after which the stub engine
// toggles between speech and silence probability. At 32ms per frame
// (512 samples at 16kHz), 32 frames is approximately one second.
const StubToggleInterval = 32

// StubSpeechProbability and StubSilenceProbability are the fixed
// probabilities the stub engine alternates between.
const (
	StubSpeechProbability  float32 = 0.9
	StubSilenceProbability float32 = 0.1
)

// StubEngine returns deterministic probabilities by alternating between
// speech and silence every StubToggleInterval frames. It does not
// inspect the frame's contents, making it suitable for tests and for
// running the service without a native model compiled in.
type StubEngine struct {
	counter  int
	speaking bool
}

// NewStubEngine creates a StubEngine starting in silence.
func NewStubEngine() *StubEngine {
	return &StubEngine{}
}

// Process ignores frame contents and returns a deterministic probability
// based on an internal counter.
func (e *StubEngine) Process(frame []float32) (float32, error) {
	if len(frame) != FrameSize {
		return 0, ErrWrongFrameSize
	}
	e.counter++
	if e.counter >= StubToggleInterval {
		e.counter = 0
		e.speaking = !e.speaking
	}
	if e.speaking {
		return StubSpeechProbability, nil
	}
	return StubSilenceProbability, nil
}

// Reset returns the engine to its initial state.
func (e *StubEngine) Reset() error {
	e.counter = 0
	e.speaking = false
	return nil
}

// Close is a no-op for the stub engine.
func (e *StubEngine) Close() error {
	return nil
}
