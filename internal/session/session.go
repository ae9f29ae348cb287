// Package session implements the per-connection supervisor state machine
// (spec §4.6): handshake, then listening/speaking driven by the VAD
// gate, with sealed utterances dispatched to the shared transcription
// pool and results drained back to the client in submission order. It
// wires together ring, frame, vad, utterance, transcribe and audiolog
// without owning any of their internals.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echoline-labs/streamrecog/internal/audiolog"
	"github.com/echoline-labs/streamrecog/internal/config"
	"github.com/echoline-labs/streamrecog/internal/frame"
	"github.com/echoline-labs/streamrecog/internal/ring"
	"github.com/echoline-labs/streamrecog/internal/transcribe"
	"github.com/echoline-labs/streamrecog/internal/utterance"
	"github.com/echoline-labs/streamrecog/internal/vad"
)

// State is the session's coarse input state (spec §3, §4.6). The
// "transcribing" phase named in the spec is a shadow overlay, not a
// distinct value here: a session can be back in Listening while a
// previously sealed utterance still has a result in flight, so state
// alone never blocks new audio.
type State int

const (
	StateHandshake State = iota
	StateListening
	StateSpeaking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outbound is the wire-facing sink a Session delivers events to. wsapi
// implements this against the actual socket; keeping it as an interface
// here avoids an import cycle and lets tests use a recording fake.
type Outbound interface {
	SendVADResult(speechDetected, speechEnded bool, timestampSec float64) error
	SendRecognitionResult(timestampSec float64, result transcribe.Result) error
}

// pending pairs a Future with the timestamp its utterance ended at, so
// the drain loop can report it alongside the eventual result.
type pending struct {
	future       *transcribe.Future
	timestampSec float64
}

// Session owns one connection's ring buffer, frame assembler, VAD gate
// and in-flight utterance builder exclusively (spec §5: "owning session
// only — no cross-task access"); the worker pool and audio logger are
// shared by reference.
type Session struct {
	ID     int64
	Lang   string
	Prompt string

	cfg     config.Audio
	gateCfg vad.Config
	out     Outbound
	pool    *transcribe.Pool
	alog    *audiolog.Logger

	ring      *ring.Buffer
	assembler *frame.Assembler
	gate      *vad.Gate
	builder   *utterance.Builder

	mu            sync.Mutex
	state         State
	stopRequested bool
	zeroBytes     int

	results chan pending
	done    chan struct{}

	cancel context.CancelFunc
}

// New constructs a Session past the handshake, with lang/prompt already
// parsed by the caller (spec §4.6: handshake parsing is the wsapi
// handler's job; by the time a Session exists it has succeeded).
func New(id int64, lang, prompt string, cfg config.Config, engine vad.Engine, pool *transcribe.Pool, alog *audiolog.Logger, out Outbound) *Session {
	gateCfg := vad.Config{
		ThresholdOn:     float32(cfg.Audio.ThresholdOn),
		ThresholdOff:    float32(cfg.Audio.ThresholdOff),
		MinSpeechFrames: cfg.Audio.MinSpeechFrames,
		HangoverFrames:  cfg.Audio.HangoverFrames,
		PreRollMs:       cfg.Audio.PreRollMs,
		HangoverMs:      cfg.Audio.HangoverMs,
		MaxUtteranceSec: cfg.Audio.MaxUtteranceSec,
		SampleRate:      cfg.Audio.SampleRate,
	}
	ringCapacity := gateCfg.PreRollSamples() + gateCfg.HangoverSamples() + vad.FrameSize

	return &Session{
		ID:      id,
		Lang:    lang,
		Prompt:  prompt,
		cfg:     cfg.Audio,
		gateCfg: gateCfg,
		out:     out,
		pool:    pool,
		alog:    alog,

		ring:      ring.New(ringCapacity),
		assembler: frame.New(),
		gate:      vad.NewGate(engine, gateCfg),

		state:   StateListening,
		results: make(chan pending, 64),
		done:    make(chan struct{}),
	}
}

// Start launches the background goroutine that drains transcription
// results and delivers them to Outbound in submission order (spec §5:
// "recognition results are delivered in utterance-sealed order").
// Cancelling ctx discards any result still in flight.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.drainResults(runCtx)
}

// HandleBinaryFrame processes one inbound binary message of raw PCM
// bytes (spec §6.1) and reports whether it completed the end-mark (≥3
// seconds of zero samples, spec §4.6). The caller — the socket read
// loop — must stop reading and call HandleEndMark once this is true.
// Called from a single goroutine per session; not safe for concurrent
// use.
func (s *Session) HandleBinaryFrame(data []byte) (endMark bool, err error) {
	if s.stopRequested {
		return true, nil
	}

	if s.observeEndMark(data) {
		s.stopRequested = true
		return true, nil
	}

	frames := s.assembler.Write(data)
	for _, f := range frames {
		s.processFrame(f)
	}
	return false, nil
}

// observeEndMark tracks a running count of consecutive all-zero bytes
// across messages and reports whether this call crossed the end-mark
// threshold of 3 seconds of zero samples (spec §4.6, §6.1). Bytes of
// the message that triggered the mark are not fed to the assembler:
// the end-mark is a control signal, not audio.
func (s *Session) observeEndMark(data []byte) bool {
	if !allZero(data) {
		s.zeroBytes = 0
		return false
	}
	s.zeroBytes += len(data)
	return s.zeroBytes >= s.cfg.SampleRate*3*2
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return len(data) > 0
}

// processFrame feeds one assembled frame through the ring buffer and
// VAD gate, translating gate decisions into utterance lifecycle and
// outbound vad_result messages (spec §4.3, §4.6).
func (s *Session) processFrame(f []float32) {
	s.ring.Append(f)
	head := s.ring.Mark()
	nowSec := float64(head) / float64(s.cfg.SampleRate)

	decision, err := s.gate.Process(f)
	if err != nil {
		slog.Error("vad gate process failed", "session_id", s.ID, "error", err)
		return
	}

	if decision.SpeechStart {
		preRoll := s.pullPreRoll(head)
		startSec := nowSec - float64(len(preRoll))/float64(s.cfg.SampleRate)
		s.builder = utterance.NewBuilder(s.ID, s.cfg.SampleRate, startSec, preRoll, int(s.gateCfg.MaxUtteranceSamples()))
		s.setState(StateSpeaking)
		if err := s.out.SendVADResult(true, false, nowSec); err != nil {
			slog.Warn("send vad_result failed", "session_id", s.ID, "error", err)
		}
	} else if s.builder != nil {
		// Every frame from here until SpeechEnd belongs to the utterance,
		// including the hangover frames that trail the last speech frame
		// and the one frame that finally crosses the seal threshold.
		s.builder.Append(f)
	}

	if decision.SpeechEnd {
		s.setState(StateListening)
		if err := s.out.SendVADResult(false, true, nowSec); err != nil {
			slog.Warn("send vad_result failed", "session_id", s.ID, "error", err)
		}
		if s.builder != nil {
			sealed := s.builder.Seal()
			s.builder = nil
			s.dispatch(sealed)
		}
	}
}

// pullPreRoll retrieves the pre-roll window (including the current
// frame, which the ring already holds) from the ring buffer. A
// MarkExpired here would mean the ring is undersized for its own
// configuration, which New never produces; the fallback still returns
// whatever the ring currently retains rather than failing the session.
func (s *Session) pullPreRoll(head int64) []float32 {
	mark := head - int64(vad.FrameSize) - int64(s.gateCfg.PreRollSamples())
	if mark < 0 {
		mark = 0
	}
	samples, err := s.ring.Since(mark)
	if err != nil {
		samples, _ = s.ring.Tail(s.ring.Len())
	}
	return samples
}

// dispatch submits a sealed utterance to the worker pool and the audio
// logger, and queues its Future for in-order result delivery. The send
// blocks if a session has an unusually deep backlog of in-flight
// utterances; this is the same "submitting to the worker queue" kind of
// suspension point spec §5 lists for the session task, just one level
// up the pipeline.
func (s *Session) dispatch(u utterance.Utterance) {
	future := s.pool.Submit(s.ID, u, s.Lang, s.Prompt)
	s.alog.Submit(s.ID, u)
	s.results <- pending{future: future, timestampSec: u.EndSec}
}

// drainResults delivers each queued Future's result to Outbound in
// submission order, discarding anything still pending when ctx is
// canceled (spec §5: "any utterance already dispatched continues to
// run... and its result is discarded").
func (s *Session) drainResults(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-s.results:
			if !ok {
				return
			}
			result, err := p.future.Wait(ctx)
			if err != nil {
				return
			}
			if err := s.out.SendRecognitionResult(p.timestampSec, result); err != nil {
				slog.Warn("send recognition_result failed", "session_id", s.ID, "error", err)
			}
		}
	}
}

// HandleEndMark runs the end-mark drain protocol: stop accepting audio,
// force-seal and dispatch any utterance still open (the end-mark itself
// never reaches the VAD gate as audio, so nothing else would ever seal
// it), wait up to drainTimeout for outstanding transcription, then close
// (spec §4.6).
func (s *Session) HandleEndMark(ctx context.Context, drainTimeout time.Duration) {
	s.stopRequested = true
	if s.builder != nil {
		sealed := s.builder.Seal()
		s.builder = nil
		s.dispatch(sealed)
	}
	close(s.results)

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	select {
	case <-s.done:
	case <-drainCtx.Done():
	}
	s.Close()
}

// HandleClose runs the abrupt-disconnect path: cancel any in-flight
// wait immediately, discarding its result, then release buffers.
func (s *Session) HandleClose() {
	s.Close()
}

// Close cancels the result drain loop and releases the session's
// buffers (spec §4.6: "terminal state closed releases the ring buffer
// and cancels any unwaited transcription").
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if err := s.assembler.Close(); err != nil {
		slog.Debug("session closed with trailing odd byte", "session_id", s.ID, "error", err)
	}
	s.ring = nil
	s.builder = nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State reports the session's current coarse input state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
