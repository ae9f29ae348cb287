package session

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/echoline-labs/streamrecog/internal/audiolog"
	"github.com/echoline-labs/streamrecog/internal/config"
	"github.com/echoline-labs/streamrecog/internal/transcribe"
	"github.com/stretchr/testify/require"
)

// scriptedEngine returns a prescripted probability sequence, repeating
// the final value once exhausted — mirrors the double used in
// internal/vad's gate tests.
type scriptedEngine struct {
	probs []float32
	i     int
}

func (e *scriptedEngine) Process(frame []float32) (float32, error) {
	if e.i >= len(e.probs) {
		return e.probs[len(e.probs)-1], nil
	}
	p := e.probs[e.i]
	e.i++
	return p, nil
}

func (e *scriptedEngine) Reset() error { e.i = 0; return nil }
func (e *scriptedEngine) Close() error { return nil }

type recordedVAD struct {
	speechDetected, speechEnded bool
	timestampSec                float64
}

type recordedResult struct {
	timestampSec float64
	result       transcribe.Result
}

type fakeOutbound struct {
	mu      sync.Mutex
	vad     []recordedVAD
	results []recordedResult
}

func (f *fakeOutbound) SendVADResult(speechDetected, speechEnded bool, timestampSec float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vad = append(f.vad, recordedVAD{speechDetected, speechEnded, timestampSec})
	return nil
}

func (f *fakeOutbound) SendRecognitionResult(timestampSec float64, result transcribe.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, recordedResult{timestampSec, result})
	return nil
}

func (f *fakeOutbound) vadLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vad)
}

func (f *fakeOutbound) resultLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func (f *fakeOutbound) vadAt(i int) recordedVAD {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vad[i]
}

func (f *fakeOutbound) resultAt(i int) recordedResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[i]
}

// testEnv wires a Session against an in-process pool and a disabled
// audio logger, using small gate tuning so a test can drive exactly the
// frame count it needs.
func testEnv(t *testing.T, engine *scriptedEngine) (*Session, *fakeOutbound, context.Context) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Audio.MinSpeechFrames = 2
	cfg.Audio.HangoverFrames = 2
	cfg.Audio.PreRollMs = 0
	cfg.Audio.HangoverMs = 0

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pool := transcribe.NewPool(transcribe.PoolConfig{Size: 1, MaxQueueDepth: 4, JobDeadline: time.Second}, func() transcribe.Transcriber {
		return transcribe.NewStubTranscriber(cfg.Audio.SampleRate)
	})
	pool.Start(ctx)

	alog := audiolog.NewLogger(config.AudioLog{Enabled: false, OutputDir: t.TempDir(), MaxFiles: 1})
	alog.Start(ctx)

	out := &fakeOutbound{}
	sess := New(1, "en", "", cfg, engine, pool, alog, out)
	sess.Start(ctx)
	return sess, out, ctx
}

func pcmFrame(value int16) []byte {
	buf := make([]byte, 512*2)
	for i := 0; i < 512; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(value))
	}
	return buf
}

func TestSessionEmitsSpeechStartThenSpeechEnd(t *testing.T) {
	engine := &scriptedEngine{probs: []float32{0.9, 0.9, 0.1, 0.1}}
	sess, out, _ := testEnv(t, engine)

	for i := 0; i < 4; i++ {
		endMark, err := sess.HandleBinaryFrame(pcmFrame(100))
		require.NoError(t, err)
		require.False(t, endMark)
	}

	require.Equal(t, 2, out.vadLen())
	require.True(t, out.vadAt(0).speechDetected)
	require.False(t, out.vadAt(0).speechEnded)
	require.False(t, out.vadAt(1).speechDetected)
	require.True(t, out.vadAt(1).speechEnded)

	require.Eventually(t, func() bool { return out.resultLen() == 1 }, time.Second, 5*time.Millisecond)
	require.Nil(t, out.resultAt(0).result.Err)
}

func TestSessionIgnoresFramesAfterEndMark(t *testing.T) {
	engine := &scriptedEngine{probs: []float32{0.1}}
	sess, _, _ := testEnv(t, engine)

	zeros := make([]byte, 16000*3*2)
	endMark, err := sess.HandleBinaryFrame(zeros)
	require.NoError(t, err)
	require.True(t, endMark)

	// Further frames are no-ops once the end-mark has been observed.
	endMark, err = sess.HandleBinaryFrame(pcmFrame(100))
	require.NoError(t, err)
	require.True(t, endMark)
}

func TestSessionEndMarkDrainsOutstandingResultBeforeClose(t *testing.T) {
	engine := &scriptedEngine{probs: []float32{0.9, 0.9, 0.1, 0.1}}
	sess, out, ctx := testEnv(t, engine)

	for i := 0; i < 4; i++ {
		_, err := sess.HandleBinaryFrame(pcmFrame(100))
		require.NoError(t, err)
	}

	sess.HandleEndMark(ctx, time.Second)

	require.Equal(t, 1, out.resultLen())
	require.Equal(t, StateClosed, sess.State())
}

func TestSessionEndMarkSealsStillOpenUtterance(t *testing.T) {
	// Mirrors spec scenario S4: speech starts but the gate never emits a
	// SpeechEnd before the end-mark arrives (observeEndMark consumes the
	// zero bytes as a control signal, never as audio), so HandleEndMark
	// is the only thing that will ever seal this utterance.
	engine := &scriptedEngine{probs: []float32{0.9, 0.9}}
	sess, out, ctx := testEnv(t, engine)

	for i := 0; i < 2; i++ {
		_, err := sess.HandleBinaryFrame(pcmFrame(100))
		require.NoError(t, err)
	}
	require.Equal(t, StateSpeaking, sess.State())
	require.Equal(t, 1, out.vadLen()) // speech_start only, no speech_end yet

	zeros := make([]byte, 16000*3*2)
	endMark, err := sess.HandleBinaryFrame(zeros)
	require.NoError(t, err)
	require.True(t, endMark)

	sess.HandleEndMark(ctx, time.Second)

	require.Equal(t, 1, out.resultLen())
	require.Nil(t, out.resultAt(0).result.Err)
	require.Equal(t, StateClosed, sess.State())
}

func TestSessionHandleCloseDiscardsInFlightResult(t *testing.T) {
	engine := &scriptedEngine{probs: []float32{0.9, 0.9}}
	sess, _, _ := testEnv(t, engine)

	_, err := sess.HandleBinaryFrame(pcmFrame(100))
	require.NoError(t, err)
	_, err = sess.HandleBinaryFrame(pcmFrame(100))
	require.NoError(t, err)
	require.Equal(t, StateSpeaking, sess.State())

	sess.HandleClose()
	require.Equal(t, StateClosed, sess.State())
}
