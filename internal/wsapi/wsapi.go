// Package wsapi implements the audio socket (spec §6.1): a WebSocket
// handler that parses the handshake, hands frames to a session.Session,
// and serializes vad_result/recognition_result JSON back to the client.
package wsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/echoline-labs/streamrecog/internal/apperr"
	"github.com/echoline-labs/streamrecog/internal/audiolog"
	"github.com/echoline-labs/streamrecog/internal/config"
	"github.com/echoline-labs/streamrecog/internal/session"
	"github.com/echoline-labs/streamrecog/internal/transcribe"
	"github.com/echoline-labs/streamrecog/internal/trace"
	"github.com/echoline-labs/streamrecog/internal/vad"
)

// handshakeMessage is the client's first message (spec §6.1).
type handshakeMessage struct {
	Lang   string `json:"lang"`
	Prompt string `json:"prompt"`
}

type vadResultMessage struct {
	Type           string  `json:"type"`
	SpeechDetected bool    `json:"speech_detected"`
	SpeechEnded    bool    `json:"speech_ended"`
	Timestamp      float64 `json:"timestamp"`
}

type recognitionResultMessage struct {
	Type      string             `json:"type"`
	Timestamp float64            `json:"timestamp,omitempty"`
	Result    recognitionPayload `json:"result"`
}

type recognitionPayload struct {
	Text     string           `json:"text,omitempty"`
	Segments []segmentPayload `json:"segments,omitempty"`
	Language string           `json:"language,omitempty"`
	Error    *errorPayload    `json:"error,omitempty"`
}

type segmentPayload struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EngineFactory constructs a fresh VAD engine for one session. VAD
// engines carry per-call state (spec §4.3) and are never shared across
// connections.
type EngineFactory func() vad.Engine

// Server is the audio socket HTTP handler.
type Server struct {
	cfg           config.Config
	engineFactory EngineFactory
	pool          *transcribe.Pool
	alog          *audiolog.Logger

	nextID atomic.Int64
	mu     sync.Mutex
	active map[int64]*session.Session

	shutdown chan struct{}
	conns    sync.WaitGroup
}

// NewServer constructs a Server. cfg is copied once here; every session
// uses that copy's Audio and Session tuning for as long as the Server
// lives.
func NewServer(cfg config.Config, engineFactory EngineFactory, pool *transcribe.Pool, alog *audiolog.Logger) *Server {
	return &Server{
		cfg:           cfg,
		engineFactory: engineFactory,
		pool:          pool,
		alog:          alog,
		active:        make(map[int64]*session.Session),
		shutdown:      make(chan struct{}),
	}
}

// Handler returns the audio socket's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio", s.handleConn)
	return trace.Middleware(mux)
}

// ActiveSessions reports how many sessions are currently connected
// (spec §6.2 health telemetry).
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown requests that every currently-open session drain its
// in-flight utterance (spec §4.6's end-mark protocol, applied here to
// every still-open session rather than only ones that sent an
// end-mark, so a process restart never silently drops a transcription
// in flight) and close, then waits up to ctx's deadline for all
// connection-handling goroutines to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	// ctx carries the trace context and lives for the whole connection,
	// including outbound writes made while draining during shutdown.
	// readCtx is the one operation that must unblock on shutdown: the
	// blocking conn.Read below.
	ctx := r.Context()
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-s.shutdown:
			cancelRead()
		case <-readCtx.Done():
		}
	}()
	log := trace.Logger(ctx)

	hs, err := readHandshake(readCtx, conn)
	if err != nil {
		ae, _ := err.(*apperr.Error)
		kind := apperr.BadHandshake
		msg := err.Error()
		if ae != nil {
			kind, msg = ae.Kind, ae.Message
		}
		writeError(ctx, conn, kind, msg)
		_ = conn.Close(websocket.StatusPolicyViolation, string(kind))
		return
	}

	id := s.nextID.Add(1)
	out := &connOutbound{ctx: ctx, conn: conn}
	engine := s.engineFactory()
	defer engine.Close()

	sess := session.New(id, hs.Lang, hs.Prompt, s.cfg, engine, s.pool, s.alog, out)
	s.track(id, sess)
	defer s.untrack(id)

	sess.Start(ctx)
	log.Info("session started", "session_id", id, "lang", hs.Lang)

	for {
		msgType, data, err := conn.Read(readCtx)
		if err != nil {
			select {
			case <-s.shutdown:
				// Process shutdown canceled our read, not the client: drain
				// whatever utterance is in flight instead of discarding it.
				drainCtx, drainCancel := context.WithTimeout(context.Background(), s.cfg.Session.DrainTimeout)
				sess.HandleEndMark(drainCtx, s.cfg.Session.DrainTimeout)
				drainCancel()
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			default:
				sess.HandleClose()
			}
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}

		endMark, err := sess.HandleBinaryFrame(data)
		if err != nil {
			writeError(ctx, conn, apperr.OddByteCount, err.Error())
			continue
		}
		if endMark {
			sess.HandleEndMark(ctx, s.cfg.Session.DrainTimeout)
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) track(id int64, sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = sess
}

func (s *Server) untrack(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// readHandshake reads and validates the first message (spec §4.6,
// §6.1): it must be a text JSON object with a non-empty lang.
func readHandshake(ctx context.Context, conn *websocket.Conn) (handshakeMessage, error) {
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return handshakeMessage{}, apperr.Wrap(err, apperr.BadHandshake, "handshake read failed")
	}
	if msgType != websocket.MessageText {
		return handshakeMessage{}, apperr.New(apperr.BadHandshake, "first message must be text JSON")
	}
	var hs handshakeMessage
	if err := json.Unmarshal(data, &hs); err != nil {
		return handshakeMessage{}, apperr.Wrap(err, apperr.BadHandshake, "malformed handshake")
	}
	if hs.Lang == "" {
		return handshakeMessage{}, apperr.New(apperr.BadHandshake, "lang is required")
	}
	return hs, nil
}

func writeError(ctx context.Context, conn *websocket.Conn, kind apperr.Kind, msg string) {
	if !kind.Surfaceable() {
		kind = apperr.ModelFailure
	}
	_ = wsjson.Write(ctx, conn, recognitionResultMessage{
		Type:   "recognition_result",
		Result: recognitionPayload{Error: &errorPayload{Kind: string(kind), Message: msg}},
	})
}

// connOutbound adapts one WebSocket connection to session.Outbound,
// serializing concurrent writes with a mutex since the session's result
// drain goroutine and its frame-processing caller can both write.
type connOutbound struct {
	mu   sync.Mutex
	ctx  context.Context
	conn *websocket.Conn
}

func (o *connOutbound) SendVADResult(speechDetected, speechEnded bool, timestampSec float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return wsjson.Write(o.ctx, o.conn, vadResultMessage{
		Type:           "vad_result",
		SpeechDetected: speechDetected,
		SpeechEnded:    speechEnded,
		Timestamp:      timestampSec,
	})
}

func (o *connOutbound) SendRecognitionResult(timestampSec float64, result transcribe.Result) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if result.Err != nil {
		return wsjson.Write(o.ctx, o.conn, recognitionResultMessage{
			Type:   "recognition_result",
			Result: recognitionPayload{Error: &errorPayload{Kind: result.Err.Kind, Message: result.Err.Message}},
		})
	}

	segments := make([]segmentPayload, len(result.Segments))
	for i, seg := range result.Segments {
		segments[i] = segmentPayload{Start: seg.StartSec, End: seg.EndSec, Text: seg.Text}
	}
	return wsjson.Write(o.ctx, o.conn, recognitionResultMessage{
		Type:      "recognition_result",
		Timestamp: timestampSec,
		Result: recognitionPayload{
			Text:     result.Text,
			Segments: segments,
			Language: result.Language,
		},
	})
}
