// Package adminapi implements the admin HTTP surface (spec §6.2):
// health, audio-log configuration, and the logged-file listing.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/echoline-labs/streamrecog/internal/audiolog"
	"github.com/echoline-labs/streamrecog/internal/trace"
	"github.com/echoline-labs/streamrecog/internal/transcribe"
)

// SessionCounter reports how many audio-socket sessions are connected.
type SessionCounter interface {
	ActiveSessions() int
}

// Server is the admin HTTP handler.
type Server struct {
	sessions SessionCounter
	pool     *transcribe.Pool
	alog     *audiolog.Logger
}

// NewServer constructs an admin Server.
func NewServer(sessions SessionCounter, pool *transcribe.Pool, alog *audiolog.Logger) *Server {
	return &Server{sessions: sessions, pool: pool, alog: alog}
}

// Handler returns the admin HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /config/audio-log", s.handleGetAudioLogConfig)
	mux.HandleFunc("POST /config/audio-log", s.handlePostAudioLogConfig)
	mux.HandleFunc("GET /logs/audio/list", s.handleListAudioLogs)
	return trace.Middleware(mux)
}

type healthResponse struct {
	Status          string `json:"status"`
	ActiveSessions  int    `json:"active_sessions"`
	ModelLoaded     bool   `json:"model_loaded"`
	AudioLogEnabled bool   `json:"audio_log_enabled"`
}

// handleHealth reports process health (spec §6.2). ModelLoaded reflects
// whether the worker pool still has at least one serving worker: a
// pool with zero active workers after retirements means no model
// collaborator can run.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		ActiveSessions:  s.sessions.ActiveSessions(),
		ModelLoaded:     s.pool.ActiveWorkers() > 0,
		AudioLogEnabled: s.alog.Snapshot().Enabled,
	})
}

func (s *Server) handleGetAudioLogConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.alog.Snapshot())
}

// audioLogPatch carries any subset of the mutable fields (spec §6.2:
// "with any subset of {enabled, output_dir, max_files}"). Pointers
// distinguish "omitted" from "set to the zero value".
type audioLogPatch struct {
	Enabled   *bool   `json:"enabled"`
	OutputDir *string `json:"output_dir"`
	MaxFiles  *int    `json:"max_files"`
}

func (s *Server) handlePostAudioLogConfig(w http.ResponseWriter, r *http.Request) {
	var patch audioLogPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	next := s.alog.Snapshot()
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.OutputDir != nil {
		next.OutputDir = *patch.OutputDir
	}
	if patch.MaxFiles != nil {
		next.MaxFiles = *patch.MaxFiles
	}

	if err := s.alog.Apply(next); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.alog.Snapshot())
}

type fileListEntry struct {
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Timestamp       string  `json:"timestamp"`
}

func (s *Server) handleListAudioLogs(w http.ResponseWriter, r *http.Request) {
	files := s.alog.List()
	out := make([]fileListEntry, len(files))
	for i, f := range files {
		out[i] = fileListEntry{
			Filename:        f.Filename,
			SizeBytes:       f.SizeBytes,
			DurationSeconds: f.DurationSeconds,
			Timestamp:       f.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
