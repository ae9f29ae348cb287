// Package audiolog persists sealed utterances as raw-PCM/metadata file
// pairs with atomic publish and bounded-retention rotation (spec §4.5).
// All filesystem mutation is serialized through a single background
// goroutine (spec §5: "log directory... all filesystem mutations
// serialized through the logger task"); the process-wide mutable
// config is held in a syncx.RWGuard so the admin API can swap it
// without readers ever observing a torn value.
package audiolog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/echoline-labs/streamrecog/internal/config"
	"github.com/echoline-labs/streamrecog/internal/syncx"
	"github.com/echoline-labs/streamrecog/internal/utterance"
)

const sweepInterval = 60 * time.Second

// meta is the JSON sidecar document written next to each .raw file
// (spec §3, §6.3).
type meta struct {
	Filename        string  `json:"filename"`
	SessionID       int64   `json:"session_id"`
	Timestamp       string  `json:"timestamp"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	DataType        string  `json:"data_type"`
	DurationSeconds float64 `json:"duration_seconds"`
	Samples         int     `json:"samples"`
	ID              string  `json:"id"`
}

// FileInfo describes one logged utterance for the admin listing API.
type FileInfo struct {
	Filename        string
	SizeBytes       int64
	DurationSeconds float64
	Timestamp       time.Time
}

// record is the logger's in-memory knowledge of one published pair.
type record struct {
	timestamp time.Time
	base      string // path without extension
	rawPath   string
	metaPath  string
	sizeBytes int64
	duration  float64
}

// Logger accepts sealed utterances and, when enabled, persists them
// atomically and enforces the configured retention bound.
type Logger struct {
	guard *syncx.RWGuard[config.AudioLog]
	jobs  chan logJob

	trackedMu sync.Mutex
	tracked   []record // ascending by timestamp, guarded by trackedMu
}

type logJob struct {
	sessionID  int64
	samples    []float32
	sampleRate int
	sealedAt   time.Time
}

// NewLogger constructs a Logger with the given initial configuration.
// Callers must call Start before Submit has any effect.
func NewLogger(initial config.AudioLog) *Logger {
	return &Logger{
		guard: syncx.NewGuard(initial),
		jobs:  make(chan logJob, 64),
	}
}

// Start launches the publish-serializing worker and the periodic
// rotation sweep. Both stop when ctx is canceled.
func (l *Logger) Start(ctx context.Context) {
	l.repopulate(l.guard.Get().OutputDir)

	go l.publishLoop(ctx)
	go l.sweepLoop(ctx)
}

// Snapshot returns the current audio-log configuration.
func (l *Logger) Snapshot() config.AudioLog {
	return l.guard.Get()
}

// Submit enqueues a sealed utterance for logging. It never blocks the
// caller and never affects transcription delivery (spec §4.5): if
// logging is disabled, or the publish queue is saturated, the
// utterance is silently dropped (logged at debug level).
func (l *Logger) Submit(sessionID int64, u utterance.Utterance) {
	if !l.guard.Get().Enabled {
		return
	}
	job := logJob{sessionID: sessionID, samples: u.Samples, sampleRate: u.SampleRate, sealedAt: time.Now()}
	select {
	case l.jobs <- job:
	default:
		slog.Debug("audio log queue saturated, dropping utterance", "session_id", sessionID)
	}
}

// Apply validates and atomically applies a new configuration (spec
// §6.2). On validation failure the existing configuration is left
// unchanged and an error is returned.
func (l *Logger) Apply(next config.AudioLog) error {
	if next.MaxFiles < 1 {
		return fmt.Errorf("audiolog: max_files must be >= 1")
	}
	if next.OutputDir == "" {
		return fmt.Errorf("audiolog: output_dir must not be empty")
	}
	if err := ensureWritableDir(next.OutputDir); err != nil {
		return fmt.Errorf("audiolog: output_dir not usable: %w", err)
	}

	prev := l.guard.Get()
	l.guard.Set(next)
	if next.OutputDir != prev.OutputDir {
		l.repopulate(next.OutputDir)
	}
	return nil
}

// List returns logged file pairs, newest first.
func (l *Logger) List() []FileInfo {
	l.trackedMu.Lock()
	defer l.trackedMu.Unlock()

	out := make([]FileInfo, 0, len(l.tracked))
	for i := len(l.tracked) - 1; i >= 0; i-- {
		r := l.tracked[i]
		out = append(out, FileInfo{
			Filename:        filepath.Base(r.rawPath),
			SizeBytes:       r.sizeBytes,
			DurationSeconds: r.duration,
			Timestamp:       r.timestamp,
		})
	}
	return out
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writetest-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
