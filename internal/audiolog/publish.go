package audiolog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/xid"
)

// publishLoop is the single goroutine through which every filesystem
// mutation under the audio-log directory is serialized (spec §5).
func (l *Logger) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-l.jobs:
			snapshot := l.guard.Get()
			if !snapshot.Enabled {
				continue
			}
			if err := l.publish(snapshot.OutputDir, j); err != nil {
				slog.Error("audio log publish failed", "session_id", j.sessionID, "error", err)
				continue
			}
			l.rotate(snapshot.MaxFiles)
		}
	}
}

// sweepLoop periodically rescans the log directory to catch externally
// added or removed files, then re-applies the retention bound.
func (l *Logger) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := l.guard.Get()
			if !snapshot.Enabled {
				continue
			}
			l.repopulate(snapshot.OutputDir)
			l.rotate(snapshot.MaxFiles)
		}
	}
}

// publish writes the .raw and .meta files for one utterance using the
// tempfile + fsync + rename atomic-publish pattern (spec §4.5), then
// enrolls the pair in the in-memory tracked set.
func (l *Logger) publish(dir string, j logJob) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	base := filenameBase(j.sealedAt, j.sessionID)
	rawPath := filepath.Join(dir, base+".raw")
	metaPath := filepath.Join(dir, base+".meta")

	rawSize, err := atomicWrite(dir, rawPath, encodeFloat32LE(j.samples))
	if err != nil {
		return fmt.Errorf("write raw: %w", err)
	}

	rate := j.sampleRate
	if rate <= 0 {
		rate = 16000
	}
	m := meta{
		Filename:        filepath.Base(rawPath),
		SessionID:       j.sessionID,
		Timestamp:       j.sealedAt.UTC().Format(time.RFC3339Nano),
		SampleRate:      rate,
		Channels:        1,
		DataType:        "float32",
		DurationSeconds: float64(len(j.samples)) / float64(rate),
		Samples:         len(j.samples),
		ID:              xid.New().String(),
	}
	metaBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		os.Remove(rawPath)
		return fmt.Errorf("marshal meta: %w", err)
	}
	if _, err := atomicWrite(dir, metaPath, metaBytes); err != nil {
		os.Remove(rawPath)
		return fmt.Errorf("write meta: %w", err)
	}

	l.trackedMu.Lock()
	l.tracked = append(l.tracked, record{
		timestamp: j.sealedAt,
		base:      base,
		rawPath:   rawPath,
		metaPath:  metaPath,
		sizeBytes: rawSize,
		duration:  m.DurationSeconds,
	})
	l.trackedMu.Unlock()
	return nil
}

// atomicWrite writes data to a tempfile in dir, fsyncs it, then renames
// it into place (spec §4.5: "atomic publish").
func atomicWrite(dir, finalPath string, data []byte) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	return int64(len(data)), nil
}

// rotate deletes the oldest tracked pairs, by embedded timestamp, until
// at most maxFiles remain (spec §4.5).
func (l *Logger) rotate(maxFiles int) {
	l.trackedMu.Lock()
	defer l.trackedMu.Unlock()

	sort.Slice(l.tracked, func(i, j int) bool { return l.tracked[i].timestamp.Before(l.tracked[j].timestamp) })

	for len(l.tracked) > maxFiles {
		oldest := l.tracked[0]
		if err := os.Remove(oldest.rawPath); err != nil && !os.IsNotExist(err) {
			slog.Error("audio log rotation: remove raw failed", "path", oldest.rawPath, "error", err)
		}
		if err := os.Remove(oldest.metaPath); err != nil && !os.IsNotExist(err) {
			slog.Error("audio log rotation: remove meta failed", "path", oldest.metaPath, "error", err)
		}
		l.tracked = l.tracked[1:]
	}
}

// repopulate flushes the tracked set and rebuilds it by scanning dir
// for existing (.raw, .meta) pairs, ordered by the timestamp embedded
// in their filename (spec §4.5: "a directory change flushes the
// rotator's tracked set and repopulates it from the new directory").
func (l *Logger) repopulate(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.trackedMu.Lock()
		l.tracked = nil
		l.trackedMu.Unlock()
		return
	}

	found := make(map[string]*record)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		base := name[:len(name)-len(ext)]
		ts, ok := parseTimestampFromBase(base)
		if !ok {
			continue
		}
		r, exists := found[base]
		if !exists {
			r = &record{timestamp: ts, base: base}
			found[base] = r
		}
		full := filepath.Join(dir, name)
		switch ext {
		case ".raw":
			r.rawPath = full
			if info, err := e.Info(); err == nil {
				r.sizeBytes = info.Size()
			}
		case ".meta":
			r.metaPath = full
			if data, err := os.ReadFile(full); err == nil {
				var m meta
				if json.Unmarshal(data, &m) == nil {
					r.duration = m.DurationSeconds
				}
			}
		}
	}

	tracked := make([]record, 0, len(found))
	for _, r := range found {
		if r.rawPath == "" || r.metaPath == "" {
			continue // incomplete pair, e.g. interrupted publish
		}
		tracked = append(tracked, *r)
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].timestamp.Before(tracked[j].timestamp) })

	l.trackedMu.Lock()
	l.tracked = tracked
	l.trackedMu.Unlock()
}

var filenameTimestampPattern = regexp.MustCompile(`^audio_(\d{8})_(\d{6})_(\d{3})_session_(-?\d+)$`)

// filenameBase composes the load-bearing filename pattern from spec
// §3: audio_YYYYMMDD_HHMMSS_mmm_session_<id>, without extension.
func filenameBase(t time.Time, sessionID int64) string {
	t = t.UTC()
	ms := t.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("audio_%s_%s_%03d_session_%d", t.Format("20060102"), t.Format("150405"), ms, sessionID)
}

// parseTimestampFromBase extracts the embedded UTC timestamp from a
// filename base produced by filenameBase. The rotator orders by this
// value, not filesystem mtime (spec §4.5).
func parseTimestampFromBase(base string) (time.Time, bool) {
	m := filenameTimestampPattern.FindStringSubmatch(base)
	if m == nil {
		return time.Time{}, false
	}
	layout := "20060102150405.000"
	ms, err := strconv.Atoi(m[3])
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, fmt.Sprintf("%s%s.%03d", m[1], m[2], ms))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// encodeFloat32LE serializes samples as IEEE-754 float32 little-endian
// (spec §6.3).
func encodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
