package audiolog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/echoline-labs/streamrecog/internal/config"
	"github.com/echoline-labs/streamrecog/internal/utterance"
	"github.com/stretchr/testify/require"
)

func testUtterance(n int) utterance.Utterance {
	b := utterance.NewBuilder(42, 16000, 0, nil, n)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i) / float32(n)
	}
	b.Append(samples)
	return b.Seal()
}

func waitForFiles(t *testing.T, dir string, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return false
		}
		n := 0
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".raw" {
				n++
			}
		}
		return n == count
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitPublishesRawAndMetaPair(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(config.AudioLog{Enabled: true, OutputDir: dir, MaxFiles: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	l.Submit(1, testUtterance(1600))
	waitForFiles(t, dir, 1)

	files := l.List()
	require.Len(t, files, 1)
	require.Equal(t, int64(1600*4), files[0].SizeBytes)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var metaPath string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".meta" {
			metaPath = filepath.Join(dir, e.Name())
		}
	}
	require.NotEmpty(t, metaPath)

	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var m meta
	require.NoError(t, json.Unmarshal(data, &m))
	require.Equal(t, int64(42), m.SessionID)
	require.Equal(t, 16000, m.SampleRate)
	require.Equal(t, "float32", m.DataType)
	require.NotEmpty(t, m.ID)
}

func TestSubmitDisabledIsNoOp(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(config.AudioLog{Enabled: false, OutputDir: dir, MaxFiles: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	l.Submit(1, testUtterance(1600))
	time.Sleep(50 * time.Millisecond)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRotationKeepsOnlyMaxFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(config.AudioLog{Enabled: true, OutputDir: dir, MaxFiles: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	for i := 0; i < 5; i++ {
		l.Submit(int64(i), testUtterance(160))
		time.Sleep(5 * time.Millisecond) // ensure distinct millisecond timestamps
	}
	waitForFiles(t, dir, 2)

	require.Len(t, l.List(), 2)
}

func TestApplyRejectsZeroMaxFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(config.AudioLog{Enabled: true, OutputDir: dir, MaxFiles: 10})

	err := l.Apply(config.AudioLog{Enabled: true, OutputDir: dir, MaxFiles: 0})
	require.Error(t, err)
	require.Equal(t, 10, l.Snapshot().MaxFiles)
}

func TestApplyDirectoryChangeRepopulatesFromNewDir(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()
	l := NewLogger(config.AudioLog{Enabled: true, OutputDir: oldDir, MaxFiles: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Start(ctx)

	l.Submit(1, testUtterance(160))
	waitForFiles(t, oldDir, 1)

	require.NoError(t, l.Apply(config.AudioLog{Enabled: true, OutputDir: newDir, MaxFiles: 10}))
	require.Empty(t, l.List())

	l.Submit(2, testUtterance(160))
	waitForFiles(t, newDir, 1)
	require.Len(t, l.List(), 1)
}

func TestFilenameBaseRoundTripsThroughParseTimestamp(t *testing.T) {
	ts := time.Date(2026, 7, 29, 12, 30, 45, 123_000_000, time.UTC)
	base := filenameBase(ts, 7)
	require.Equal(t, "audio_20260729_123045_123_session_7", base)

	parsed, ok := parseTimestampFromBase(base)
	require.True(t, ok)
	require.True(t, ts.Equal(parsed))
}
