package frame

import (
	"encoding/binary"
	"testing"

	"github.com/echoline-labs/streamrecog/internal/apperr"
	"github.com/stretchr/testify/require"
)

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestWriteEmitsFullFramesOnly(t *testing.T) {
	a := New()
	samples := make([]int16, Size-1)
	frames := a.Write(pcmBytes(samples))
	require.Empty(t, frames)
}

func TestWriteEmitsFrameOnceFull(t *testing.T) {
	a := New()
	samples := make([]int16, Size)
	for i := range samples {
		samples[i] = 100
	}
	frames := a.Write(pcmBytes(samples))
	require.Len(t, frames, 1)
	require.Len(t, frames[0], Size)
	require.InDelta(t, 100.0/32768.0, frames[0][0], 1e-9)
}

func TestWriteSplitAcrossChunksCarriesOddByte(t *testing.T) {
	a := New()
	raw := pcmBytes([]int16{1000, 2000, 3000})

	// Split mid-sample: first chunk ends on an odd byte boundary.
	frames := a.Write(raw[:3])
	require.Empty(t, frames)
	frames = a.Write(raw[3:])
	require.Empty(t, frames) // only 3 samples, below Size
}

func TestConversionClampsToUnitRange(t *testing.T) {
	a := New()
	samples := []int16{32767, -32768}
	padded := append(samples, make([]int16, Size-len(samples))...)
	frames := a.Write(pcmBytes(padded))
	require.Len(t, frames, 1)
	require.LessOrEqual(t, frames[0][0], float32(1.0))
	require.GreaterOrEqual(t, frames[0][1], float32(-1.0))
}

func TestCloseReportsOddByteCount(t *testing.T) {
	a := New()
	a.Write([]byte{0x01, 0x02, 0x03}) // 1 full sample + 1 carried byte

	err := a.Close()
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.OddByteCount))
}

func TestCloseCleanOnEvenStream(t *testing.T) {
	a := New()
	a.Write(pcmBytes([]int16{1, 2, 3, 4}))
	require.NoError(t, a.Close())
}

func TestFramesNeverOverlapAndStayOrdered(t *testing.T) {
	a := New()
	total := Size*3 + 10
	samples := make([]int16, total)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	frames := a.Write(pcmBytes(samples))
	require.Len(t, frames, 3)
	for i, f := range frames {
		require.Len(t, f, Size)
		expected := float32(int16((i*Size)%1000)) / 32768.0
		require.InDelta(t, expected, f[0], 1e-6)
	}
}
