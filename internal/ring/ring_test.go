package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTailInsufficientDataBeforeFill(t *testing.T) {
	b := New(8)
	b.Append([]float32{1, 2, 3})

	_, err := b.Tail(4)
	require.ErrorIs(t, err, InsufficientData)

	got, err := b.Tail(3)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, got)
}

func TestTailExceedingCapacityIsInsufficient(t *testing.T) {
	b := New(4)
	b.Append([]float32{1, 2, 3, 4, 5, 6})

	_, err := b.Tail(5)
	require.ErrorIs(t, err, InsufficientData)
}

func TestTailReturnsMostRecentInOrder(t *testing.T) {
	b := New(4)
	b.Append([]float32{1, 2, 3, 4, 5, 6})

	got, err := b.Tail(4)
	require.NoError(t, err)
	require.Equal(t, []float32{3, 4, 5, 6}, got)
}

func TestMarkAndSinceRoundTrip(t *testing.T) {
	b := New(16)
	b.Append([]float32{1, 2, 3})
	mark := b.Mark()
	b.Append([]float32{4, 5, 6})

	got, err := b.Since(mark)
	require.NoError(t, err)
	require.Equal(t, []float32{4, 5, 6}, got)
}

func TestSinceMarkExpiredAfterOverwrite(t *testing.T) {
	b := New(4)
	b.Append([]float32{1, 2})
	mark := b.Mark()
	b.Append([]float32{3, 4, 5, 6, 7})

	_, err := b.Since(mark)
	require.ErrorIs(t, err, MarkExpired)
}

func TestSinceAtCurrentMarkIsEmpty(t *testing.T) {
	b := New(4)
	b.Append([]float32{1, 2})
	mark := b.Mark()

	got, err := b.Since(mark)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLenCapsAtCapacity(t *testing.T) {
	b := New(4)
	require.Equal(t, 0, b.Len())
	b.Append([]float32{1, 2})
	require.Equal(t, 2, b.Len())
	b.Append([]float32{3, 4, 5, 6, 7})
	require.Equal(t, 4, b.Len())
}

// TestPropertyTailNeverExceedsCapacityOrWritten exercises Append/Tail/Mark/
// Since against random operation sequences, checking the invariants spec
// §8 leans on: Tail never yields more samples than were written or than
// the buffer can hold, and a mark taken this instant stays retrievable
// until more than capacity samples are appended after it, when Since
// reports MarkExpired.
func TestPropertyTailNeverExceedsCapacityOrWritten(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(rt, "capacity")
		b := New(capacity)

		var written int64
		steps := rapid.IntRange(0, 64).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			n := rapid.IntRange(0, 16).Draw(rt, "n")
			samples := make([]float32, n)
			for j := range samples {
				samples[j] = float32(written) + float32(j)
			}
			mark := b.Mark()
			require.Equal(rt, written, mark)

			b.Append(samples)
			written += int64(n)

			got, err := b.Since(mark)
			if n > capacity {
				require.ErrorIs(rt, err, MarkExpired)
			} else {
				require.NoError(rt, err)
				require.Len(rt, got, n)
			}

			tailN := rapid.IntRange(1, capacity).Draw(rt, "tailN")
			tail, err := b.Tail(tailN)
			if int64(tailN) > written {
				require.ErrorIs(rt, err, InsufficientData)
			} else {
				require.NoError(rt, err)
				require.Len(rt, tail, tailN)
			}
		}
	})
}
