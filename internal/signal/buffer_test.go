package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferPushFlipGet(t *testing.T) {
	b := New(RawReal, "ch0", 1_000_000, 1, 8)
	require.True(t, b.IsValid())

	s, err := b.Push(4)
	require.NoError(t, err)
	for i := range s {
		s[i] = float32(i)
	}
	require.Equal(t, 4, b.Position())

	b.Flip()
	require.Equal(t, 4, b.Limit())
	require.Equal(t, 0, b.Position())
	require.Equal(t, 4, b.Remaining())

	for i := 0; i < 4; i++ {
		require.Equal(t, float32(i), b.Get())
	}
	require.Equal(t, 0, b.Remaining())
}

func TestBufferPushFullFails(t *testing.T) {
	b := New(RawReal, "ch0", 1, 1, 4)
	_, err := b.Push(4)
	require.NoError(t, err)
	_, err = b.Push(1)
	require.ErrorIs(t, err, ErrBufferFull)
}

func TestInvalidBufferIsEOF(t *testing.T) {
	b := Invalid(RawReal, "ch0")
	require.False(t, b.IsValid())
	require.Equal(t, 0, b.Capacity())
}

func TestBufferIndexedAccessDoesNotAdvance(t *testing.T) {
	b := New(RawReal, "ch0", 1, 1, 4)
	require.NoError(t, b.PutSlice([]float32{1, 2, 3, 4}))
	b.Flip()
	require.Equal(t, float32(1), b.At(0))
	require.Equal(t, float32(2), b.At(1))
	require.Equal(t, 0, b.Position())
}

func TestBufferCloneIsIndependent(t *testing.T) {
	b := New(RawReal, "ch0", 1, 1, 4)
	require.NoError(t, b.PutSlice([]float32{1, 2, 3, 4}))
	b.Flip()

	clone := b.Clone()
	clone.data[0] = 99
	require.Equal(t, float32(1), b.At(0))
	require.Equal(t, float32(99), clone.At(0))
}
