package heap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeapAllocFree tests that blocks do not overlap and that freed memory is merged again
func TestHeapAllocFree(t *testing.T) {
	h := NewHeapMem(make([]byte, 256), 16)

	a, err := h.Alloc(10)
	require.NoError(t, err)
	b, err := h.Alloc(32)
	require.NoError(t, err)
	c, err := h.Alloc(1)
	require.NoError(t, err)

	assert.Len(t, a, 10)
	assert.Len(t, b, 32)

	offA, _ := h.offsetOf(a)
	offB, _ := h.offsetOf(b)
	offC, _ := h.offsetOf(c)
	assert.Equal(t, 0, offA)
	assert.Equal(t, 16, offB)
	assert.Equal(t, 48, offC)

	st := h.Stats()
	assert.Equal(t, 3, st.NumAllocated)
	assert.Equal(t, 256-64, st.TotalFree)

	require.NoError(t, h.Free(b))
	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(c))

	st = h.Stats()
	assert.Equal(t, 0, st.NumAllocated)
	assert.Equal(t, 1, st.NumFreeBlocks)
	assert.Equal(t, 256, st.LargestFree)
}

// TestHeapExhaustion tests the out of memory path
func TestHeapExhaustion(t *testing.T) {
	h := NewHeapMem(make([]byte, 64), 8)

	_, err := h.Alloc(64)
	require.NoError(t, err)

	_, err = h.Alloc(1)
	assert.True(t, errors.Is(err, ErrNoMemory))

	_, err = h.Alloc(0)
	assert.True(t, errors.Is(err, ErrInvalidSize))
}

// TestHeapFreeForeignBlock tests that blocks from other memory and double frees are rejected
func TestHeapFreeForeignBlock(t *testing.T) {
	h := NewHeapMem(make([]byte, 64), 8)

	assert.ErrorIs(t, h.Free(make([]byte, 8)), ErrInvalidBlock)

	blk, err := h.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, h.Free(blk))
	assert.ErrorIs(t, h.Free(blk), ErrInvalidBlock)
}

// TestHeapZeroesBlocks tests that a reused block is handed out zeroed
func TestHeapZeroesBlocks(t *testing.T) {
	h := NewHeapMem(make([]byte, 32), 8)

	blk, err := h.Alloc(8)
	require.NoError(t, err)
	for i := range blk {
		blk[i] = 0xAA
	}
	require.NoError(t, h.Free(blk))

	blk, err = h.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), blk)
}
