package shm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenSegment tests that a named segment is writable and removed on close
func TestOpenSegment(t *testing.T) {
	seg, err := Open("shm-test-segment", 4096)
	require.NoError(t, err)

	assert.Equal(t, uint32(4096), seg.Len())
	assert.NotZero(t, seg.Base())

	seg.Mem[0] = 1
	seg.Mem[4095] = 2
	assert.Equal(t, byte(2), seg.Mem[4095])

	path := seg.Path()
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())

	if path != "" {
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	}
}

// TestAnonymousSegment tests anonymous segments and size validation
func TestAnonymousSegment(t *testing.T) {
	seg, err := Anonymous(1024)
	require.NoError(t, err)
	defer seg.Close()

	assert.Len(t, seg.Mem, 1024)
	assert.Equal(t, byte(0), seg.Mem[512])

	_, err = Anonymous(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}
