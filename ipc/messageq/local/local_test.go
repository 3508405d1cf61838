package local

import (
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/syslink/ipc/heap"
	"github.com/ValentinKolb/syslink/ipc/messageq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeapID = 0

func newTestBus(t *testing.T) (*Bus, *heap.HeapMem) {
	t.Helper()
	bus := NewBus()
	h := heap.NewHeapMem(make([]byte, 64*1024), 8)
	bus.RegisterHeap(testHeapID, h)
	return bus, h
}

// TestQueueLifecycle tests create, open, close and delete of named queues
func TestQueueLifecycle(t *testing.T) {
	bus, _ := newTestBus(t)
	host := bus.Endpoint(0)
	dsp := bus.Endpoint(1)
	assert.Same(t, dsp, bus.Endpoint(1))

	id, err := dsp.Create("server")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id.ProcID())
	assert.Equal(t, "1:0", id.String())

	_, err = host.Create("server")
	assert.ErrorIs(t, err, messageq.ErrExists)

	opened, err := host.Open("server")
	require.NoError(t, err)
	assert.Equal(t, id, opened)
	require.NoError(t, host.Close(opened))

	_, err = host.Open("missing")
	assert.ErrorIs(t, err, messageq.ErrNotFound)

	assert.ErrorIs(t, host.Delete(id), messageq.ErrNotFound, "not a local queue")
	require.NoError(t, dsp.Delete(id))
	_, err = host.Open("server")
	assert.ErrorIs(t, err, messageq.ErrNotFound)
	assert.Equal(t, 0, bus.NumQueues())
}

// TestPutGet tests the transfer of a message between two processors
func TestPutGet(t *testing.T) {
	bus, h := newTestBus(t)
	host := bus.Endpoint(0)
	dsp := bus.Endpoint(1)

	reply, err := host.Create("reply")
	require.NoError(t, err)
	server, err := dsp.Create("server")
	require.NoError(t, err)

	msg, err := host.Alloc(testHeapID, messageq.HeaderSize+16)
	require.NoError(t, err)
	assert.Len(t, msg.Payload, 16)
	copy(msg.Payload, "hello")
	host.SetReplyQueue(reply, msg)

	require.NoError(t, host.Put(server, msg))

	got, err := dsp.Get(server, messageq.WaitForever)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Payload[:5]))
	assert.Equal(t, reply, got.ReplyID)
	assert.Equal(t, server, got.DstID)
	assert.Equal(t, uint16(0), got.SrcProc)

	require.NoError(t, dsp.Put(got.ReplyID, got))
	back, err := host.Get(reply, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), back.SrcProc)

	require.NoError(t, host.Free(back))
	assert.Equal(t, 0, h.Stats().NumAllocated)
	assert.ErrorIs(t, host.Free(back), messageq.ErrInvalidMsg)
}

// TestGetTimeouts tests the non blocking and the timed receive
func TestGetTimeouts(t *testing.T) {
	bus, _ := newTestBus(t)
	host := bus.Endpoint(0)
	id, err := host.Create("inbox")
	require.NoError(t, err)

	_, err = host.Get(id, messageq.WaitNone)
	assert.ErrorIs(t, err, messageq.ErrTimeout)

	start := time.Now()
	_, err = host.Get(id, 20*time.Millisecond)
	assert.ErrorIs(t, err, messageq.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// the non blocking get takes exactly one message
	for i := 0; i < 3; i++ {
		msg, err := host.Alloc(testHeapID, messageq.HeaderSize+4)
		require.NoError(t, err)
		msg.Payload[0] = byte(i)
		require.NoError(t, host.Put(id, msg))
	}
	for i := 0; i < 3; i++ {
		msg, err := host.Get(id, messageq.WaitNone)
		require.NoError(t, err)
		assert.Equal(t, byte(i), msg.Payload[0])
	}
	_, err = host.Get(id, messageq.WaitNone)
	assert.ErrorIs(t, err, messageq.ErrTimeout)
}

// TestDeleteWakesReader tests that deleting a queue releases a blocked reader and frees pending messages
func TestDeleteWakesReader(t *testing.T) {
	bus, h := newTestBus(t)
	host := bus.Endpoint(0)

	id, err := host.Create("inbox")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := host.Get(id, messageq.WaitForever)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, host.Delete(id))

	select {
	case err := <-done:
		// the reader may not have reached Get before the delete
		assert.True(t, errors.Is(err, messageq.ErrDeleted) || errors.Is(err, messageq.ErrNotFound), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("reader was not released")
	}

	// pending messages are returned to the heap
	id, err = host.Create("inbox2")
	require.NoError(t, err)
	msg, err := host.Alloc(testHeapID, 64)
	require.NoError(t, err)
	require.NoError(t, host.Put(id, msg))
	require.NoError(t, host.Delete(id))
	assert.Equal(t, 0, h.Stats().NumAllocated)

	assert.ErrorIs(t, host.Put(id, msg), messageq.ErrNotFound)
}

// TestAllocErrors tests allocation from unknown heaps and with too small sizes
func TestAllocErrors(t *testing.T) {
	bus, _ := newTestBus(t)
	host := bus.Endpoint(0)

	_, err := host.Alloc(7, 64)
	assert.ErrorIs(t, err, messageq.ErrInvalidHeap)

	_, err = host.Alloc(testHeapID, messageq.HeaderSize-1)
	assert.ErrorIs(t, err, messageq.ErrInvalidMsg)

	_, err = host.Alloc(testHeapID, 1<<20)
	assert.ErrorIs(t, err, heap.ErrNoMemory)
}

// TestGetRemoteQueue tests that only local queues can be read
func TestGetRemoteQueue(t *testing.T) {
	bus, _ := newTestBus(t)
	dsp := bus.Endpoint(1)
	id, err := dsp.Create("server")
	require.NoError(t, err)

	_, err = bus.Endpoint(0).Get(id, messageq.WaitNone)
	assert.ErrorIs(t, err, messageq.ErrNotFound)
}
