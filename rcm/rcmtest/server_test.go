package rcmtest

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/syslink/ipc/heap"
	"github.com/ValentinKolb/syslink/ipc/messageq"
	"github.com/ValentinKolb/syslink/ipc/messageq/local"
	"github.com/ValentinKolb/syslink/rcm/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *local.Bus {
	t.Helper()
	bus := local.NewBus()
	bus.RegisterHeap(0, heap.NewHeapMem(make([]byte, 64*1024), 8))
	return bus
}

// request allocates a packet of kind with a uint32 argument and reply queue
func request(t *testing.T, mq messageq.IMessageQ, reply messageq.QueueID, kind common.MessageKind, fxnIdx, arg uint32) *messageq.Msg {
	t.Helper()
	msg, err := mq.Alloc(0, common.HeaderSize+4)
	require.NoError(t, err)
	p := common.Packet(msg.Payload)
	p.Init(1, 4)
	p.SetFxnIdx(fxnIdx)
	require.NoError(t, p.Classify(kind))
	binary.LittleEndian.PutUint32(p.Data(), arg)
	mq.SetReplyQueue(reply, msg)
	return msg
}

// TestServer tests the function server with raw packets
func TestServer(t *testing.T) {
	bus := newBus(t)
	host := bus.Endpoint(0)
	reply, err := host.Create("reply")
	require.NoError(t, err)

	srv, err := NewServer("server", bus.Endpoint(1), ServerOptions{Workers: 2})
	require.NoError(t, err)
	srv.RegisterBuiltins()
	assert.Equal(t, uint32(3), srv.Register("fxnConst", func([]byte) (int32, error) { return 7, nil }))
	srv.Start()

	roundTrip := func(msg *messageq.Msg) common.Packet {
		require.NoError(t, host.Put(srv.Queue(), msg))
		got, err := host.Get(reply, time.Second)
		require.NoError(t, err)
		return common.Packet(got.Payload)
	}

	p := roundTrip(request(t, host, reply, common.KindExec, 0, 4))
	assert.Equal(t, common.StatusSuccess, p.Descriptor().Status)
	assert.Equal(t, int32(8), p.Result())

	p = roundTrip(request(t, host, reply, common.KindExec, 3, 0))
	assert.Equal(t, int32(7), p.Result())

	p = roundTrip(request(t, host, reply, common.KindExec, 42, 0))
	assert.Equal(t, common.StatusInvalidFxn, p.Descriptor().Status)

	p = roundTrip(request(t, host, reply, common.KindShutdown, 0, 0))
	assert.Equal(t, common.StatusInvalidMsgType, p.Descriptor().Status)

	p = roundTrip(request(t, host, reply, common.KindJobAcquire, 0, 0))
	require.Equal(t, common.StatusSuccess, p.Descriptor().Status)
	job := binary.LittleEndian.Uint16(p.Data())
	assert.NotEqual(t, common.DiscreteJobID, job)

	rel := request(t, host, reply, common.KindJobRelease, 0, uint32(job))
	p = roundTrip(rel)
	assert.Equal(t, common.StatusSuccess, p.Descriptor().Status)

	require.NoError(t, srv.Stop())
	_, err = host.Open("server")
	assert.ErrorIs(t, err, messageq.ErrNotFound)
	assert.GreaterOrEqual(t, srv.Handled(), uint64(6))
}

// TestBuiltins tests the builtin functions
func TestBuiltins(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], 3)
	binary.LittleEndian.PutUint32(data[4:8], 4)

	sum, err := FxnAdd(data)
	require.NoError(t, err)
	assert.Equal(t, int32(7), sum)

	v, err := FxnDouble(data)
	require.NoError(t, err)
	assert.Equal(t, int32(6), v)
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(data[0:4]))

	_, err = FxnDouble(data[:2])
	assert.Error(t, err)
	_, err = FxnFail(data)
	assert.Error(t, err)
}

// TestLoopback tests that messages to the loopback server come back on the reply queue
func TestLoopback(t *testing.T) {
	bus := newBus(t)
	lb := NewLoopback(bus.Endpoint(0), "echo")
	reply, err := lb.Create("reply")
	require.NoError(t, err)

	id, err := lb.Open("echo")
	require.NoError(t, err)
	assert.Equal(t, LoopbackQueueID, id)

	msg := request(t, lb, reply, common.KindExec, 0, 5)
	require.NoError(t, lb.Put(id, msg))
	got, err := lb.Get(reply, messageq.WaitNone)
	require.NoError(t, err)
	assert.Same(t, msg, got)
	assert.Equal(t, uint64(1), lb.Echoed())
	require.NoError(t, lb.Close(id))

	msg.ReplyID = messageq.InvalidQueueID
	assert.ErrorIs(t, lb.Put(id, msg), messageq.ErrInvalidMsg)

	_, err = lb.Open("other")
	assert.ErrorIs(t, err, messageq.ErrNotFound)
}

// TestInstrumented tests the counters and the injected failures
func TestInstrumented(t *testing.T) {
	bus := newBus(t)
	inst := NewInstrumented(bus.Endpoint(0))

	inst.FailCreate(2)
	q, err := inst.Create("a")
	require.NoError(t, err)
	_, err = inst.Create("b")
	assert.Error(t, err)
	_, err = inst.Create("b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inst.Creates())

	boom := errors.New("boom")
	inst.FailNextGet(boom)
	_, err = inst.Get(q, messageq.WaitNone)
	assert.ErrorIs(t, err, boom)
	_, err = inst.Get(q, messageq.WaitNone)
	assert.ErrorIs(t, err, messageq.ErrTimeout)

	inst.FailPut(boom)
	assert.ErrorIs(t, inst.Put(q, &messageq.Msg{}), boom)
	inst.FailPut(nil)

	inst.FailOpen(boom)
	_, err = inst.Open("a")
	assert.ErrorIs(t, err, boom)
	inst.FailOpen(nil)
	_, err = inst.Open("a")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = inst.Get(q, messageq.WaitForever)
	}()
	require.Eventually(t, func() bool { return inst.Blocked() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, inst.Delete(q))
	<-done
	assert.Equal(t, int32(0), inst.Blocked())
	assert.Equal(t, int32(1), inst.MaxBlocked())
	assert.Equal(t, int32(1), inst.Deletes())
}
