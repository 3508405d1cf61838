package rcm

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/syslink/ipc/heap"
	"github.com/ValentinKolb/syslink/ipc/messageq/local"
	"github.com/ValentinKolb/syslink/rcm/client"
	"github.com/ValentinKolb/syslink/rcm/rcmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBenchClient sets the package client to one talking to a builtin server through a transport that can fail puts
func newBenchClient(t *testing.T) (*rcmtest.Instrumented, *heap.HeapMem) {
	t.Helper()
	h := heap.NewHeapMem(make([]byte, 1<<20), 8)
	bus := local.NewBus()
	for _, id := range client.DefaultParams().DefaultHeapIDs {
		bus.RegisterHeap(id, h)
	}

	srv, err := rcmtest.NewServer("bench_server", bus.Endpoint(serverProcID), rcmtest.ServerOptions{Workers: 2})
	require.NoError(t, err)
	srv.RegisterBuiltins()
	srv.Start()

	inst := rcmtest.NewInstrumented(bus.Endpoint(hostProcID))
	c, err := client.NewRcmClient("bench_server", client.DefaultParams(), inst)
	require.NoError(t, err)

	prevClient, prevDepth := rcmClient, perfDepth
	rcmClient, perfDepth = c, 3
	t.Cleanup(func() {
		_ = c.Delete()
		_ = srv.Stop()
		rcmClient, perfDepth = prevClient, prevDepth
	})
	return inst, h
}

// TestBenchmarksFreeMessages tests that the benchmarks give every message back to the heap, also when calls fail
func TestBenchmarksFreeMessages(t *testing.T) {
	inst, h := newBenchClient(t)

	double, err := rcmClient.GetSymbolIndex("fxnDouble")
	require.NoError(t, err)
	fail, err := rcmClient.GetSymbolIndex("fxnFail")
	require.NoError(t, err)
	inUse := h.Stats().NumAllocated

	n, err := benchExec(rcmClient.Exec)(double, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = benchPipelined(double, 21)
	require.NoError(t, err)
	assert.Equal(t, perfDepth, n)
	assert.Equal(t, inUse, h.Stats().NumAllocated)

	// the server reports the failure with the reply attached
	n, err = benchExec(rcmClient.ExecDpc)(fail, 1)
	assert.ErrorIs(t, err, client.ErrMsgFxnError)
	assert.Zero(t, n)
	n, err = benchPipelined(fail, 1)
	assert.ErrorIs(t, err, client.ErrMsgFxnError)
	assert.Zero(t, n)
	assert.Equal(t, inUse, h.Stats().NumAllocated)

	// requests that never leave the client
	inst.FailPut(errors.New("link down"))
	n, err = benchExec(rcmClient.Exec)(double, 1)
	assert.ErrorIs(t, err, client.ErrExecFailed)
	assert.Zero(t, n)
	n, err = benchPipelined(double, 1)
	assert.ErrorIs(t, err, client.ErrExecFailed)
	assert.Zero(t, n)
	assert.Equal(t, inUse, h.Stats().NumAllocated)

	inst.FailPut(nil)
	n, err = benchPipelined(double, 1)
	require.NoError(t, err)
	assert.Equal(t, perfDepth, n)
}
