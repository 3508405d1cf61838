package rcmtest

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/syslink/ipc/messageq"
)

// Instrumented wraps a transport, counts calls and injects failures.
// It tracks how many goroutines are blocked in Get with messageq.WaitForever at the same time.
type Instrumented struct {
	messageq.IMessageQ

	blocked    atomic.Int32
	maxBlocked atomic.Int32

	creates atomic.Int32
	deletes atomic.Int32
	closes  atomic.Int32

	failCreateAt atomic.Int32
	failGet      atomic.Pointer[error]
	failOpen     atomic.Pointer[error]
	failPut      atomic.Pointer[error]
}

// NewInstrumented wraps mq
func NewInstrumented(mq messageq.IMessageQ) *Instrumented {
	return &Instrumented{IMessageQ: mq}
}

// FailCreate makes the n-th call of Create (counting from 1) fail
func (i *Instrumented) FailCreate(n int32) {
	i.failCreateAt.Store(n)
}

// FailNextGet makes the next call of Get return err
func (i *Instrumented) FailNextGet(err error) {
	i.failGet.Store(&err)
}

// FailOpen makes every call of Open return err, nil clears it
func (i *Instrumented) FailOpen(err error) {
	if err == nil {
		i.failOpen.Store(nil)
		return
	}
	i.failOpen.Store(&err)
}

// FailPut makes every call of Put return err, nil clears it
func (i *Instrumented) FailPut(err error) {
	if err == nil {
		i.failPut.Store(nil)
		return
	}
	i.failPut.Store(&err)
}

// MaxBlocked returns the highest number of concurrently blocked Get calls seen
func (i *Instrumented) MaxBlocked() int32 { return i.maxBlocked.Load() }

// Blocked returns the number of Get calls blocked right now
func (i *Instrumented) Blocked() int32 { return i.blocked.Load() }

// Creates returns the number of successful Create calls
func (i *Instrumented) Creates() int32 { return i.creates.Load() }

// Deletes returns the number of successful Delete calls
func (i *Instrumented) Deletes() int32 { return i.deletes.Load() }

// Closes returns the number of successful Close calls
func (i *Instrumented) Closes() int32 { return i.closes.Load() }

// Create implements messageq.IMessageQ
func (i *Instrumented) Create(name string) (messageq.QueueID, error) {
	n := i.creates.Load() + 1
	if at := i.failCreateAt.Load(); at > 0 && at == n {
		i.failCreateAt.Store(0)
		return messageq.InvalidQueueID, messageq.ErrExists
	}
	id, err := i.IMessageQ.Create(name)
	if err == nil {
		i.creates.Add(1)
	}
	return id, err
}

// Delete implements messageq.IMessageQ
func (i *Instrumented) Delete(id messageq.QueueID) error {
	err := i.IMessageQ.Delete(id)
	if err == nil {
		i.deletes.Add(1)
	}
	return err
}

// Open implements messageq.IMessageQ
func (i *Instrumented) Open(name string) (messageq.QueueID, error) {
	if err := i.failOpen.Load(); err != nil {
		return messageq.InvalidQueueID, *err
	}
	return i.IMessageQ.Open(name)
}

// Close implements messageq.IMessageQ
func (i *Instrumented) Close(id messageq.QueueID) error {
	err := i.IMessageQ.Close(id)
	if err == nil {
		i.closes.Add(1)
	}
	return err
}

// Put implements messageq.IMessageQ
func (i *Instrumented) Put(id messageq.QueueID, msg *messageq.Msg) error {
	if err := i.failPut.Load(); err != nil {
		return *err
	}
	return i.IMessageQ.Put(id, msg)
}

// Get implements messageq.IMessageQ
func (i *Instrumented) Get(id messageq.QueueID, timeout time.Duration) (*messageq.Msg, error) {
	if err := i.failGet.Swap(nil); err != nil {
		return nil, *err
	}
	if timeout >= 0 {
		return i.IMessageQ.Get(id, timeout)
	}

	n := i.blocked.Add(1)
	for {
		seen := i.maxBlocked.Load()
		if n <= seen || i.maxBlocked.CompareAndSwap(seen, n) {
			break
		}
	}
	defer i.blocked.Add(-1)
	return i.IMessageQ.Get(id, timeout)
}
