package local

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/syslink/ipc/heap"
	"github.com/ValentinKolb/syslink/ipc/messageq"
	wqueue "github.com/Workiva/go-datastructures/queue"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
	"time"
)

var Logger = messageq.Logger

// queueHint is the initial capacity of every queue
const queueHint = 64

// --------------------------------------------------------------------------
// Bus
// --------------------------------------------------------------------------

// Bus connects the endpoints of all processors of one process.
// It holds the name registry of all queues and the heaps messages are allocated from.
type Bus struct {
	byName    *xsync.MapOf[string, *localQueue]
	byID      *xsync.MapOf[messageq.QueueID, *localQueue]
	heaps     *xsync.MapOf[uint16, heap.IHeap]
	endpoints *xsync.MapOf[uint16, *Endpoint]
	seq       atomic.Uint32
}

type localQueue struct {
	id   messageq.QueueID
	name string
	q    *wqueue.Queue
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		byName:    xsync.NewMapOf[string, *localQueue](),
		byID:      xsync.NewMapOf[messageq.QueueID, *localQueue](),
		heaps:     xsync.NewMapOf[uint16, heap.IHeap](),
		endpoints: xsync.NewMapOf[uint16, *Endpoint](),
	}
}

// RegisterHeap makes h available for message allocation under heapID
func (b *Bus) RegisterHeap(heapID uint16, h heap.IHeap) {
	b.heaps.Store(heapID, h)
}

// UnregisterHeap removes the heap with heapID
func (b *Bus) UnregisterHeap(heapID uint16) {
	b.heaps.Delete(heapID)
}

// Endpoint returns the transport of processor procID. Every call for the same processor returns the same endpoint.
func (b *Bus) Endpoint(procID uint16) *Endpoint {
	e, _ := b.endpoints.LoadOrCompute(procID, func() *Endpoint {
		return &Endpoint{bus: b, procID: procID}
	})
	return e
}

// NumQueues returns the number of queues currently registered
func (b *Bus) NumQueues() int {
	return b.byID.Size()
}

// --------------------------------------------------------------------------
// Endpoint
// --------------------------------------------------------------------------

// Endpoint is the transport of one processor. It implements messageq.IMessageQ.
type Endpoint struct {
	bus       *Bus
	procID    uint16
	nextIndex atomic.Uint32
}

// ProcID returns the processor of the endpoint
func (e *Endpoint) ProcID() uint16 {
	return e.procID
}

// Create implements messageq.IMessageQ
func (e *Endpoint) Create(name string) (messageq.QueueID, error) {
	if name == "" {
		return messageq.InvalidQueueID, fmt.Errorf("%w: empty name", messageq.ErrInvalidMsg)
	}
	index := e.nextIndex.Add(1) - 1
	if index > 0xFFFF {
		return messageq.InvalidQueueID, fmt.Errorf("processor %d: out of queue indices", e.procID)
	}

	lq := &localQueue{
		id:   messageq.NewQueueID(e.procID, uint16(index)),
		name: name,
		q:    wqueue.New(queueHint),
	}
	if _, loaded := e.bus.byName.LoadOrStore(name, lq); loaded {
		lq.q.Dispose()
		return messageq.InvalidQueueID, fmt.Errorf("%w: %s", messageq.ErrExists, name)
	}
	e.bus.byID.Store(lq.id, lq)

	Logger.Debugf("created queue %s (%s)", name, lq.id)
	return lq.id, nil
}

// Delete implements messageq.IMessageQ. Messages still in the queue are freed.
func (e *Endpoint) Delete(id messageq.QueueID) error {
	if id.ProcID() != e.procID {
		return fmt.Errorf("%w: %s is not a local queue", messageq.ErrNotFound, id)
	}
	lq, ok := e.bus.byID.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", messageq.ErrNotFound, id)
	}
	e.bus.byName.Delete(lq.name)

	for _, item := range lq.q.Dispose() {
		if msg, ok := item.(*messageq.Msg); ok {
			if err := e.Free(msg); err != nil {
				Logger.Warningf("delete %s: free pending message: %v", lq.name, err)
			}
		}
	}

	Logger.Debugf("deleted queue %s (%s)", lq.name, id)
	return nil
}

// Open implements messageq.IMessageQ
func (e *Endpoint) Open(name string) (messageq.QueueID, error) {
	lq, ok := e.bus.byName.Load(name)
	if !ok {
		return messageq.InvalidQueueID, fmt.Errorf("%w: %s", messageq.ErrNotFound, name)
	}
	return lq.id, nil
}

// Close implements messageq.IMessageQ
func (e *Endpoint) Close(id messageq.QueueID) error {
	if _, ok := e.bus.byID.Load(id); !ok {
		return fmt.Errorf("%w: %s", messageq.ErrNotFound, id)
	}
	return nil
}

// Get implements messageq.IMessageQ
func (e *Endpoint) Get(id messageq.QueueID, timeout time.Duration) (*messageq.Msg, error) {
	if id.ProcID() != e.procID {
		return nil, fmt.Errorf("%w: %s is not a local queue", messageq.ErrNotFound, id)
	}
	lq, ok := e.bus.byID.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", messageq.ErrNotFound, id)
	}

	var items []interface{}
	var err error
	switch {
	case timeout == messageq.WaitNone:
		taken := false
		items, err = lq.q.TakeUntil(func(interface{}) bool {
			if taken {
				return false
			}
			taken = true
			return true
		})
	case timeout < 0:
		items, err = lq.q.Get(1)
	default:
		items, err = lq.q.Poll(1, timeout)
	}

	switch {
	case errors.Is(err, wqueue.ErrDisposed):
		return nil, fmt.Errorf("%w: %s", messageq.ErrDeleted, id)
	case errors.Is(err, wqueue.ErrTimeout):
		return nil, messageq.ErrTimeout
	case err != nil:
		return nil, err
	case len(items) == 0:
		return nil, messageq.ErrTimeout
	}

	msg, ok := items[0].(*messageq.Msg)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected item %T", messageq.ErrInvalidMsg, items[0])
	}
	if _, err := messageq.ReadHeader(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Put implements messageq.IMessageQ
func (e *Endpoint) Put(id messageq.QueueID, msg *messageq.Msg) error {
	if msg == nil {
		return messageq.ErrInvalidMsg
	}
	lq, ok := e.bus.byID.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", messageq.ErrNotFound, id)
	}

	msg.DstID = id
	msg.SrcProc = e.procID
	if err := messageq.WriteHeader(msg, uint16(e.bus.seq.Add(1))); err != nil {
		return err
	}

	if err := lq.q.Put(msg); err != nil {
		if errors.Is(err, wqueue.ErrDisposed) {
			return fmt.Errorf("%w: %s", messageq.ErrDeleted, id)
		}
		return err
	}
	return nil
}

// Alloc implements messageq.IMessageQ
func (e *Endpoint) Alloc(heapID uint16, size int) (*messageq.Msg, error) {
	if size < messageq.HeaderSize {
		return nil, fmt.Errorf("%w: size %d is smaller than the header", messageq.ErrInvalidMsg, size)
	}
	h, ok := e.bus.heaps.Load(heapID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", messageq.ErrInvalidHeap, heapID)
	}
	block, err := h.Alloc(size)
	if err != nil {
		return nil, err
	}

	msg := &messageq.Msg{
		HeapID:  heapID,
		SrcProc: e.procID,
		DstID:   messageq.InvalidQueueID,
		ReplyID: messageq.InvalidQueueID,
		Block:   block,
		Payload: block[messageq.HeaderSize:],
	}
	return msg, nil
}

// Free implements messageq.IMessageQ
func (e *Endpoint) Free(msg *messageq.Msg) error {
	if msg == nil || msg.Block == nil {
		return messageq.ErrInvalidMsg
	}
	h, ok := e.bus.heaps.Load(msg.HeapID)
	if !ok {
		return fmt.Errorf("%w: %d", messageq.ErrInvalidHeap, msg.HeapID)
	}
	if err := h.Free(msg.Block); err != nil {
		return err
	}
	msg.Block = nil
	msg.Payload = nil
	return nil
}

// SetReplyQueue implements messageq.IMessageQ
func (e *Endpoint) SetReplyQueue(id messageq.QueueID, msg *messageq.Msg) {
	msg.ReplyID = id
}
