package messageq

import (
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var (
	Logger = logger.GetLogger("messageq")
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// HeaderSize is the number of bytes at the start of every message block used by the transport
	HeaderSize = 32

	// WaitForever makes Get block until a message arrives
	WaitForever time.Duration = -1
	// WaitNone makes Get return ErrTimeout immediately when the queue is empty
	WaitNone time.Duration = 0

	// InvalidQueueID is never assigned to a queue
	InvalidQueueID QueueID = 0xFFFFFFFF
)

var (
	ErrNotFound    = errors.New("messageq: queue not found")
	ErrExists      = errors.New("messageq: queue already exists")
	ErrTimeout     = errors.New("messageq: timeout")
	ErrDeleted     = errors.New("messageq: queue deleted")
	ErrInvalidHeap = errors.New("messageq: heap not registered")
	ErrInvalidMsg  = errors.New("messageq: invalid message")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// QueueID identifies a queue across processors: the processor id in the upper
// 16 bits, the queue index on that processor in the lower 16 bits.
type QueueID uint32

// NewQueueID builds the id of queue index on processor procID
func NewQueueID(procID, index uint16) QueueID {
	return QueueID(uint32(procID)<<16 | uint32(index))
}

// ProcID returns the processor that owns the queue
func (q QueueID) ProcID() uint16 {
	return uint16(q >> 16)
}

// Index returns the index of the queue on its processor
func (q QueueID) Index() uint16 {
	return uint16(q)
}

// String implements fmt.Stringer
func (q QueueID) String() string {
	return fmt.Sprintf("%d:%d", q.ProcID(), q.Index())
}

// Msg is one message. Block is the memory allocated from the heap, its first
// HeaderSize bytes belong to the transport and Payload is the rest.
type Msg struct {
	HeapID  uint16
	SrcProc uint16
	DstID   QueueID
	ReplyID QueueID

	Block   []byte
	Payload []byte
}

// Size returns the size of the message including the transport header
func (m *Msg) Size() int {
	return len(m.Block)
}

// --------------------------------------------------------------------------
// Transport boundary
// --------------------------------------------------------------------------

// IMessageQ is the transport used by the rcm client to talk to remote servers
type IMessageQ interface {
	// Create creates a named inbound queue on the local processor
	Create(name string) (QueueID, error)
	// Delete deletes a queue created by Create. Blocked readers return ErrDeleted.
	Delete(id QueueID) error
	// Open looks up a queue by name, ErrNotFound if it does not exist
	Open(name string) (QueueID, error)
	// Close releases a queue obtained with Open
	Close(id QueueID) error
	// Get receives the next message of a local queue. timeout is WaitForever, WaitNone or a duration.
	Get(id QueueID, timeout time.Duration) (*Msg, error)
	// Put sends msg to the queue id
	Put(id QueueID, msg *Msg) error
	// Alloc allocates a message of size bytes (including the header) from heap heapID
	Alloc(heapID uint16, size int) (*Msg, error)
	// Free returns msg to its heap
	Free(msg *Msg) error
	// SetReplyQueue sets the queue replies to msg are sent to
	SetReplyQueue(id QueueID, msg *Msg)
}
