package client

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/syslink/ipc/messageq"
	"github.com/ValentinKolb/syslink/rcm/common"
	"github.com/cenkalti/backoff/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rcm")
)

// clientSeq makes the names of the inbound queues unique within the process
var clientSeq atomic.Uint32

// --------------------------------------------------------------------------
// Params
// --------------------------------------------------------------------------

// Params are the creation parameters of a client
type Params struct {
	// HeapID is the heap messages are allocated from.
	// common.DefaultHeapID picks DefaultHeapIDs[procID of the server].
	HeapID uint16

	// CallbackNotification requests asynchronous replies through a callback.
	// It is not supported, NewRcmClient fails with ErrNotSupported.
	CallbackNotification bool

	// DefaultHeapIDs maps the processor id of the server to a heap id
	DefaultHeapIDs []uint16

	// OpenRetries is the number of additional attempts to find the server queue
	OpenRetries uint64
	// OpenRetryInterval is the pause between two attempts
	OpenRetryInterval time.Duration
}

// DefaultParams returns the default creation parameters
func DefaultParams() Params {
	return Params{
		HeapID:            common.DefaultHeapID,
		DefaultHeapIDs:    []uint16{0, 1, 2, 3},
		OpenRetryInterval: 100 * time.Millisecond,
	}
}

// --------------------------------------------------------------------------
// RcmClient
// --------------------------------------------------------------------------

// RcmClient sends remote command messages to one server.
// All methods are safe for concurrent use, any number of goroutines may wait for replies at the same time.
type RcmClient struct {
	server string
	mq     messageq.IMessageQ

	// gate guards msgID and closed
	gate   sync.Mutex
	msgID  uint16
	closed bool

	msgQueue    messageq.QueueID
	errorQueue  messageq.QueueID
	serverQueue messageq.QueueID
	heapID      uint16

	// mbxLock guards recipients and newMail, queueLock is held by the mailman
	mbxLock    sync.Mutex
	queueLock  sync.Mutex
	recipients []*recipient
	newMail    []*messageq.Msg

	metrics *clientMetrics
}

// NewRcmClient connects to the server with the given name over mq.
// If any step fails, everything created up to that point is released again.
func NewRcmClient(server string, params Params, mq messageq.IMessageQ) (*RcmClient, error) {
	if mq == nil {
		return nil, fmt.Errorf("%w: no message queue", ErrInvalidArg)
	}
	if server == "" || len(server) > common.MaxNameLen {
		return nil, fmt.Errorf("%w: server name %q", ErrInvalidArg, server)
	}
	if params.CallbackNotification {
		return nil, fmt.Errorf("%w: callback notification", ErrNotSupported)
	}

	c := &RcmClient{
		server:      server,
		mq:          mq,
		msgID:       0xFFFF,
		msgQueue:    messageq.InvalidQueueID,
		errorQueue:  messageq.InvalidQueueID,
		serverQueue: messageq.InvalidQueueID,
		heapID:      params.HeapID,
	}

	var rollback []func()
	fail := func(err error) (*RcmClient, error) {
		for i := len(rollback) - 1; i >= 0; i-- {
			rollback[i]()
		}
		Logger.Errorf("create client for %s: %v", server, err)
		return nil, err
	}

	seq := clientSeq.Add(1)

	// inbound queue
	id, err := mq.Create(fmt.Sprintf("rcm-%s-%d", server, seq))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrMsgQCreateFailed, err))
	}
	c.msgQueue = id
	rollback = append(rollback, func() { c.deleteQueue(c.msgQueue) })

	// error queue
	id, err = mq.Create(fmt.Sprintf("rcm-%s-%d-err", server, seq))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrMsgQCreateFailed, err))
	}
	c.errorQueue = id
	rollback = append(rollback, func() { c.deleteQueue(c.errorQueue) })

	// server queue
	if err := c.openServer(params.OpenRetries, params.OpenRetryInterval); err != nil {
		return fail(err)
	}
	rollback = append(rollback, func() { _ = mq.Close(c.serverQueue) })

	// heap
	if c.heapID == common.DefaultHeapID {
		procID := int(c.serverQueue.ProcID())
		if procID >= len(params.DefaultHeapIDs) {
			return fail(fmt.Errorf("%w: no default heap for processor %d", ErrInvalidHeapID, procID))
		}
		c.heapID = params.DefaultHeapIDs[procID]
	}

	c.metrics = newClientMetrics(server)

	Logger.Infof("client connected to %s (server queue %s, inbound %s, errors %s, heap %d)",
		server, c.serverQueue, c.msgQueue, c.errorQueue, c.heapID)
	return c, nil
}

// openServer looks up the server queue, retrying while the server is not found
func (c *RcmClient) openServer(retries uint64, interval time.Duration) error {
	open := func() error {
		id, err := c.mq.Open(c.server)
		if err != nil {
			if errors.Is(err, messageq.ErrNotFound) {
				Logger.Debugf("server %s not found", c.server)
				return err
			}
			return backoff.Permanent(err)
		}
		c.serverQueue = id
		return nil
	}

	err := backoff.Retry(open, backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, messageq.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrServerNotFound, c.server)
	default:
		return fmt.Errorf("%w: %v", ErrMsgQOpenFailed, err)
	}
}

func (c *RcmClient) deleteQueue(id messageq.QueueID) {
	if err := c.mq.Delete(id); err != nil {
		Logger.Warningf("delete queue %s: %v", id, err)
	}
}

// Delete releases the queues of the client. Undelivered replies are freed,
// goroutines still waiting for a reply fail with ErrLostMessage.
func (c *RcmClient) Delete() error {
	c.gate.Lock()
	if c.closed {
		c.gate.Unlock()
		return ErrInvalidState
	}
	c.closed = true
	c.gate.Unlock()

	if err := c.mq.Close(c.serverQueue); err != nil {
		Logger.Warningf("close server queue %s: %v", c.serverQueue, err)
	}
	c.deleteQueue(c.errorQueue)
	c.deleteQueue(c.msgQueue)

	c.mbxLock.Lock()
	for _, msg := range c.newMail {
		if err := c.mq.Free(msg); err != nil {
			Logger.Warningf("free undelivered message: %v", err)
		}
	}
	c.newMail = nil
	for _, r := range c.recipients {
		r.signal()
	}
	c.recipients = nil
	c.mbxLock.Unlock()

	Logger.Infof("client of %s deleted", c.server)
	return nil
}

func (c *RcmClient) checkOpen() error {
	c.gate.Lock()
	defer c.gate.Unlock()
	if c.closed {
		return ErrInvalidState
	}
	return nil
}

// genMsgID returns the next message id. Ids wrap from 0xFFFF to 1, 0 is never used.
func (c *RcmClient) genMsgID() uint16 {
	c.gate.Lock()
	defer c.gate.Unlock()
	if c.msgID == 0xFFFF {
		c.msgID = 1
	} else {
		c.msgID++
	}
	return c.msgID
}

// Server returns the name of the server
func (c *RcmClient) Server() string {
	return c.server
}

// HeapID returns the heap messages are allocated from
func (c *RcmClient) HeapID() uint16 {
	return c.heapID
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

// HeaderSize returns the size of the headers in front of the data area
func HeaderSize() int {
	return common.HeaderSize
}

// Alloc allocates a message with room for dataSize bytes of data.
// The data area is at least common.MinDataSize bytes.
func (c *RcmClient) Alloc(dataSize int) (*common.Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if dataSize < 0 {
		return nil, fmt.Errorf("%w: data size %d", ErrInvalidArg, dataSize)
	}
	if dataSize < common.MinDataSize {
		dataSize = common.MinDataSize
	}

	msg, err := c.mq.Alloc(c.heapID, common.HeaderSize+dataSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMsgAllocFailed, err)
	}
	common.Packet(msg.Payload).Init(c.genMsgID(), uint32(dataSize))
	return &common.Message{Msg: msg}, nil
}

// Free returns msg to its heap
func (c *RcmClient) Free(msg *common.Message) error {
	if msg == nil || msg.Msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidArg)
	}
	if err := c.mq.Free(msg.Msg); err != nil {
		return fmt.Errorf("%w: %v", ErrIPC, err)
	}
	return nil
}
