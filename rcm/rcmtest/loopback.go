package rcmtest

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/syslink/ipc/messageq"
)

// LoopbackQueueID is the id Loopback hands out for its server queue
const LoopbackQueueID messageq.QueueID = 0x0000FFFE

// Loopback wraps a transport and pretends that a server named Server exists.
// Every message put to that server is sent back unchanged to its reply queue,
// so each packet becomes its own reply with status success.
type Loopback struct {
	messageq.IMessageQ
	Server string

	echoed atomic.Uint64
}

// NewLoopback creates a loopback for server on top of mq
func NewLoopback(mq messageq.IMessageQ, server string) *Loopback {
	return &Loopback{IMessageQ: mq, Server: server}
}

// Open implements messageq.IMessageQ
func (l *Loopback) Open(name string) (messageq.QueueID, error) {
	if name == l.Server {
		return LoopbackQueueID, nil
	}
	return l.IMessageQ.Open(name)
}

// Close implements messageq.IMessageQ
func (l *Loopback) Close(id messageq.QueueID) error {
	if id == LoopbackQueueID {
		return nil
	}
	return l.IMessageQ.Close(id)
}

// Put implements messageq.IMessageQ
func (l *Loopback) Put(id messageq.QueueID, msg *messageq.Msg) error {
	if id != LoopbackQueueID {
		return l.IMessageQ.Put(id, msg)
	}
	if msg == nil || msg.ReplyID == messageq.InvalidQueueID {
		return fmt.Errorf("%w: no reply queue", messageq.ErrInvalidMsg)
	}
	l.echoed.Add(1)
	return l.IMessageQ.Put(msg.ReplyID, msg)
}

// Echoed returns the number of messages sent back
func (l *Loopback) Echoed() uint64 {
	return l.echoed.Load()
}
