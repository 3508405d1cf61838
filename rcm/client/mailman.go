package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/syslink/ipc/messageq"
	"github.com/ValentinKolb/syslink/rcm/common"
)

// --------------------------------------------------------------------------
// Mailman delivery
//
// All callers of one client share the inbound queue. At most one of them,
// the mailman, reads from the queue at any time. It delivers every reply it
// reads: its own reply is returned, a reply with a waiting recipient is
// handed over and wakes that recipient, any other reply is filed into the
// mailbox (newMail) until its caller comes to collect it.
//
// A caller that finds the queue lock taken registers as a recipient and
// sleeps. When the mailman found its own reply it wakes one idle recipient,
// which then tries to take over the mailman role.
// --------------------------------------------------------------------------

// recipient is a caller waiting for its reply. Fields are guarded by mbxLock.
type recipient struct {
	msgID uint16
	msg   *messageq.Msg
	woken bool
	event chan struct{}
}

// signal wakes the recipient, repeated signals before the wakeup are merged
func (r *recipient) signal() {
	select {
	case r.event <- struct{}{}:
	default:
	}
}

type deliveryState uint8

const (
	stateCheckMailbox deliveryState = iota
	stateTryMailman
	stateDeliver
	stateWaitRecipient
)

// getReturnMsg blocks until the reply with msgID arrives on the inbound queue.
// There is no timeout, a failing receive on the inbound queue is reported as ErrLostMessage.
func (c *RcmClient) getReturnMsg(msgID uint16) (*common.Message, error) {
	msg, err := c.awaitMsg(msgID)
	if err != nil {
		return nil, err
	}
	c.metrics.replies.Inc()

	reply, err := common.WrapMessage(msg)
	if err != nil {
		_ = c.mq.Free(msg)
		return nil, fmt.Errorf("%w: %v", ErrIPC, err)
	}
	return reply, nil
}

func (c *RcmClient) awaitMsg(msgID uint16) (*messageq.Msg, error) {
	state := stateCheckMailbox
	for {
		switch state {
		case stateCheckMailbox:
			c.mbxLock.Lock()
			if msg := c.takeNewMail(msgID); msg != nil {
				c.mbxLock.Unlock()
				return msg, nil
			}
			state = stateTryMailman

		case stateTryMailman:
			// mbxLock is held
			if c.queueLock.TryLock() {
				state = stateDeliver
			} else {
				state = stateWaitRecipient
			}

		case stateDeliver:
			// mbxLock and queueLock are held, deliver releases both
			return c.deliver(msgID)

		case stateWaitRecipient:
			// mbxLock is held, waitAsRecipient releases it
			if msg := c.waitAsRecipient(msgID); msg != nil {
				return msg, nil
			}
			state = stateCheckMailbox
		}
	}
}

// takeNewMail removes the reply with msgID from the mailbox. mbxLock must be held.
func (c *RcmClient) takeNewMail(msgID uint16) *messageq.Msg {
	for i, msg := range c.newMail {
		if common.Packet(msg.Payload).MsgID() == msgID {
			c.newMail = append(c.newMail[:i], c.newMail[i+1:]...)
			return msg
		}
	}
	return nil
}

// deliver runs the mailman role until the reply with msgID is read.
// It is entered with mbxLock and queueLock held and returns with both released.
func (c *RcmClient) deliver(msgID uint16) (*messageq.Msg, error) {
	c.metrics.mailman.Inc()

	var msg *messageq.Msg
	for {
		if msg == nil {
			next, err := c.poll()
			if err != nil {
				return nil, c.abandon(err)
			}
			msg = next
		}

		for msg != nil {
			id, ok := c.inspect(msg)
			if ok && id == msgID {
				c.wakeIdleRecipient()
				c.queueLock.Unlock()
				c.mbxLock.Unlock()
				return msg, nil
			}
			if ok {
				c.post(id, msg)
			}

			next, err := c.poll()
			if err != nil {
				return nil, c.abandon(err)
			}
			msg = next
		}

		// queue is empty, wait for the next reply without holding the mailbox
		c.mbxLock.Unlock()
		next, err := c.mq.Get(c.msgQueue, messageq.WaitForever)
		c.mbxLock.Lock()
		if err == nil && next == nil {
			err = errors.New("empty receive")
		}
		if err != nil {
			return nil, c.abandon(err)
		}
		msg = next
	}
}

// poll takes the next message from the inbound queue without blocking, nil if there is none
func (c *RcmClient) poll() (*messageq.Msg, error) {
	msg, err := c.mq.Get(c.msgQueue, messageq.WaitNone)
	if errors.Is(err, messageq.ErrTimeout) {
		return nil, nil
	}
	return msg, err
}

// inspect returns the message id of a reply. Malformed messages are dropped.
func (c *RcmClient) inspect(msg *messageq.Msg) (uint16, bool) {
	if err := common.Packet(msg.Payload).Valid(); err != nil {
		Logger.Warningf("dropping malformed reply: %v", err)
		if err := c.mq.Free(msg); err != nil {
			Logger.Warningf("free malformed reply: %v", err)
		}
		return 0, false
	}
	return common.Packet(msg.Payload).MsgID(), true
}

// post hands msg to the recipient waiting for it or files it into the mailbox. mbxLock must be held.
func (c *RcmClient) post(msgID uint16, msg *messageq.Msg) {
	for _, r := range c.recipients {
		if r.msgID == msgID && r.msg == nil {
			r.msg = msg
			r.signal()
			c.metrics.delivered.Inc()
			return
		}
	}
	c.newMail = append(c.newMail, msg)
	c.metrics.filed.Inc()
}

// wakeIdleRecipient wakes the first recipient that has no reply yet so it can
// take over the mailman role. mbxLock must be held.
func (c *RcmClient) wakeIdleRecipient() {
	for _, r := range c.recipients {
		if r.msg == nil && !r.woken {
			r.woken = true
			r.signal()
			c.metrics.handoffs.Inc()
			return
		}
	}
}

// abandon gives up the mailman role after a failed receive. The next idle
// recipient is woken so the role does not stay vacant.
// It is entered with mbxLock and queueLock held and returns with both released.
func (c *RcmClient) abandon(cause error) error {
	c.metrics.lost.Inc()
	c.wakeIdleRecipient()
	c.queueLock.Unlock()
	c.mbxLock.Unlock()

	Logger.Errorf("receive on %s failed: %v", c.msgQueue, cause)
	return fmt.Errorf("%w: %v", ErrLostMessage, cause)
}

// waitAsRecipient registers the caller as recipient and sleeps until it is woken.
// It returns the delivered reply, or nil when the caller was woken to take over the mailman role.
// It is entered with mbxLock held and returns with it released.
func (c *RcmClient) waitAsRecipient(msgID uint16) *messageq.Msg {
	self := &recipient{msgID: msgID, event: make(chan struct{}, 1)}
	c.recipients = append(c.recipients, self)
	c.mbxLock.Unlock()

	<-self.event

	c.mbxLock.Lock()
	msg := self.msg
	c.removeRecipient(self)
	c.mbxLock.Unlock()
	return msg
}

// removeRecipient removes r from the recipient list. mbxLock must be held.
func (c *RcmClient) removeRecipient(r *recipient) {
	for i, other := range c.recipients {
		if other == r {
			c.recipients = append(c.recipients[:i], c.recipients[i+1:]...)
			return
		}
	}
}
