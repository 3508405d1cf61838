package client

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ValentinKolb/syslink/ipc/messageq"
	"github.com/ValentinKolb/syslink/rcm/common"
)

// RemoteFunc is the signature of a function that can be registered on the server
type RemoteFunc func(data []byte) int32

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// send classifies msg, sets its reply queue and puts it to the server queue.
// Errors of the put are returned unwrapped, the caller decides how to report them.
func (c *RcmClient) send(msg *common.Message, kind common.MessageKind, replyQueue messageq.QueueID) (uint16, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if msg == nil || msg.Msg == nil {
		return 0, fmt.Errorf("%w: nil message", ErrInvalidArg)
	}
	p := msg.Packet()
	if err := p.Valid(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}
	if err := p.Classify(kind); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}

	msgID := p.MsgID()
	c.mq.SetReplyQueue(replyQueue, msg.Msg)
	if err := c.mq.Put(c.serverQueue, msg.Msg); err != nil {
		return 0, err
	}
	c.metrics.sent.Inc()
	return msgID, nil
}

// sendError keeps local validation errors and wraps transport errors with kind
func sendError(err, kind error) error {
	if errors.Is(err, ErrInvalidArg) || errors.Is(err, ErrInvalidState) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// Unsent reports whether err of Exec, ExecDpc or ExecNoWait means the message was never
// handed to the server. The caller still owns such a message and has to free it.
// Every error of ExecCmd means the message was not sent.
func Unsent(err error) bool {
	return errors.Is(err, ErrExecFailed) || errors.Is(err, ErrInvalidArg) || errors.Is(err, ErrInvalidState)
}

// roundTrip sends msg and waits for the reply. msg is freed when it cannot be sent.
func (c *RcmClient) roundTrip(msg *common.Message, kind common.MessageKind) (*common.Message, error) {
	msgID, err := c.send(msg, kind, c.msgQueue)
	if err != nil {
		c.freeReply(msg)
		return nil, sendError(err, ErrExecFailed)
	}
	return c.getReturnMsg(msgID)
}

// execStatus maps the server status of a reply to an error
func execStatus(reply *common.Message) error {
	p := reply.Packet()
	switch status := p.Descriptor().Status; status {
	case common.StatusSuccess:
		return nil
	case common.StatusInvalidFxn:
		return fmt.Errorf("%w: 0x%x", ErrInvalidFxnIdx, p.FxnIdx())
	case common.StatusMsgFxnErr:
		return fmt.Errorf("%w: result %d", ErrMsgFxnError, p.Result())
	default:
		return fmt.Errorf("%w: %s", ErrServerError, status)
	}
}

// --------------------------------------------------------------------------
// Exec
// --------------------------------------------------------------------------

// Exec sends msg to the server and blocks until the reply arrives.
// The reply is returned together with the error when the server reports a failure,
// the caller owns it and has to free it.
func (c *RcmClient) Exec(msg *common.Message) (*common.Message, error) {
	return c.execKind(msg, common.KindExec)
}

// ExecDpc is like Exec, but the server runs the function in deferred context
func (c *RcmClient) ExecDpc(msg *common.Message) (*common.Message, error) {
	return c.execKind(msg, common.KindDpc)
}

func (c *RcmClient) execKind(msg *common.Message, kind common.MessageKind) (*common.Message, error) {
	msgID, err := c.send(msg, kind, c.msgQueue)
	if err != nil {
		return nil, sendError(err, ErrExecFailed)
	}

	reply, err := c.getReturnMsg(msgID)
	if err != nil {
		return nil, err
	}
	return reply, execStatus(reply)
}

// ExecNoWait sends msg and returns its message id without waiting for the reply.
// The reply is picked up with WaitUntilDone.
func (c *RcmClient) ExecNoWait(msg *common.Message) (uint16, error) {
	msgID, err := c.send(msg, common.KindExec, c.msgQueue)
	if err != nil {
		return 0, sendError(err, ErrExecFailed)
	}
	return msgID, nil
}

// WaitUntilDone blocks until the reply to the message sent by ExecNoWait arrives
func (c *RcmClient) WaitUntilDone(msgID uint16) (*common.Message, error) {
	if msgID == 0 {
		return nil, fmt.Errorf("%w: message id 0", ErrInvalidArg)
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	reply, err := c.getReturnMsg(msgID)
	if err != nil {
		return nil, err
	}
	return reply, execStatus(reply)
}

// ExecCmd sends msg without waiting. The server replies only on failure,
// those replies are collected with CheckForError.
func (c *RcmClient) ExecCmd(msg *common.Message) error {
	if _, err := c.send(msg, common.KindCmd, c.errorQueue); err != nil {
		return sendError(err, ErrIPC)
	}
	return nil
}

// ExecAsync would deliver the reply to cb. Callback notification is not supported.
func (c *RcmClient) ExecAsync(msg *common.Message, cb func(*common.Message)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if msg == nil || cb == nil {
		return fmt.Errorf("%w: nil message or callback", ErrInvalidArg)
	}
	return ErrNotSupported
}

// CheckForError returns the next error reply of a command sent with ExecCmd.
// It does not block, when there is no error reply it returns nil, nil.
// Replies for unknown jobs or pools are returned without an error.
func (c *RcmClient) CheckForError() (*common.Message, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	msg, err := c.mq.Get(c.errorQueue, messageq.WaitNone)
	if errors.Is(err, messageq.ErrTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIPC, err)
	}
	c.metrics.errors.Inc()

	reply, err := common.WrapMessage(msg)
	if err != nil {
		_ = c.mq.Free(msg)
		return nil, fmt.Errorf("%w: %v", ErrIPC, err)
	}

	p := reply.Packet()
	switch status := p.Descriptor().Status; status {
	case common.StatusJobNotFound:
		Logger.Warningf("command failed: job %d not found", p.JobID())
		return reply, nil
	case common.StatusPoolNotFound:
		Logger.Warningf("command failed: pool 0x%x not found", p.PoolID())
		return reply, nil
	case common.StatusInvalidFxn:
		return reply, fmt.Errorf("%w: 0x%x", ErrInvalidFxnIdx, p.FxnIdx())
	case common.StatusMsgFxnErr:
		return reply, fmt.Errorf("%w: result %d", ErrMsgFxnError, p.Result())
	default:
		return reply, fmt.Errorf("%w: %s", ErrServerError, status)
	}
}

// --------------------------------------------------------------------------
// Jobs
// --------------------------------------------------------------------------

// AcquireJobID requests a new job id from the server
func (c *RcmClient) AcquireJobID() (uint16, error) {
	msg, err := c.Alloc(2)
	if err != nil {
		return 0, err
	}

	reply, err := c.roundTrip(msg, common.KindJobAcquire)
	if err != nil {
		return 0, err
	}
	defer c.freeReply(reply)

	if status := reply.Packet().Descriptor().Status; status != common.StatusSuccess {
		return 0, fmt.Errorf("%w: %s", ErrServerError, status)
	}
	if len(reply.Data()) < 2 {
		return 0, fmt.Errorf("%w: job id reply without data", ErrServerError)
	}
	return binary.LittleEndian.Uint16(reply.Data()[0:2]), nil
}

// ReleaseJobID returns a job id to the server
func (c *RcmClient) ReleaseJobID(jobID uint16) error {
	msg, err := c.Alloc(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(msg.Data()[0:2], jobID)

	reply, err := c.roundTrip(msg, common.KindJobRelease)
	if err != nil {
		return err
	}
	defer c.freeReply(reply)

	switch status := reply.Packet().Descriptor().Status; status {
	case common.StatusSuccess:
		return nil
	case common.StatusJobNotFound:
		return fmt.Errorf("%w: %d", ErrJobIDNotFound, jobID)
	default:
		return fmt.Errorf("%w: %s", ErrServerError, status)
	}
}

// --------------------------------------------------------------------------
// Symbols
// --------------------------------------------------------------------------

// GetSymbolIndex asks the server for the function index of the symbol name
func (c *RcmClient) GetSymbolIndex(name string) (uint32, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty symbol name", ErrInvalidArg)
	}

	msg, err := c.Alloc(len(name) + 1)
	if err != nil {
		return 0, err
	}
	data := msg.Data()
	copy(data, name)
	data[len(name)] = 0

	reply, err := c.roundTrip(msg, common.KindSymbolIndex)
	if err != nil {
		return 0, err
	}
	defer c.freeReply(reply)

	switch status := reply.Packet().Descriptor().Status; status {
	case common.StatusSuccess:
		if len(reply.Data()) < 4 {
			return 0, fmt.Errorf("%w: symbol reply without data", ErrServerError)
		}
		return binary.LittleEndian.Uint32(reply.Data()[0:4]), nil
	case common.StatusSymbolNotFound:
		return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	default:
		return 0, fmt.Errorf("%w: %s", ErrServerError, status)
	}
}

// AddSymbol would register fxn under name on the server. It is not supported.
func (c *RcmClient) AddSymbol(name string, fxn RemoteFunc) (uint32, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if name == "" || fxn == nil {
		return 0, fmt.Errorf("%w: symbol name and function are required", ErrInvalidArg)
	}
	return 0, ErrNotSupported
}

// RemoveSymbol would remove the symbol name from the server. It is not supported.
func (c *RcmClient) RemoveSymbol(name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty symbol name", ErrInvalidArg)
	}
	return ErrNotSupported
}

func (c *RcmClient) freeReply(reply *common.Message) {
	if err := c.Free(reply); err != nil {
		Logger.Warningf("free reply: %v", err)
	}
}
