// Package client implements the remote command messaging (rcm) client.
//
// An RcmClient connects to a named server queue over a messageq.IMessageQ
// transport. Messages are allocated from a shared heap with Alloc, filled by
// the caller (function index, job id, data) and sent with one of the exec
// calls:
//
//   - Exec and ExecDpc send and block until the reply arrives.
//   - ExecNoWait sends and returns the message id, WaitUntilDone collects the reply later.
//   - ExecCmd sends without a reply. The server only answers on failure, these
//     replies are read from the error queue with CheckForError.
//
// AcquireJobID, ReleaseJobID and GetSymbolIndex are small exec calls with a
// fixed payload.
//
// Replies from the server arrive on one inbound queue per client, in any
// order. Callers waiting concurrently share that queue with the mailman
// algorithm (see mailman.go): one caller at a time reads the queue and
// hands every reply to its owner, the others sleep until their reply is
// delivered or until they have to take over the reading.
//
// Waiting for a reply has no timeout. A failing receive ends the call with
// ErrLostMessage.
//
// Example:
//
//	c, err := client.NewRcmClient("dsp_server", client.DefaultParams(), mq)
//	if err != nil {
//		return err
//	}
//	defer c.Delete()
//
//	idx, err := c.GetSymbolIndex("fxnDouble")
//	msg, err := c.Alloc(4)
//	msg.Packet().SetFxnIdx(idx)
//	reply, err := c.Exec(msg)
//	defer c.Free(reply)
package client
