// Package common defines the wire format of remote command messages.
//
// A packet lives in the payload of a transport message (see ipc/messageq).
// Its header carries a descriptor word, a message id that is unique per
// client, the pool and job ids used by the server for scheduling, the index
// of the function to call, the function result and the size of the data area.
//
// The descriptor holds the MessageKind, stamped by the client exactly once
// before the packet is sent, and the ServerStatus, set by the server on the
// reply. Both are decoded into a Descriptor at the packet boundary, so callers
// never shift or mask the raw word.
package common
