// Package messageq defines the message transport between processors.
//
// IMessageQ is a small set of operations on named queues: create and delete
// local inbound queues, open remote queues by name, allocate messages from a
// heap, put them to a queue and get them from a local queue with a timeout.
//
// Messages are blocks of heap memory. The first HeaderSize bytes of a block are
// reserved for the transport, protocols on top (like rcm) use Msg.Payload.
//
// The subpackage local implements the transport in process, with one Bus per
// process and one Endpoint per simulated processor.
package messageq
