// Package local implements messageq.IMessageQ inside one process.
//
// A Bus holds the registry of all named queues (a concurrent xsync map) and
// the heaps messages are allocated from. Every simulated processor gets an
// Endpoint from the bus; queues created by an endpoint carry its processor id
// in their QueueID. Each queue is a Workiva queue, which provides the blocking,
// timed and non blocking receive the transport needs, and releases blocked
// readers when the queue is deleted.
package local
