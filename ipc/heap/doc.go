// Package heap provides the allocator that backs messages in a shared region.
//
// IHeap is the boundary the rest of the module programs against. HeapMem is a
// first fit implementation over a fixed byte slice, typically the part of a
// shared region that is left after reserved memory was carved out of it.
package heap
