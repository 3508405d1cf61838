package heap

import (
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"sort"
	"sync"
)

var (
	Logger = logger.GetLogger("heap")
)

var (
	ErrNoMemory     = errors.New("heap: out of memory")
	ErrInvalidSize  = errors.New("heap: invalid size")
	ErrInvalidBlock = errors.New("heap: block does not belong to this heap")
)

// DefaultAlign is the minimal alignment of every block handed out by a HeapMem
const DefaultAlign = 8

// IHeap is a variable size allocator that backs messages and other shared objects
type IHeap interface {
	// Alloc returns a zeroed block of exactly size bytes
	Alloc(size int) ([]byte, error)
	// Free returns a block previously handed out by Alloc
	Free(block []byte) error
	// Stats returns a snapshot of the usage of the heap
	Stats() Stats
}

// Stats describes the usage of a heap
type Stats struct {
	TotalSize     int `json:"total_size"`
	TotalFree     int `json:"total_free"`
	LargestFree   int `json:"largest_free"`
	NumAllocated  int `json:"num_allocated"`
	NumFreeBlocks int `json:"num_free_blocks"`
}

// --------------------------------------------------------------------------
// HeapMem
// --------------------------------------------------------------------------

type span struct {
	off  int
	size int
}

// HeapMem is a first fit allocator over a fixed piece of memory.
// Adjacent free blocks are merged on Free.
//
// Thread-safe: all methods are safe for concurrent use
type HeapMem struct {
	mu    sync.Mutex
	mem   []byte
	align int
	free  []span      // sorted by offset
	used  map[int]int // offset -> size
}

// NewHeapMem creates a heap managing mem. align is rounded up to DefaultAlign.
func NewHeapMem(mem []byte, align int) *HeapMem {
	if align < DefaultAlign {
		align = DefaultAlign
	}
	h := &HeapMem{
		mem:   mem,
		align: align,
		used:  make(map[int]int),
	}
	if len(mem) > 0 {
		h.free = []span{{off: 0, size: len(mem)}}
	}
	return h
}

// Alloc implements IHeap
func (h *HeapMem) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	rounded := roundUp(size, h.align)

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.free {
		if s.size < rounded {
			continue
		}
		off := s.off
		if s.size == rounded {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{off: s.off + rounded, size: s.size - rounded}
		}
		h.used[off] = rounded

		block := h.mem[off : off+size]
		clear(block)
		return block, nil
	}

	Logger.Debugf("alloc of %d bytes failed (largest free %d)", size, h.largestFree())
	return nil, fmt.Errorf("%w: requested %d bytes", ErrNoMemory, size)
}

// Free implements IHeap
func (h *HeapMem) Free(block []byte) error {
	off, ok := h.offsetOf(block)
	if !ok {
		return ErrInvalidBlock
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	size, ok := h.used[off]
	if !ok {
		return fmt.Errorf("%w: no allocation at offset %d", ErrInvalidBlock, off)
	}
	delete(h.used, off)

	// insert and merge with the neighbours
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].off > off })
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = span{off: off, size: size}

	if i+1 < len(h.free) && h.free[i].off+h.free[i].size == h.free[i+1].off {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].off+h.free[i-1].size == h.free[i].off {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
	return nil
}

// Stats implements IHeap
func (h *HeapMem) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		TotalSize:     len(h.mem),
		NumAllocated:  len(h.used),
		NumFreeBlocks: len(h.free),
		LargestFree:   h.largestFree(),
	}
	for _, s := range h.free {
		st.TotalFree += s.size
	}
	return st
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// offsetOf finds the offset of block inside the managed memory.
// Blocks are always sub slices of mem that keep the capacity of mem, so the
// difference of the capacities is the offset.
func (h *HeapMem) offsetOf(block []byte) (int, bool) {
	if len(block) == 0 || cap(block) > cap(h.mem) {
		return 0, false
	}
	off := cap(h.mem) - cap(block)
	if off >= len(h.mem) || &h.mem[off] != &block[0] {
		return 0, false
	}
	return off, true
}

func (h *HeapMem) largestFree() int {
	largest := 0
	for _, s := range h.free {
		if s.size > largest {
			largest = s.size
		}
	}
	return largest
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}
