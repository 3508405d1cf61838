// Package shm maps the memory segments that back shared regions.
package shm

import (
	"errors"
	"github.com/lni/dragonboat/v4/logger"
	"unsafe"
)

var (
	Logger = logger.GetLogger("shm")
)

var ErrInvalidSize = errors.New("shm: size must be positive")

// Segment is a mapped piece of memory. Mem stays valid until Close.
type Segment struct {
	Name string
	Mem  []byte

	path     string
	unmapper func([]byte) error
}

// Base returns the local address of the first byte of the segment
func (s *Segment) Base() uintptr {
	if len(s.Mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s.Mem[0]))
}

// Len returns the size of the segment in bytes
func (s *Segment) Len() uint32 {
	return uint32(len(s.Mem))
}

// Path returns the backing file of a named segment, empty for anonymous segments
func (s *Segment) Path() string {
	return s.path
}
