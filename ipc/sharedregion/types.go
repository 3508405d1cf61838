package sharedregion

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/syslink/ipc/heap"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// InvalidRegionID is returned by lookups that did not find a region
	InvalidRegionID uint16 = 0xFFFF
	// DefaultOwnerID marks a region without a designated owner processor
	DefaultOwnerID uint16 = 0xFFFF
	// DefaultAlign is the minimal alignment of reserved memory
	DefaultAlign uint32 = 8
	// wordSize is returned by GetCacheLineSize when the region can not be looked up
	wordSize uint32 = 4

	defaultNumEntries    uint16 = 4
	defaultCacheLineSize uint32 = 128
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	ErrInvalidState  = errors.New("sharedregion: module is not set up")
	ErrInvalidArg    = errors.New("sharedregion: invalid argument")
	ErrMemory        = errors.New("sharedregion: out of memory")
	ErrAlreadyExists = errors.New("sharedregion: region overlaps an existing region")
	ErrOSFailure     = errors.New("sharedregion: driver failure")

	// ErrAlreadySetup is informational. Setup was called before and the reference count was incremented.
	ErrAlreadySetup = errors.New("sharedregion: already set up")
	// ErrAlreadyDestroyed is informational. Destroy was called on a module that is not set up.
	ErrAlreadyDestroyed = errors.New("sharedregion: already destroyed")
)

// IsInformational reports whether err is a non fatal status
func IsInformational(err error) bool {
	return errors.Is(err, ErrAlreadySetup) || errors.Is(err, ErrAlreadyDestroyed)
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Config holds the table wide parameters
type Config struct {
	// CacheLineSize is the default cache line size of every region
	CacheLineSize uint32
	// NumEntries is the number of slots in the table
	NumEntries uint16
	// Translate enables address translation. Without it a SRPtr is the address itself.
	Translate bool
}

// Entry describes one region of shared memory as seen by the local processor
type Entry struct {
	Base          uintptr
	Len           uint32
	OwnerProcID   uint16
	IsValid       bool
	CacheEnable   bool
	CacheLineSize uint32
	CreateHeap    bool
	Name          string
}

// end returns the first address behind the region
func (e *Entry) end() uintptr {
	return e.Base + uintptr(e.Len)
}

func (e *Entry) contains(addr uintptr) bool {
	return addr >= e.Base && addr < e.end()
}

// Region is one slot of the table
type Region struct {
	Entry Entry
	// ReservedSize is the cursor of the bump allocator
	ReservedSize uint32
	Heap         heap.IHeap
}

// --------------------------------------------------------------------------
// SRPtr
// --------------------------------------------------------------------------

// SRPtr is a portable pointer into a shared region.
// The upper bits select the region, the lower bits are the offset into it.
// A SRPtr does not keep the region alive. Use Module.MakeSRPtr and Module.SplitSRPtr
// to build and take apart values with bounds checking.
type SRPtr uint32

// InvalidSRPtr is the reserved all ones value. As a consequence the last
// byte of the last region of a full table can not be encoded.
const InvalidSRPtr SRPtr = 0xFFFFFFFF

// IsValid reports whether p is not the invalid sentinel
func (p SRPtr) IsValid() bool {
	return p != InvalidSRPtr
}

// String implements fmt.Stringer
func (p SRPtr) String() string {
	if !p.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("0x%08x", uint32(p))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// indexBits returns the number of bits needed for the region index
func indexBits(numEntries uint16) uint32 {
	switch numEntries {
	case 0:
		return 0
	case 1:
		return 1
	}
	bits := uint32(0)
	for n := numEntries - 1; n != 0; n >>= 1 {
		bits++
	}
	return bits
}

func roundUp(n, align uint32) uint32 {
	return (n + align - 1) / align * align
}
