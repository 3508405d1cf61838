package sharedregion

import (
	"fmt"
	"github.com/ValentinKolb/syslink/ipc/heap"
	"github.com/lni/dragonboat/v4/logger"
	"math"
	"sync"
	"sync/atomic"
)

var (
	Logger = logger.GetLogger("sharedregion")
)

// Module is the region table of one processor. All methods are safe for concurrent use.
//
// A Module is reference counted: every successful Setup has to be paired with a Destroy,
// the last Destroy tears the table down.
type Module struct {
	mu       sync.RWMutex
	driver   IRegionDriver
	self     uint16
	refCount int

	cfg        Config
	regions    []Region
	offsetBits uint32
	offsetMask uint32

	lastFailure atomic.Pointer[error]
}

// NewModule creates an empty table for processor self on top of driver.
// The table is unusable until Setup was called.
func NewModule(driver IRegionDriver, self uint16) *Module {
	return &Module{
		driver: driver,
		self:   self,
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// GetConfig returns the active configuration, or the driver defaults when the table is not set up
func (m *Module) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount > 0 {
		return m.cfg
	}
	return m.driver.Config()
}

// Setup initializes the table. A nil cfg uses the driver defaults.
// Calling Setup on a set up table increments the reference count and returns ErrAlreadySetup.
func (m *Module) Setup(cfg *Config) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refCount++
	if m.refCount > 1 {
		Logger.Infof("already set up (ref count %d)", m.refCount)
		return ErrAlreadySetup
	}

	defer func() {
		if err != nil {
			Logger.Errorf("setup failed: %v", err)
			_ = m.destroyLocked()
		}
	}()

	c := m.driver.Config()
	if cfg != nil {
		c = *cfg
	}
	if c.NumEntries == 0 {
		return fmt.Errorf("%w: number of entries is 0", ErrInvalidArg)
	}
	m.cfg = c

	m.regions = make([]Region, c.NumEntries)
	for i := range m.regions {
		m.regions[i] = Region{Entry: Entry{
			CacheEnable:   true,
			CacheLineSize: c.CacheLineSize,
		}}
	}
	m.regions[0].Entry.CreateHeap = true
	m.regions[0].Entry.OwnerProcID = m.self

	if err := m.driver.Setup(c); err != nil {
		return fmt.Errorf("%w: setup: %v", ErrOSFailure, err)
	}

	m.offsetBits = 32 - indexBits(c.NumEntries)
	m.offsetMask = uint32((uint64(1) << m.offsetBits) - 1)

	Logger.Infof("set up %d regions (translate %t, %d offset bits)", c.NumEntries, c.Translate, m.offsetBits)
	return nil
}

// Destroy drops one reference. The last reference tears down the driver side and the table.
func (m *Module) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount == 0 {
		return ErrAlreadyDestroyed
	}
	return m.destroyLocked()
}

// destroyLocked decrements the reference count and releases everything on zero. m.mu must be held.
func (m *Module) destroyLocked() error {
	m.refCount--
	if m.refCount > 0 {
		return nil
	}
	m.refCount = 0

	var err error
	if derr := m.driver.Destroy(); derr != nil {
		err = fmt.Errorf("%w: destroy: %v", ErrOSFailure, derr)
	}

	m.regions = nil
	m.cfg = Config{}
	m.offsetBits = 0
	m.offsetMask = 0

	Logger.Infof("destroyed")
	return err
}

// Start creates the heaps of the regions owned by this processor
func (m *Module) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	if err := m.driver.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrOSFailure, err)
	}
	m.refreshHeapsLocked()
	return nil
}

// Stop deletes the heaps created by Start
func (m *Module) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	if err := m.driver.Stop(); err != nil {
		return fmt.Errorf("%w: stop: %v", ErrOSFailure, err)
	}
	for i := range m.regions {
		m.regions[i].Heap = nil
	}
	return nil
}

// Attach opens the heaps of the regions owned by the remote processor
func (m *Module) Attach(procID uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	if err := m.driver.Attach(procID); err != nil {
		return fmt.Errorf("%w: attach %d: %v", ErrOSFailure, procID, err)
	}
	m.refreshHeapsLocked()
	return nil
}

// Detach closes the heaps of the regions owned by the remote processor
func (m *Module) Detach(procID uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	if err := m.driver.Detach(procID); err != nil {
		return fmt.Errorf("%w: detach %d: %v", ErrOSFailure, procID, err)
	}
	m.refreshHeapsLocked()
	return nil
}

// refreshHeapsLocked copies the heap handles from the driver side. m.mu must be held.
func (m *Module) refreshHeapsLocked() {
	for i := range m.regions {
		info, err := m.driver.GetRegionInfo(uint16(i))
		if err != nil {
			Logger.Warningf("region %d: driver info unavailable: %v", i, err)
			continue
		}
		m.regions[i].Heap = info.Heap
	}
}

// --------------------------------------------------------------------------
// Entries
// --------------------------------------------------------------------------

// EntryInit returns an entry with default values
func (m *Module) EntryInit() Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Entry{
		OwnerProcID:   DefaultOwnerID,
		CacheEnable:   true,
		CacheLineSize: m.cfg.CacheLineSize,
	}
}

// SetEntry stores entry in slot id. A valid entry must not overlap any other valid region
// and the slot must not hold a valid region already.
func (m *Module) SetEntry(id uint16, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	if int(id) >= len(m.regions) {
		return fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id)
	}

	if entry.IsValid {
		if entry.Base == 0 || entry.Len == 0 {
			return fmt.Errorf("%w: region %d has no memory", ErrInvalidArg, id)
		}
		if m.cfg.Translate && uint64(entry.Len) > uint64(m.offsetMask)+1 {
			return fmt.Errorf("%w: region %d length 0x%x exceeds the offset range 0x%x", ErrInvalidArg, id, entry.Len, uint64(m.offsetMask)+1)
		}
		if !m.cfg.Translate && uint64(entry.Base)+uint64(entry.Len) > math.MaxUint32 {
			return fmt.Errorf("%w: region %d at 0x%x does not fit untranslated 32 bit pointers", ErrInvalidArg, id, entry.Base)
		}
		if m.regions[id].Entry.IsValid {
			return fmt.Errorf("%w: region %d is already in use", ErrAlreadyExists, id)
		}
		if err := m.checkOverlapLocked(entry.Base, entry.Len); err != nil {
			return err
		}
	}

	if err := m.driver.SetEntry(id, entry); err != nil {
		return fmt.Errorf("%w: set entry %d: %v", ErrOSFailure, id, err)
	}
	m.regions[id] = Region{Entry: entry}
	if info, err := m.driver.GetRegionInfo(id); err == nil {
		m.regions[id].Heap = info.Heap
	}

	Logger.Debugf("region %d (%s): base 0x%x len 0x%x", id, entry.Name, entry.Base, entry.Len)
	return nil
}

// GetEntry returns a copy of the entry in slot id
func (m *Module) GetEntry(id uint16) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		return Entry{}, ErrInvalidState
	}
	if int(id) >= len(m.regions) {
		return Entry{}, fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id)
	}
	return m.regions[id].Entry, nil
}

// ClearEntry resets slot id to its defaults. Region 0 can not be cleared.
func (m *Module) ClearEntry(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	if int(id) >= len(m.regions) {
		return fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id)
	}
	if id == 0 {
		return fmt.Errorf("%w: region 0 can not be cleared", ErrInvalidArg)
	}

	if err := m.driver.ClearEntry(id); err != nil {
		return fmt.Errorf("%w: clear entry %d: %v", ErrOSFailure, id, err)
	}
	m.regions[id] = Region{Entry: Entry{
		OwnerProcID:   DefaultOwnerID,
		CacheEnable:   true,
		CacheLineSize: m.cfg.CacheLineSize,
	}}
	return nil
}

// GetRegionInfo returns a copy of slot id including the reserved size and the heap
func (m *Module) GetRegionInfo(id uint16) (Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		return Region{}, ErrInvalidState
	}
	if int(id) >= len(m.regions) {
		return Region{}, fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id)
	}
	return m.regions[id], nil
}

// GetIDByName returns the id of the valid region called name, or InvalidRegionID
func (m *Module) GetIDByName(name string) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 || name == "" {
		return InvalidRegionID
	}
	for i := range m.regions {
		if m.regions[i].Entry.IsValid && m.regions[i].Entry.Name == name {
			return uint16(i)
		}
	}
	return InvalidRegionID
}

// GetHeap returns the heap of region id
func (m *Module) GetHeap(id uint16) (heap.IHeap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return nil, ErrInvalidState
	}
	if int(id) >= len(m.regions) {
		return nil, fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id)
	}

	h, err := m.driver.GetHeap(id)
	if err != nil {
		return nil, fmt.Errorf("%w: get heap %d: %v", ErrOSFailure, id, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: region %d has no heap", ErrMemory, id)
	}
	m.regions[id].Heap = h
	return h, nil
}

// GetCacheLineSize returns the cache line size of region id, or the word size if id is unknown
func (m *Module) GetCacheLineSize(id uint16) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cacheLineSizeLocked(id)
}

func (m *Module) cacheLineSizeLocked(id uint16) uint32 {
	if m.refCount == 0 || int(id) >= len(m.regions) {
		return wordSize
	}
	return m.regions[id].Entry.CacheLineSize
}

// IsCacheEnabled reports whether region id is cached
func (m *Module) IsCacheEnabled(id uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 || int(id) >= len(m.regions) {
		return false
	}
	return m.regions[id].Entry.CacheEnable
}

// TranslateEnabled reports whether addresses are translated
func (m *Module) TranslateEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Translate
}

// GetNumRegions returns the number of slots of the table
func (m *Module) GetNumRegions() uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.NumEntries
}

// --------------------------------------------------------------------------
// Reserved memory
// --------------------------------------------------------------------------

// ReserveMemory carves size bytes from the end of the reserved part of region id.
// The size is rounded up to the larger of DefaultAlign and the cache line size of the region
// and the returned address is aligned to the same value, also for regions with an unaligned base.
// Reserved memory is only given back as a whole by ClearReservedMemory.
func (m *Module) ReserveMemory(id uint16, size uint32) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return 0, ErrInvalidState
	}
	if int(id) >= len(m.regions) {
		return 0, fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id)
	}
	region := &m.regions[id]
	if !region.Entry.IsValid {
		return 0, fmt.Errorf("%w: region %d is not valid", ErrInvalidArg, id)
	}

	minAlign := uint64(max(DefaultAlign, m.cacheLineSizeLocked(id)))
	cur := uint64(region.ReservedSize)
	// an unaligned base pads the first reservation up to the next aligned address
	pad := (minAlign - (uint64(region.Entry.Base)+cur)%minAlign) % minAlign
	newSize := pad + (uint64(size)+minAlign-1)/minAlign*minAlign
	if cur+newSize > uint64(region.Entry.Len) {
		return 0, fmt.Errorf("%w: region %d can not reserve %d bytes (%d of %d in use)", ErrMemory, id, newSize, cur, region.Entry.Len)
	}

	if err := m.driver.ReserveMemory(id, uint32(newSize)); err != nil {
		return 0, fmt.Errorf("%w: reserve memory %d: %v", ErrOSFailure, id, err)
	}
	region.ReservedSize = uint32(cur + newSize)

	return region.Entry.Base + uintptr(cur+pad), nil
}

// ClearReservedMemory resets the reserved part of every region
func (m *Module) ClearReservedMemory() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	if err := m.driver.ClearReservedMemory(); err != nil {
		return fmt.Errorf("%w: clear reserved memory: %v", ErrOSFailure, err)
	}
	for i := range m.regions {
		m.regions[i].ReservedSize = 0
	}
	return nil
}

// CheckOverlap returns ErrAlreadyExists if [base, base+length) intersects a valid region
func (m *Module) CheckOverlap(base uintptr, length uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		return ErrInvalidState
	}
	return m.checkOverlapLocked(base, length)
}

func (m *Module) checkOverlapLocked(base uintptr, length uint32) error {
	for i := range m.regions {
		e := &m.regions[i].Entry
		if !e.IsValid {
			continue
		}
		if base >= e.Base {
			if base < e.end() {
				return fmt.Errorf("%w: 0x%x lies in region %d", ErrAlreadyExists, base, i)
			}
		} else if base+uintptr(length) > e.Base {
			return fmt.Errorf("%w: 0x%x+0x%x reaches into region %d", ErrAlreadyExists, base, length, i)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Failures
// --------------------------------------------------------------------------

// LastError returns the most recent failure of an operation that has no error result
// (GetSRPtr, GetPtr), or nil
func (m *Module) LastError() error {
	if p := m.lastFailure.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Module) recordFailure(op string, err error) {
	err = fmt.Errorf("%s: %w", op, err)
	m.lastFailure.Store(&err)
	Logger.Warningf("%v", err)
}
