package sharedregion

import (
	"fmt"
	"github.com/ValentinKolb/syslink/ipc/heap"
	"sync"
)

// --------------------------------------------------------------------------
// Region service boundary
// --------------------------------------------------------------------------

// IRegionDriver is the privileged side of the region table. Every call may fail,
// in which case the Module leaves its local state untouched.
type IRegionDriver interface {
	// Config returns the default configuration of the driver
	Config() Config
	// Setup initializes the driver side table
	Setup(cfg Config) error
	// Destroy tears the driver side table down
	Destroy() error
	// Start creates the heaps of all regions owned by the local processor
	Start() error
	// Stop deletes the heaps created by Start
	Stop() error
	// Attach opens the heaps of the regions owned by procID
	Attach(procID uint16) error
	// Detach closes the heaps of the regions owned by procID
	Detach(procID uint16) error
	SetEntry(id uint16, entry Entry) error
	ClearEntry(id uint16) error
	ReserveMemory(id uint16, size uint32) error
	ClearReservedMemory() error
	GetHeap(id uint16) (heap.IHeap, error)
	GetRegionInfo(id uint16) (Region, error)
}

// --------------------------------------------------------------------------
// Local driver
// --------------------------------------------------------------------------

// LocalDriver keeps the driver side of the table in process.
// Memory for regions is registered with Map, heaps are only created for regions with mapped memory.
type LocalDriver struct {
	mu       sync.Mutex
	self     uint16
	defaults Config
	cfg      Config
	isSetup  bool
	started  bool
	regions  []Region
	memory   map[uintptr][]byte
	attached map[uint16]bool

	// failures maps an operation name to the error it returns once
	failures map[string]error
}

// NewLocalDriver creates a driver for processor self with the default configuration
func NewLocalDriver(self uint16) *LocalDriver {
	return &LocalDriver{
		self: self,
		defaults: Config{
			CacheLineSize: defaultCacheLineSize,
			NumEntries:    defaultNumEntries,
			Translate:     true,
		},
		memory:   make(map[uintptr][]byte),
		attached: make(map[uint16]bool),
		failures: make(map[string]error),
	}
}

// SetDefaults replaces the configuration returned by Config
func (d *LocalDriver) SetDefaults(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaults = cfg
}

// Map registers mem as the memory of the region at base
func (d *LocalDriver) Map(base uintptr, mem []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memory[base] = mem
}

// FailNext makes the next call of op return err. op is the method name, e.g. "SetEntry".
func (d *LocalDriver) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// injected returns and clears a scheduled failure. d.mu must be held.
func (d *LocalDriver) injected(op string) error {
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

// Config implements IRegionDriver
func (d *LocalDriver) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaults
}

// Setup implements IRegionDriver
func (d *LocalDriver) Setup(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("Setup"); err != nil {
		return err
	}
	if d.isSetup {
		return nil
	}
	d.cfg = cfg
	d.regions = make([]Region, cfg.NumEntries)
	d.isSetup = true
	return nil
}

// Destroy implements IRegionDriver
func (d *LocalDriver) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("Destroy"); err != nil {
		return err
	}
	d.regions = nil
	d.started = false
	d.isSetup = false
	clear(d.attached)
	return nil
}

// Start implements IRegionDriver. Region 0 must be valid.
func (d *LocalDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("Start"); err != nil {
		return err
	}
	if !d.isSetup {
		return fmt.Errorf("driver not set up")
	}
	if !d.regions[0].Entry.IsValid {
		return fmt.Errorf("region 0 is not valid")
	}

	for id := range d.regions {
		owner := d.regions[id].Entry.OwnerProcID
		if owner == d.self || owner == DefaultOwnerID {
			d.openHeap(uint16(id))
		}
	}
	d.started = true
	return nil
}

// Stop implements IRegionDriver
func (d *LocalDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("Stop"); err != nil {
		return err
	}
	for id := range d.regions {
		d.regions[id].Heap = nil
	}
	d.started = false
	return nil
}

// Attach implements IRegionDriver
func (d *LocalDriver) Attach(procID uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("Attach"); err != nil {
		return err
	}
	d.attached[procID] = true
	for id := range d.regions {
		if d.regions[id].Entry.OwnerProcID == procID {
			d.openHeap(uint16(id))
		}
	}
	return nil
}

// Detach implements IRegionDriver
func (d *LocalDriver) Detach(procID uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("Detach"); err != nil {
		return err
	}
	delete(d.attached, procID)
	for id := range d.regions {
		if d.regions[id].Entry.OwnerProcID == procID {
			d.regions[id].Heap = nil
		}
	}
	return nil
}

// SetEntry implements IRegionDriver
func (d *LocalDriver) SetEntry(id uint16, entry Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("SetEntry"); err != nil {
		return err
	}
	if int(id) >= len(d.regions) {
		return fmt.Errorf("region %d out of range", id)
	}
	d.regions[id] = Region{Entry: entry}
	if d.started && (entry.OwnerProcID == d.self || entry.OwnerProcID == DefaultOwnerID) {
		d.openHeap(id)
	}
	return nil
}

// ClearEntry implements IRegionDriver
func (d *LocalDriver) ClearEntry(id uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("ClearEntry"); err != nil {
		return err
	}
	if int(id) >= len(d.regions) {
		return fmt.Errorf("region %d out of range", id)
	}
	d.regions[id] = Region{}
	return nil
}

// ReserveMemory implements IRegionDriver
func (d *LocalDriver) ReserveMemory(id uint16, size uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("ReserveMemory"); err != nil {
		return err
	}
	if int(id) >= len(d.regions) {
		return fmt.Errorf("region %d out of range", id)
	}
	d.regions[id].ReservedSize += size
	return nil
}

// ClearReservedMemory implements IRegionDriver
func (d *LocalDriver) ClearReservedMemory() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("ClearReservedMemory"); err != nil {
		return err
	}
	for id := range d.regions {
		d.regions[id].ReservedSize = 0
	}
	return nil
}

// GetHeap implements IRegionDriver
func (d *LocalDriver) GetHeap(id uint16) (heap.IHeap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("GetHeap"); err != nil {
		return nil, err
	}
	if int(id) >= len(d.regions) {
		return nil, fmt.Errorf("region %d out of range", id)
	}
	return d.regions[id].Heap, nil
}

// GetRegionInfo implements IRegionDriver
func (d *LocalDriver) GetRegionInfo(id uint16) (Region, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("GetRegionInfo"); err != nil {
		return Region{}, err
	}
	if int(id) >= len(d.regions) {
		return Region{}, fmt.Errorf("region %d out of range", id)
	}
	return d.regions[id], nil
}

// openHeap creates the heap of a region over the memory behind its reserved part. d.mu must be held.
func (d *LocalDriver) openHeap(id uint16) {
	r := &d.regions[id]
	if !r.Entry.IsValid || !r.Entry.CreateHeap || r.Heap != nil {
		return
	}
	mem, ok := d.memory[r.Entry.Base]
	if !ok {
		Logger.Warningf("region %d (%s): no memory mapped at 0x%x, heap not created", id, r.Entry.Name, r.Entry.Base)
		return
	}
	if int(r.Entry.Len) < len(mem) {
		mem = mem[:r.Entry.Len]
	}
	if int(r.ReservedSize) >= len(mem) {
		Logger.Warningf("region %d (%s): fully reserved, heap not created", id, r.Entry.Name)
		return
	}
	r.Heap = heap.NewHeapMem(mem[r.ReservedSize:], int(r.Entry.CacheLineSize))
	Logger.Debugf("region %d (%s): created heap of %d bytes", id, r.Entry.Name, len(mem)-int(r.ReservedSize))
}
