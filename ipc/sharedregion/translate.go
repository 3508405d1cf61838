package sharedregion

import (
	"fmt"
	"math"
)

// --------------------------------------------------------------------------
// Address translation
// --------------------------------------------------------------------------

// GetID returns the id of the valid region containing addr, or InvalidRegionID.
// The null address is never contained in a region.
func (m *Module) GetID(addr uintptr) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		m.recordFailure("get id", ErrInvalidState)
		return InvalidRegionID
	}
	if addr == 0 {
		return InvalidRegionID
	}
	for i := range m.regions {
		e := &m.regions[i].Entry
		if e.IsValid && e.contains(addr) {
			return uint16(i)
		}
	}
	return InvalidRegionID
}

// GetSRPtr converts addr, which must lie in region id, to a portable pointer.
// Without translation the address is returned unchanged. On failure InvalidSRPtr is
// returned and the reason is available from LastError.
func (m *Module) GetSRPtr(addr uintptr, id uint16) SRPtr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		m.recordFailure("get srptr", ErrInvalidState)
		return InvalidSRPtr
	}
	if addr == 0 {
		return InvalidSRPtr
	}
	if id == InvalidRegionID || int(id) >= len(m.regions) {
		m.recordFailure("get srptr", fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id))
		return InvalidSRPtr
	}
	if !m.cfg.Translate {
		if uint64(addr) >= math.MaxUint32 {
			m.recordFailure("get srptr", fmt.Errorf("%w: 0x%x does not fit an untranslated pointer", ErrInvalidArg, addr))
			return InvalidSRPtr
		}
		return SRPtr(uint32(addr))
	}

	e := &m.regions[id].Entry
	if !e.contains(addr) {
		m.recordFailure("get srptr", fmt.Errorf("%w: 0x%x is not in region %d", ErrInvalidArg, addr, id))
		return InvalidSRPtr
	}
	return SRPtr(uint32(id)<<m.offsetBits | uint32(addr-e.Base))
}

// GetPtr converts a portable pointer back to a local address.
// InvalidSRPtr and pointers into unknown regions yield 0.
func (m *Module) GetPtr(p SRPtr) uintptr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		m.recordFailure("get ptr", ErrInvalidState)
		return 0
	}
	if !p.IsValid() {
		return 0
	}
	if !m.cfg.Translate {
		return uintptr(p)
	}

	id := uint32(p) >> m.offsetBits
	if id >= uint32(len(m.regions)) {
		m.recordFailure("get ptr", fmt.Errorf("%w: region %d of %s out of range", ErrInvalidArg, id, p))
		return 0
	}
	return m.regions[id].Entry.Base + uintptr(uint32(p)&m.offsetMask)
}

// MakeSRPtr builds the portable pointer for offset in region id.
// The offset must lie inside the region.
func (m *Module) MakeSRPtr(id uint16, offset uint32) (SRPtr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		return InvalidSRPtr, ErrInvalidState
	}
	if int(id) >= len(m.regions) {
		return InvalidSRPtr, fmt.Errorf("%w: region %d out of range", ErrInvalidArg, id)
	}
	e := &m.regions[id].Entry
	if !e.IsValid || offset >= e.Len || offset > m.offsetMask {
		return InvalidSRPtr, fmt.Errorf("%w: offset 0x%x is not in region %d", ErrInvalidArg, offset, id)
	}
	p := SRPtr(uint32(id)<<m.offsetBits | offset)
	if !p.IsValid() {
		return InvalidSRPtr, fmt.Errorf("%w: offset 0x%x of region %d is not encodable", ErrInvalidArg, offset, id)
	}
	return p, nil
}

// SplitSRPtr returns the region id and offset encoded in p
func (m *Module) SplitSRPtr(p SRPtr) (uint16, uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.refCount == 0 {
		return InvalidRegionID, 0, ErrInvalidState
	}
	if !p.IsValid() {
		return InvalidRegionID, 0, fmt.Errorf("%w: invalid srptr", ErrInvalidArg)
	}
	id := uint32(p) >> m.offsetBits
	if id >= uint32(len(m.regions)) {
		return InvalidRegionID, 0, fmt.Errorf("%w: region %d of %s out of range", ErrInvalidArg, id, p)
	}
	return uint16(id), uint32(p) & m.offsetMask, nil
}
