package sharedregion

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTranslateScenario tests the translation of an address in region 0 of a 4 entry table
func TestTranslateScenario(t *testing.T) {
	m, _ := newTestModule(t)
	require.NoError(t, m.SetEntry(0, validEntry(m, "r0", 0x8000_0000, 0x10000)))

	assert.Equal(t, uint16(0), m.GetID(0x8000_0010))

	p := m.GetSRPtr(0x8000_0010, 0)
	assert.Equal(t, SRPtr(0x10), p)
	assert.Equal(t, uintptr(0x8000_0010), m.GetPtr(p))
}

// TestTranslateRoundTrip tests GetPtr(GetSRPtr(addr, id)) == addr for addresses in every region
func TestTranslateRoundTrip(t *testing.T) {
	m, _ := newTestModule(t)

	bases := []uintptr{0x1000_0000, 0x2000_0000, 0x3000_0000, 0x4000_0000}
	const length = 0x20000
	for i, base := range bases {
		require.NoError(t, m.SetEntry(uint16(i), validEntry(m, "r", base, length)))
	}

	for i, base := range bases {
		id := uint16(i)
		for off := uintptr(0); off < length; off += 0x777 {
			addr := base + off
			assert.Equal(t, id, m.GetID(addr))

			p := m.GetSRPtr(addr, id)
			require.True(t, p.IsValid(), "addr 0x%x", addr)
			assert.Equal(t, uint32(id), uint32(p)>>30)
			assert.Equal(t, addr, m.GetPtr(p))
		}
		// last byte
		addr := base + length - 1
		assert.Equal(t, addr, m.GetPtr(m.GetSRPtr(addr, id)))
	}
}

// TestTranslateRejection tests that foreign addresses are not encoded
func TestTranslateRejection(t *testing.T) {
	m, _ := newTestModule(t)
	require.NoError(t, m.SetEntry(0, validEntry(m, "r0", 0x10000, 0x1000)))
	require.NoError(t, m.SetEntry(1, validEntry(m, "r1", 0x20000, 0x1000)))

	assert.Equal(t, InvalidRegionID, m.GetID(0))
	assert.Equal(t, InvalidRegionID, m.GetID(0x11000), "one behind region 0")
	assert.Equal(t, InvalidRegionID, m.GetID(0xFFFF))

	assert.Equal(t, InvalidSRPtr, m.GetSRPtr(0, 0))
	assert.Equal(t, InvalidSRPtr, m.GetSRPtr(0x11000, 0))
	assert.ErrorIs(t, m.LastError(), ErrInvalidArg)
	assert.Equal(t, InvalidSRPtr, m.GetSRPtr(0x20010, 0), "address of region 1 with id 0")
	assert.Equal(t, InvalidSRPtr, m.GetSRPtr(0x10010, InvalidRegionID))
	assert.Equal(t, InvalidSRPtr, m.GetSRPtr(0x10010, 4))

	assert.Equal(t, uintptr(0), m.GetPtr(InvalidSRPtr))
}

// TestTranslateOutOfRangeIndex tests GetPtr with a region index beyond the table
func TestTranslateOutOfRangeIndex(t *testing.T) {
	drv := NewLocalDriver(0)
	m := NewModule(drv, 0)
	require.NoError(t, m.Setup(&Config{NumEntries: 3, CacheLineSize: 128, Translate: true}))
	defer m.Destroy()

	// 3 entries use 2 index bits, index 3 does not exist
	assert.Equal(t, uintptr(0), m.GetPtr(SRPtr(3<<30|0x10)))
	assert.ErrorIs(t, m.LastError(), ErrInvalidArg)

	_, _, err := m.SplitSRPtr(SRPtr(3<<30 | 0x10))
	assert.ErrorIs(t, err, ErrInvalidArg)
}

// TestTranslateLastByte tests that the last byte of the last region maps onto InvalidSRPtr
func TestTranslateLastByte(t *testing.T) {
	m, _ := newTestModule(t)
	const base = 0xC000_0000
	require.NoError(t, m.SetEntry(3, validEntry(m, "last", base, 0x4000_0000)))

	assert.Equal(t, InvalidSRPtr, m.GetSRPtr(base+0x3FFF_FFFF, 3))

	p := m.GetSRPtr(base+0x3FFF_FFFE, 3)
	assert.Equal(t, SRPtr(0xFFFF_FFFE), p)
	assert.Equal(t, uintptr(base+0x3FFF_FFFE), m.GetPtr(p))

	_, err := m.MakeSRPtr(3, 0x3FFF_FFFF)
	assert.ErrorIs(t, err, ErrInvalidArg)
}

// TestTranslateDisabled tests the identity mode
func TestTranslateDisabled(t *testing.T) {
	m := NewModule(NewLocalDriver(0), 0)
	require.NoError(t, m.Setup(&Config{NumEntries: 2, CacheLineSize: 128, Translate: false}))
	defer m.Destroy()
	require.NoError(t, m.SetEntry(0, validEntry(m, "r0", 0x8000_0000, 0x10000)))

	assert.False(t, m.TranslateEnabled())
	p := m.GetSRPtr(0x8000_0010, 0)
	assert.Equal(t, SRPtr(0x8000_0010), p)
	assert.Equal(t, uintptr(0x8000_0010), m.GetPtr(p))
}

// TestTranslateDisabledWideAddress tests that untranslated pointers never drop address bits
func TestTranslateDisabledWideAddress(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) < 8 {
		t.Skip("needs 64 bit addresses")
	}
	m := NewModule(NewLocalDriver(0), 0)
	require.NoError(t, m.Setup(&Config{NumEntries: 2, CacheLineSize: 128, Translate: false}))
	defer m.Destroy()

	wide := uint64(0x7f12_3400_0000)
	err := m.SetEntry(0, validEntry(m, "r0", uintptr(wide), 0x10000))
	assert.ErrorIs(t, err, ErrInvalidArg)
	info, err := m.GetRegionInfo(0)
	require.NoError(t, err)
	assert.False(t, info.Entry.IsValid)

	// the region must end below the all ones pointer
	assert.ErrorIs(t, m.SetEntry(0, validEntry(m, "r0", 0xFFFF_0000, 0x10000)), ErrInvalidArg)
	require.NoError(t, m.SetEntry(0, validEntry(m, "r0", 0xFFFE_0000, 0x10000)))

	p := m.GetSRPtr(uintptr(wide+0x10), 0)
	assert.Equal(t, InvalidSRPtr, p)
	assert.ErrorIs(t, m.LastError(), ErrInvalidArg)
	assert.Zero(t, m.GetPtr(p))

	p = m.GetSRPtr(0xFFFE_0010, 0)
	assert.Equal(t, uintptr(0xFFFE_0010), m.GetPtr(p))
}

// TestSingleEntryTable tests the split with one entry, which still reserves one index bit
func TestSingleEntryTable(t *testing.T) {
	m := NewModule(NewLocalDriver(0), 0)
	require.NoError(t, m.Setup(&Config{NumEntries: 1, CacheLineSize: 8, Translate: true}))
	defer m.Destroy()
	require.NoError(t, m.SetEntry(0, validEntry(m, "r0", 0x1000, 0x100)))

	p, err := m.MakeSRPtr(0, 0x80)
	require.NoError(t, err)
	assert.Equal(t, SRPtr(0x80), p)

	id, off, err := m.SplitSRPtr(SRPtr(0x8000_0000))
	assert.ErrorIs(t, err, ErrInvalidArg, "index 1 of %d/%d", id, off)
}

// TestMakeSplitSRPtr tests building and splitting pointers with bounds checking
func TestMakeSplitSRPtr(t *testing.T) {
	m, _ := newTestModule(t)
	require.NoError(t, m.SetEntry(2, validEntry(m, "r2", 0x50000, 0x1000)))

	p, err := m.MakeSRPtr(2, 0x123)
	require.NoError(t, err)
	assert.Equal(t, SRPtr(2<<30|0x123), p)
	assert.Equal(t, "0x80000123", p.String())

	id, off, err := m.SplitSRPtr(p)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, uint32(0x123), off)
	assert.Equal(t, uintptr(0x50123), m.GetPtr(p))

	_, err = m.MakeSRPtr(2, 0x1000)
	assert.ErrorIs(t, err, ErrInvalidArg, "offset behind the region")
	_, err = m.MakeSRPtr(1, 0)
	assert.ErrorIs(t, err, ErrInvalidArg, "region 1 is not valid")
	_, err = m.MakeSRPtr(4, 0)
	assert.ErrorIs(t, err, ErrInvalidArg)

	_, _, err = m.SplitSRPtr(InvalidSRPtr)
	assert.ErrorIs(t, err, ErrInvalidArg)
	assert.Equal(t, "invalid", InvalidSRPtr.String())
}

// TestTranslateConcurrent tests translation from many goroutines while entries change
func TestTranslateConcurrent(t *testing.T) {
	m, _ := newTestModule(t)
	require.NoError(t, m.SetEntry(0, validEntry(m, "r0", 0x10000, 0x10000)))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				addr := uintptr(0x10000 + (g*1000+i)%0x10000)
				if got := m.GetPtr(m.GetSRPtr(addr, 0)); got != addr {
					t.Errorf("round trip of 0x%x returned 0x%x", addr, got)
					return
				}
			}
		}(g)
	}

	for i := 0; i < 100; i++ {
		_ = m.SetEntry(1, validEntry(m, "r1", 0x40000, 0x100))
		_ = m.ClearEntry(1)
	}
	wg.Wait()
}
