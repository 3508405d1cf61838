// Package sharedregion implements the table of shared memory regions of a processor.
//
// Every processor that takes part in inter processor communication maps the same
// physical memory at its own local address. The table records, per region, the
// local base address and length, and translates between local addresses and
// SRPtr values: 32 bit pointers that mean the same thing on every processor.
//
// A SRPtr stores the region index in its upper bits and the offset into the
// region in the remaining lower bits:
//
//	indexBits  = ceil(log2(numEntries))   (1 for a single entry)
//	offsetBits = 32 - indexBits
//	srptr      = index<<offsetBits | (addr - base)
//
// The all ones value is InvalidSRPtr. With a full table the last byte of the
// last region maps onto it and is therefore not addressable.
//
// The table also hands out reserved memory from the start of each region with a
// bump allocator (ReserveMemory). The rest of a region can back a heap which the
// driver creates on Start.
//
// The privileged side of the table lives behind IRegionDriver. LocalDriver keeps
// it in process and is what the command line tools and the tests use.
//
// Usage:
//
//	drv := sharedregion.NewLocalDriver(0)
//	sr := sharedregion.NewModule(drv, 0)
//	if err := sr.Setup(nil); err != nil && !sharedregion.IsInformational(err) {
//		return err
//	}
//	defer sr.Destroy()
//
//	e := sr.EntryInit()
//	e.Base, e.Len, e.IsValid = seg.Base(), seg.Len(), true
//	drv.Map(seg.Base(), seg.Mem)
//	if err := sr.SetEntry(0, e); err != nil {
//		return err
//	}
//	p := sr.GetSRPtr(addr, 0)
package sharedregion
