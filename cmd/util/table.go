package util

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/syslink/internal/shm"
	"github.com/ValentinKolb/syslink/ipc/common"
	"github.com/ValentinKolb/syslink/ipc/sharedregion"
)

// Table is a started region table whose regions are backed by shared memory segments
type Table struct {
	*sharedregion.Module
	Driver   *sharedregion.LocalDriver
	segments []*shm.Segment
}

// OpenTable sets up and starts a region table from conf.
// Every region gets its own segment, so the addresses are chosen by the operating system.
func OpenTable(conf *common.RegionConfig) (t *Table, err error) {
	drv := sharedregion.NewLocalDriver(conf.ProcID)
	t = &Table{
		Module: sharedregion.NewModule(drv, conf.ProcID),
		Driver: drv,
	}

	if err := t.Setup(&sharedregion.Config{
		NumEntries:    conf.NumEntries,
		CacheLineSize: conf.CacheLineSize,
		Translate:     conf.Translate,
	}); err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()

	for _, spec := range conf.Regions {
		seg, err := shm.Open(spec.Name, int(spec.Size))
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, seg)
		drv.Map(seg.Base(), seg.Mem)

		entry := t.EntryInit()
		entry.Name = spec.Name
		entry.Base = seg.Base()
		entry.Len = seg.Len()
		entry.OwnerProcID = conf.ProcID
		entry.CacheEnable = spec.CacheEnable
		entry.CreateHeap = spec.CreateHeap
		entry.IsValid = true
		if err := t.SetEntry(spec.ID, entry); err != nil {
			return nil, err
		}
	}

	if err := t.Start(); err != nil {
		return nil, err
	}
	return t, nil
}

// Close stops and destroys the table and unmaps all segments
func (t *Table) Close() error {
	var errs []error
	if t.GetNumRegions() > 0 {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := t.Destroy(); err != nil && !sharedregion.IsInformational(err) {
			errs = append(errs, err)
		}
	}
	for _, seg := range t.segments {
		if err := seg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", seg.Name, err))
		}
	}
	t.segments = nil
	return errors.Join(errs...)
}
