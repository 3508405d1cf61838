//go:build unix

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// Open creates (or truncates) a file backed segment and maps it shared.
// The file lives in /dev/shm when available, else in the temp directory.
func Open(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	dir := shmDir
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "syslink-"+name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			Logger.Warningf("segment %s: file close error: %v", path, cerr)
		}
	}()

	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("truncate segment %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmap segment %s: %w", path, err)
	}

	Logger.Debugf("mapped segment %s (%d bytes)", path, size)
	return &Segment{Name: name, Mem: mem, path: path, unmapper: unix.Munmap}, nil
}

// Anonymous maps a private segment that is not backed by a file
func Anonymous(size int) (*Segment, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous segment: %w", err)
	}
	return &Segment{Mem: mem, unmapper: unix.Munmap}, nil
}

// Close unmaps the segment and removes its backing file
func (s *Segment) Close() error {
	if s.Mem == nil {
		return nil
	}
	if err := s.unmapper(s.Mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	s.Mem = nil

	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove segment %s: %w", s.path, err)
		}
	}
	return nil
}
