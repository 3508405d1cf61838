//go:build !unix

package shm

// Open returns a process private segment on platforms without mmap support
func Open(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	Logger.Warningf("segment %s: no shared memory on this platform, using private memory", name)
	return &Segment{Name: name, Mem: make([]byte, size)}, nil
}

// Anonymous returns a process private segment
func Anonymous(size int) (*Segment, error) {
	return Open("anonymous", size)
}

// Close releases the segment
func (s *Segment) Close() error {
	s.Mem = nil
	return nil
}
