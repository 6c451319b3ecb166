package segment

import (
	"fmt"
	"io"
	"sync"
)

// dataFile is the minimal surface Segment needs from its backing store.
// *os.File satisfies it directly (storage.LevelDisk / LevelMappedDisk);
// memFile satisfies it for storage.LevelMemory, so the segment body code
// has exactly one code path regardless of storage level.
type dataFile interface {
	io.ReaderAt
	io.Writer
	io.WriterAt
	io.Closer
	Truncate(size int64) error
	Sync() error
	Name() string
}

// memFile backs a segment entirely in process memory. Used for ephemeral
// or test nodes (storage.LevelMemory); Sync is a no-op since there is
// nothing durable to flush.
type memFile struct {
	mu   sync.RWMutex
	name string
	buf  []byte
}

func newMemFile(name string) *memFile {
	return &memFile{name: name}
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if off < 0 || off > int64(len(m.buf)) {
		return 0, fmt.Errorf("memfile %s: offset %d out of range", m.name, off)
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, p...)
	return len(p), nil
}

// WriteAt supports the descriptor header rewrite on Seal; callers never
// write past the current length with it except to extend by exactly the
// descriptor size on a brand-new segment, so a simple grow-then-copy
// suffices.
func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memFile) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < 0 {
		return fmt.Errorf("memfile %s: negative truncate size", m.name)
	}
	if int64(len(m.buf)) <= size {
		grown := make([]byte, size)
		copy(grown, m.buf)
		m.buf = grown
		return nil
	}
	m.buf = m.buf[:size]
	return nil
}

func (m *memFile) Sync() error   { return nil }
func (m *memFile) Close() error  { return nil }
func (m *memFile) Name() string  { return m.name }
func (m *memFile) Size() int64   { m.mu.RLock(); defer m.mu.RUnlock(); return int64(len(m.buf)) }
