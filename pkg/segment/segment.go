// Package segment implements the append-only, immutable-once-written
// storage unit (C1) and the ordered catalog of segments for one log (C2).
package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/rerr"
	"github.com/downfa11-org/raftlog/util"
)

// Level selects how segment bodies are backed, mirroring Copycat's
// StorageLevel abstraction.
type Level int

const (
	// LevelDisk backs segments with plain files; reads go through the OS
	// page cache.
	LevelDisk Level = iota
	// LevelMappedDisk additionally memory-maps a sealed segment's offset
	// index for recovery/lookup (pkg/segment always does this; the level
	// exists so callers can request it explicitly).
	LevelMappedDisk
	// LevelMemory keeps the segment body entirely in process memory.
	LevelMemory
)

// FileNames returns the three on-disk paths for a segment.
func FileNames(dir, name string, id uint64, version uint32) (logPath, indexPath, cleanPath string) {
	base := filepath.Join(dir, fmt.Sprintf("%s-%d-%d", name, id, version))
	return base + ".log", base + ".index", base + ".clean"
}

// Segment is one closed interval of entries stored in one file plus its
// in-memory OffsetIndex.
type Segment struct {
	dir, name      string
	id             uint64
	version        uint32
	firstIndex     uint64
	maxEntries     uint32
	maxBytes       uint32
	level          Level
	fds            *lru.Cache // shared with Manager; caches sealed-segment fds

	mu         sync.RWMutex // guards sealed/entryCount/byteSize/updated
	sealed     bool
	entryCount uint32
	byteSize   uint32
	updated    time.Time

	writeMu sync.Mutex // serializes appends/truncate against the writer
	file    dataFile   // non-nil while the tail is writable; reopened on demand when sealed
	writer  *bufio.Writer

	idx    *offsetIndex
	clean  *cleanBits
	logger interface {
		Debug(string, ...interface{})
		Warn(string, ...interface{})
	}
}

// Create allocates a brand-new, writable segment version 1 and writes
// its descriptor header.
func Create(dir, name string, id uint64, firstIndex uint64, maxEntries, maxBytes uint32, level Level, fds *lru.Cache) (*Segment, error) {
	return CreateVersion(dir, name, id, 1, firstIndex, maxEntries, maxBytes, level, fds)
}

// CreateVersion is Create with an explicit segment version, used by the
// compactor to write a replacement body under the same id without
// colliding with the sealed segment's still-present files.
func CreateVersion(dir, name string, id uint64, version uint32, firstIndex uint64, maxEntries, maxBytes uint32, level Level, fds *lru.Cache) (*Segment, error) {
	s := &Segment{
		dir: dir, name: name, id: id, version: version,
		firstIndex: firstIndex, maxEntries: maxEntries, maxBytes: maxBytes,
		level: level, fds: fds, updated: time.Now(),
		logger: util.Named("segment"),
	}
	logPath, indexPath, cleanPath := FileNames(dir, name, id, s.version)

	f, err := s.openDataFile(logPath, true)
	if err != nil {
		return nil, err
	}
	s.file = f
	// The descriptor occupies file bytes [0, DescriptorSize); entries are
	// appended sequentially starting right after it. WriteAt (used below
	// and again on Seal) writes the header out-of-band at offset 0
	// without disturbing this sequential position. memFile needs no
	// equivalent seek: its Write always appends at its current length,
	// which WriteAt already grew to DescriptorSize.
	if seeker, ok := f.(io.Seeker); ok {
		if _, err := seeker.Seek(DescriptorSize, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek past descriptor in %s: %w", logPath, err)
		}
	}
	s.writer = bufio.NewWriter(f)

	if err := s.writeDescriptor(); err != nil {
		return nil, err
	}

	s.idx = newOffsetIndex(indexPath)
	if err := s.idx.openWritable(); err != nil {
		return nil, err
	}
	s.clean = newCleanBits(cleanPath)
	return s, nil
}

func (s *Segment) openDataFile(path string, create bool) (dataFile, error) {
	if s.level == LevelMemory {
		return newMemFile(path), nil
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment file %s: %w", path, err)
	}
	util.AdviseSequential(f.Fd())
	return f, nil
}

func (s *Segment) writeDescriptor() error {
	d := Descriptor{
		FormatVersion: FormatVersion, Sealed: s.sealed, ID: s.id,
		SegmentVersion: s.version, FirstIndex: s.firstIndex,
		MaxEntries: s.maxEntries, MaxBytes: s.maxBytes,
		UpdatedMillis: uint64(s.updated.UnixMilli()),
	}
	buf := d.Marshal()
	if err := s.flushWriterLocked(); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("write descriptor for segment %d: %w", s.id, err)
	}
	return nil
}

// flushWriterLocked drains the buffered writer before a positioned write
// touches the same file, so the descriptor rewrite in Seal never races
// with unflushed append bytes still sitting in the bufio buffer.
func (s *Segment) flushWriterLocked() error {
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("segment %d: flush before positioned write: %w", s.id, err)
	}
	return nil
}

// Append writes the serialized entry at the current tail.
func (s *Segment) Append(e entry.Entry) (uint64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	sealed := s.sealed
	count := s.entryCount
	size := s.byteSize
	s.mu.RUnlock()

	if sealed {
		return 0, rerr.ErrSealed
	}
	wantIndex := s.firstIndex + uint64(count)
	if e.Index != wantIndex {
		return 0, fmt.Errorf("segment %d: append index %d != expected %d: %w", s.id, e.Index, wantIndex, rerr.ErrNonMonotonicIndex)
	}

	frame := entry.Encode(e)
	if count >= s.maxEntries || size+uint32(len(frame)) > s.maxBytes {
		return 0, rerr.ErrSegmentFull
	}

	fileOffset := size
	if _, err := s.writer.Write(frame); err != nil {
		return 0, fmt.Errorf("segment %d: append: %w", s.id, err)
	}
	if err := s.idx.append(fileOffset); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.entryCount++
	s.byteSize += uint32(len(frame))
	s.updated = time.Now()
	s.mu.Unlock()

	return e.Index, nil
}

// Get returns the entry at index if present. O(1) via the
// OffsetIndex.
func (s *Segment) Get(index uint64) (entry.Entry, bool, error) {
	s.mu.RLock()
	first, count := s.firstIndex, s.entryCount
	s.mu.RUnlock()

	if index < first || index >= first+uint64(count) {
		return entry.Entry{}, false, nil
	}
	rel := uint32(index - first)

	fileOffset, ok := s.idx.get(rel)
	if !ok {
		return entry.Entry{}, false, nil
	}

	// Appended frames sit in the bufio writer until flushed; drain it so a
	// read right after an append finds the frame in the file.
	s.writeMu.Lock()
	ferr := s.flushWriterLocked()
	s.writeMu.Unlock()
	if ferr != nil {
		return entry.Entry{}, false, ferr
	}

	f, release, err := s.dataFileForRead()
	if err != nil {
		return entry.Entry{}, false, err
	}
	defer release()

	// fileOffset is relative to the start of the entries region, which
	// sits right after the fixed-size descriptor.
	abs := int64(DescriptorSize) + int64(fileOffset)

	head := make([]byte, entry.HeaderSize)
	if _, err := f.ReadAt(head, abs); err != nil && err != io.EOF {
		return entry.Entry{}, false, fmt.Errorf("segment %d: read header at %d: %w", s.id, fileOffset, err)
	}
	// head carries the length prefix; re-read the full frame once we know its size.
	frameLen, err := peekFrameLen(head)
	if err != nil {
		return entry.Entry{}, false, s.corruption(err)
	}
	full := make([]byte, frameLen)
	if _, err := f.ReadAt(full, abs); err != nil && err != io.EOF {
		return entry.Entry{}, false, fmt.Errorf("segment %d: read frame at %d: %w", s.id, fileOffset, err)
	}

	e, _, err := entry.Decode(full)
	if err != nil {
		return entry.Entry{}, false, s.corruption(err)
	}
	e.Index = index
	return e, true, nil
}

// corruption maps a codec decode failure to the sealed-vs-tail policy:
// a torn tail is recoverable, a bad record in a sealed segment is not.
func (s *Segment) corruption(cause error) error {
	s.mu.RLock()
	sealed := s.sealed
	s.mu.RUnlock()
	if sealed {
		return fmt.Errorf("segment %d: %v: %w", s.id, cause, rerr.ErrCorruptSegment)
	}
	return fmt.Errorf("segment %d: %v: %w", s.id, cause, rerr.ErrTornTail)
}

// peekFrameLen reads just the length prefix out of a frame's header bytes
// to size the second, full read Get needs; the real validation (including
// the CRC) happens in entry.Decode against that second read.
func peekFrameLen(head []byte) (int, error) {
	if len(head) < 4 {
		return 0, entry.ErrShortOrCorrupt
	}
	body := int(leUint32(head[0:4]))
	if body < entry.HeaderSize-4 {
		return 0, entry.ErrShortOrCorrupt
	}
	return 4 + body + entry.TrailerSize, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// dataFileForRead returns a readable handle to the segment body, opening
// it on demand (and caching it) if the fd was evicted under pressure.
func (s *Segment) dataFileForRead() (dataFile, func(), error) {
	s.mu.RLock()
	sealed := s.sealed
	f := s.file
	s.mu.RUnlock()

	if !sealed {
		return f, func() {}, nil
	}
	if f != nil {
		return f, func() {}, nil
	}
	if s.fds != nil {
		if v, ok := s.fds.Get(s.id); ok {
			return v.(dataFile), func() {}, nil
		}
	}

	logPath, _, _ := FileNames(s.dir, s.name, s.id, s.version)
	opened, err := s.openDataFile(logPath, false)
	if err != nil {
		return nil, func() {}, err
	}
	if s.fds != nil {
		s.fds.Add(s.id, opened)
	} else {
		s.mu.Lock()
		s.file = opened
		s.mu.Unlock()
	}
	return opened, func() {}, nil
}

// Truncate removes all entries with relativeOffset > index-firstIndex.
// Valid only on the active tail segment.
func (s *Segment) Truncate(index uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	sealed := s.sealed
	first := s.firstIndex
	s.mu.RUnlock()
	if sealed {
		return rerr.ErrReadOnly
	}
	if index < first {
		return fmt.Errorf("segment %d: truncate index %d below firstIndex %d: %w", s.id, index, first, rerr.ErrOutOfRange)
	}
	keep := uint32(index - first + 1)

	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("segment %d: flush before truncate: %w", s.id, err)
	}

	var newSize uint32
	if keep == 0 {
		newSize = 0
	} else if off, ok := s.idx.get(keep); ok {
		newSize = off
	} else {
		// keep == entryCount: nothing to drop.
		s.mu.RLock()
		newSize = s.byteSize
		s.mu.RUnlock()
	}

	abs := int64(DescriptorSize) + int64(newSize)
	if err := s.file.Truncate(abs); err != nil {
		return fmt.Errorf("segment %d: truncate body: %w", s.id, err)
	}
	if seeker, ok := s.file.(io.Seeker); ok {
		if _, err := seeker.Seek(abs, io.SeekStart); err != nil {
			return fmt.Errorf("segment %d: seek after truncate: %w", s.id, err)
		}
	}
	if err := s.idx.truncate(keep); err != nil {
		return err
	}

	s.mu.Lock()
	s.entryCount = keep
	s.byteSize = newSize
	s.updated = time.Now()
	s.mu.Unlock()
	return nil
}

// Seal marks the segment read-only. Subsequent appends fail with ErrSealed.
func (s *Segment) Seal() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.flushLocked(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
	if err := s.writeDescriptor(); err != nil {
		return err
	}
	return s.flushLocked()
}

// Unseal reopens a sealed segment for appending again. A suffix
// truncation can land on a segment other than the current tail; that
// segment must become the new tail, which means undoing Seal: reattach
// a writable file handle and writer, reopen the offset index for
// appending, and rewrite the descriptor with the sealed flag cleared.
// A no-op if the segment is already writable.
func (s *Segment) Unseal() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	sealed := s.sealed
	byteSize := s.byteSize
	s.mu.RUnlock()
	if !sealed {
		return nil
	}

	if s.file == nil {
		logPath, _, _ := FileNames(s.dir, s.name, s.id, s.version)
		f, err := s.openDataFile(logPath, false)
		if err != nil {
			return fmt.Errorf("segment %d: reopen for unseal: %w", s.id, err)
		}
		if s.fds != nil {
			s.fds.Remove(s.id)
		}
		s.file = f
	}
	if seeker, ok := s.file.(io.Seeker); ok {
		if _, err := seeker.Seek(int64(DescriptorSize)+int64(byteSize), io.SeekStart); err != nil {
			return fmt.Errorf("segment %d: seek after unseal: %w", s.id, err)
		}
	}
	s.writer = bufio.NewWriter(s.file)

	if s.idx.file == nil {
		if err := s.idx.openWritable(); err != nil {
			return fmt.Errorf("segment %d: reopen index for unseal: %w", s.id, err)
		}
	}

	s.mu.Lock()
	s.sealed = false
	s.mu.Unlock()
	return s.writeDescriptor()
}

// MarkClean sets the cleaner bit for index. Idempotent.
func (s *Segment) MarkClean(index uint64) error {
	s.mu.RLock()
	first, count := s.firstIndex, s.entryCount
	s.mu.RUnlock()
	if index < first || index >= first+uint64(count) {
		return rerr.ErrOutOfRange
	}
	s.clean.set(uint32(index - first))
	return nil
}

// IsClean reports whether index has been marked clean.
func (s *Segment) IsClean(index uint64) bool {
	s.mu.RLock()
	first := s.firstIndex
	s.mu.RUnlock()
	if index < first {
		return false
	}
	return s.clean.isClean(uint32(index - first))
}

// Flush fsyncs the file and the offset index.
func (s *Segment) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.flushLocked()
}

func (s *Segment) flushLocked() error {
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return fmt.Errorf("segment %d: flush writer: %w", s.id, err)
		}
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("segment %d: fsync: %w", s.id, err)
		}
	}
	if err := s.idx.flush(); err != nil {
		return err
	}
	return s.clean.save()
}

// Close releases file handles without removing data.
func (s *Segment) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.flushLocked(); err != nil {
		return err
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("segment %d: close: %w", s.id, err)
		}
		s.file = nil
	}
	return s.idx.close()
}

// Remove closes and deletes all of the segment's on-disk files.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		s.logger.Warn("close before remove failed for segment %d: %v", s.id, err)
	}
	logPath, indexPath, cleanPath := FileNames(s.dir, s.name, s.id, s.version)
	for _, p := range []string{logPath, indexPath, cleanPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// ID, Version, FirstIndex, EntryCount, ByteSize, LastIndex, Sealed, and
// LiveCount are read-only accessors used by the Manager and Compactor.
func (s *Segment) ID() uint64      { return s.id }
func (s *Segment) Version() uint32 { s.mu.RLock(); defer s.mu.RUnlock(); return s.version }
func (s *Segment) FirstIndex() uint64 { return s.firstIndex }

func (s *Segment) EntryCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entryCount
}

func (s *Segment) ByteSize() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byteSize
}

func (s *Segment) LastIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entryCount == 0 {
		return s.firstIndex - 1
	}
	return s.firstIndex + uint64(s.entryCount) - 1
}

func (s *Segment) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

func (s *Segment) LiveCount() uint32 {
	s.mu.RLock()
	count := s.entryCount
	s.mu.RUnlock()
	return count - s.clean.cleanCount()
}

// CleanRatio is 1 - liveCount/entryCount.
func (s *Segment) CleanRatio() float64 {
	s.mu.RLock()
	count := s.entryCount
	s.mu.RUnlock()
	if count == 0 {
		return 0
	}
	live := count - s.clean.cleanCount()
	return 1 - float64(live)/float64(count)
}

// HasLiveTombstone reports whether any live (not cleaned) entry in the
// segment is a tombstone kind, which blocks minor compaction of the
// segment.
func (s *Segment) HasLiveTombstone(decodeKind func(idx uint64) (entry.Kind, bool)) bool {
	s.mu.RLock()
	first, count := s.firstIndex, s.entryCount
	s.mu.RUnlock()
	for i := uint32(0); i < count; i++ {
		if s.clean.isClean(i) {
			continue
		}
		kind, ok := decodeKind(first + uint64(i))
		if ok && kind.Tombstone() {
			return true
		}
	}
	return false
}
