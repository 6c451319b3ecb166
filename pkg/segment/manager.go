package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	lru "github.com/hashicorp/golang-lru"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/rerr"
	"github.com/downfa11-org/raftlog/util"
)

// Options configures a Manager's segment-rolling policy.
type Options struct {
	MaxEntriesPerSegment uint32
	MaxSegmentBytes      uint32
	Level                Level
	FDCacheSize          int // sealed-segment fds kept open under pressure (0 disables the cache)
}

// Manager owns the ordered catalog of segments backing one log (C2).
// Segments are keyed by firstIndex in a persistent radix tree so lookups,
// the tail pointer, and the oldest-first compaction scan are all cheap and
// allow readers to keep iterating a snapshot while a writer splices in a
// compaction result.
type Manager struct {
	dir, name string
	opts      Options
	fds       *lru.Cache

	mu     sync.RWMutex
	tree   *iradix.Tree // firstIndex(be64) -> *Segment
	tail   *Segment
	nextID uint64

	logger interface {
		Info(string, ...interface{})
		Warn(string, ...interface{})
		Debug(string, ...interface{})
	}
}

var segmentFileRE = regexp.MustCompile(`^(.+)-(\d+)-(\d+)\.log$`)

func key(index uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], index)
	return b[:]
}

// Open recovers an existing log directory or initializes an empty one,
// verifying that recovered segments form one contiguous index range.
func Open(dir, name string, opts Options) (*Manager, error) {
	if opts.MaxEntriesPerSegment == 0 || opts.MaxSegmentBytes == 0 {
		return nil, fmt.Errorf("segment manager: %w", rerr.ErrConfig)
	}
	m := &Manager{
		dir: dir, name: name, opts: opts,
		tree:   iradix.New(),
		logger: util.Named("segment-manager"),
	}
	if opts.FDCacheSize > 0 {
		c, err := lru.NewWithEvict(opts.FDCacheSize, func(key, value interface{}) {
			if f, ok := value.(dataFile); ok {
				_ = f.Close()
			}
		})
		if err != nil {
			return nil, fmt.Errorf("segment manager: fd cache: %w", err)
		}
		m.fds = c
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return m, m.openFirstSegment()
		}
		return nil, fmt.Errorf("segment manager: read dir %s: %w", dir, err)
	}

	type found struct {
		id, version uint64
	}
	latest := map[uint64]found{}
	for _, de := range entries {
		sub := segmentFileRE.FindStringSubmatch(de.Name())
		if sub == nil || sub[1] != name {
			continue
		}
		var id, version uint64
		fmt.Sscanf(sub[2], "%d", &id)
		fmt.Sscanf(sub[3], "%d", &version)
		if cur, ok := latest[id]; !ok || version > cur.version {
			latest[id] = found{id: id, version: version}
		}
	}
	if len(latest) == 0 {
		return m, m.openFirstSegment()
	}

	ids := make([]uint64, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var prevLast uint64
	var haveTail bool
	tree := m.tree
	for i, id := range ids {
		f := latest[id]
		seg, sealed, err := recoverSegment(dir, name, f.id, uint32(f.version), m.fds, opts.Level)
		if err != nil {
			return nil, fmt.Errorf("segment manager: recover segment %d: %w", id, err)
		}
		if i > 0 && seg.FirstIndex() != prevLast+1 {
			return nil, fmt.Errorf("segment manager: gap before segment %d (want firstIndex %d, got %d): %w",
				id, prevLast+1, seg.FirstIndex(), rerr.ErrCorruptSegment)
		}
		prevLast = seg.LastIndex()
		tree, _, _ = tree.Insert(key(seg.FirstIndex()), seg)
		if !sealed {
			if haveTail {
				return nil, fmt.Errorf("segment manager: more than one unsealed segment: %w", rerr.ErrCorruptSegment)
			}
			m.tail = seg
			haveTail = true
		}
		if id+1 > m.nextID {
			m.nextID = id + 1
		}
	}
	m.tree = tree
	if !haveTail {
		return m, m.openFirstSegment()
	}
	return m, nil
}

func (m *Manager) openFirstSegment() error {
	seg, err := Create(m.dir, m.name, m.nextID, 1, m.opts.MaxEntriesPerSegment, m.opts.MaxSegmentBytes, m.opts.Level, m.fds)
	if err != nil {
		return err
	}
	m.nextID++
	m.tree, _, _ = m.tree.Insert(key(1), seg)
	m.tail = seg
	return nil
}

// scanVerifiedPrefix walks the body from its start, decoding one frame at
// a time, and returns how many frames (and how many bytes) formed a
// complete, checksum-valid run before the first short read, partial
// write, or CRC failure.
func scanVerifiedPrefix(f *os.File, byteSize uint32) (count, size uint32, err error) {
	buf := make([]byte, byteSize)
	if byteSize > 0 {
		if _, err := f.ReadAt(buf, int64(DescriptorSize)); err != nil {
			return 0, 0, fmt.Errorf("scan segment body: %w", err)
		}
	}
	var pos uint32
	for pos < byteSize {
		_, n, derr := entry.Decode(buf[pos:])
		if derr != nil {
			break
		}
		pos += uint32(n)
		count++
	}
	return count, pos, nil
}

func readFrameLen(f *os.File, pos uint32) (uint32, error) {
	head := make([]byte, entry.HeaderSize)
	if _, err := f.ReadAt(head, int64(DescriptorSize)+int64(pos)); err != nil {
		return 0, fmt.Errorf("read frame length at %d: %w", pos, err)
	}
	n, err := peekFrameLen(head)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func recoverSegment(dir, name string, id uint64, version uint32, fds *lru.Cache, level Level) (*Segment, bool, error) {
	logPath, indexPath, cleanPath := FileNames(dir, name, id, version)

	f, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", logPath, err)
	}
	head := make([]byte, DescriptorSize)
	if _, err := f.ReadAt(head, 0); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("read descriptor %s: %w", logPath, err)
	}
	desc, err := UnmarshalDescriptor(head)
	if err != nil {
		f.Close()
		return nil, false, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}

	idx := newOffsetIndex(indexPath)
	if err := idx.load(); err != nil {
		f.Close()
		return nil, false, err
	}
	clean := newCleanBits(cleanPath)
	if err := clean.load(); err != nil {
		f.Close()
		return nil, false, err
	}

	byteSize := uint32(info.Size()) - DescriptorSize
	count := idx.count()

	// A crash between an append's body write and its index write (or a
	// crash mid-write of the body itself) can leave the body ahead of
	// the index, or the index describing a frame that never finished
	// writing. Only the segment that was still open when the process
	// died may show this; re-derive both from a forward scan of the
	// verified frames and drop everything after the first bad one.
	if !desc.Sealed {
		verifiedCount, verifiedSize, err := scanVerifiedPrefix(f, byteSize)
		if err != nil {
			f.Close()
			return nil, false, err
		}
		if verifiedCount != count || verifiedSize != byteSize {
			offs := make([]uint32, 0, verifiedCount)
			var pos uint32
			for i := uint32(0); i < verifiedCount; i++ {
				offs = append(offs, pos)
				frameLen, err := readFrameLen(f, pos)
				if err != nil {
					f.Close()
					return nil, false, err
				}
				pos += frameLen
			}
			idx.rebuild(offs)
			if err := f.Truncate(int64(DescriptorSize) + int64(verifiedSize)); err != nil {
				f.Close()
				return nil, false, err
			}
			count, byteSize = verifiedCount, verifiedSize
		}
		if _, err := f.Seek(int64(DescriptorSize)+int64(byteSize), 0); err != nil {
			f.Close()
			return nil, false, err
		}
	}

	s := &Segment{
		dir: dir, name: name, id: id, version: version,
		firstIndex: desc.FirstIndex, maxEntries: desc.MaxEntries, maxBytes: desc.MaxBytes,
		level: level, fds: fds, sealed: desc.Sealed,
		entryCount: count, byteSize: byteSize,
		file: f, idx: idx, clean: clean,
		logger: util.Named("segment"),
	}
	if !desc.Sealed {
		s.writer = bufio.NewWriter(f)
	} else if fds != nil {
		// Evict immediately; the LRU will reopen on first read.
		f.Close()
		s.file = nil
	}
	return s, desc.Sealed, nil
}

// Tail returns the currently writable segment.
func (m *Manager) Tail() *Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tail
}

// Dir, Name, and Level expose the catalog's fixed configuration, used by
// the compactor to build a replacement segment under the same layout.
func (m *Manager) Dir() string   { return m.dir }
func (m *Manager) Name() string  { return m.name }
func (m *Manager) Level() Level  { return m.opts.Level }

// FirstSegment and LastSegment bound the catalog.
func (m *Manager) FirstSegment() (*Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, v, ok := m.tree.Root().Minimum()
	if !ok {
		return nil, false
	}
	return v.(*Segment), true
}

func (m *Manager) LastSegment() (*Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, v, ok := m.tree.Root().Maximum()
	if !ok {
		return nil, false
	}
	return v.(*Segment), true
}

// SegmentFor returns the segment whose range contains index: the one with
// the largest firstIndex not exceeding index. Segments are
// keyed by firstIndex in the radix tree, so this walks the tree tracking
// the best candidate seen so far and stops once firstIndex exceeds index.
func (m *Manager) SegmentFor(index uint64) (*Segment, bool) {
	m.mu.RLock()
	tree := m.tree
	m.mu.RUnlock()

	var best *Segment
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		seg := v.(*Segment)
		if seg.FirstIndex() > index {
			return true // stop: keys walk in ascending order
		}
		best = seg
		return false
	})
	if best == nil || index > best.LastIndex() {
		return nil, false
	}
	return best, true
}

// All returns every segment, oldest first. Safe to range over while the
// manager mutates concurrently; iterates a point-in-time snapshot.
func (m *Manager) All() []*Segment {
	m.mu.RLock()
	tree := m.tree
	m.mu.RUnlock()

	out := make([]*Segment, 0, tree.Len())
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		out = append(out, v.(*Segment))
		return false
	})
	return out
}

// Roll seals the current tail and opens a new writable segment
// immediately after it.
func (m *Manager) Roll() (*Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tail.Seal(); err != nil {
		return nil, fmt.Errorf("segment manager: seal before roll: %w", err)
	}
	next := m.tail.LastIndex() + 1
	seg, err := Create(m.dir, m.name, m.nextID, next, m.opts.MaxEntriesPerSegment, m.opts.MaxSegmentBytes, m.opts.Level, m.fds)
	if err != nil {
		return nil, err
	}
	m.nextID++
	m.tree, _, _ = m.tree.Insert(key(next), seg)
	m.tail = seg
	return seg, nil
}

// AppendToTail writes to the tail, rolling to a new segment on ErrSegmentFull
// and retrying exactly once.
func (m *Manager) AppendToTail(appendFn func(*Segment) (uint64, error)) (uint64, error) {
	m.mu.RLock()
	tail := m.tail
	m.mu.RUnlock()

	idx, err := appendFn(tail)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, rerr.ErrSegmentFull) {
		return 0, err
	}
	if _, err := m.Roll(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	tail = m.tail
	m.mu.RUnlock()
	return appendFn(tail)
}

// Replace atomically splices newSeg in place of the contiguous run oldIDs
// names, under the manager write lock, so readers never observe a gap.
func (m *Manager) Replace(oldIDs []uint64, newSeg *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree := m.tree
	var removed []*Segment
	tree.Root().Walk(func(k []byte, v interface{}) bool {
		seg := v.(*Segment)
		for _, id := range oldIDs {
			if seg.ID() == id {
				removed = append(removed, seg)
				var ok bool
				tree, _, ok = tree.Delete(k)
				_ = ok
				break
			}
		}
		return false
	})
	if len(removed) != len(oldIDs) {
		return fmt.Errorf("segment manager: replace: %d of %d old segments found", len(removed), len(oldIDs))
	}

	tree, _, _ = tree.Insert(key(newSeg.FirstIndex()), newSeg)
	m.tree = tree

	for _, seg := range removed {
		if err := seg.Remove(); err != nil {
			m.logger.Warn("remove superseded segment %d: %v", seg.ID(), err)
		}
	}
	return nil
}

// TruncateSuffixFrom drops every segment whose firstIndex is at or after
// index, then truncates the remaining segment that holds index-1 so it
// ends at index-1 and makes it the writable tail.
func (m *Manager) TruncateSuffixFrom(index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree := m.tree
	var toRemove []*Segment
	var host *Segment
	tree.Root().Walk(func(k []byte, v interface{}) bool {
		seg := v.(*Segment)
		if seg.FirstIndex() >= index {
			toRemove = append(toRemove, seg)
			var ok bool
			tree, _, ok = tree.Delete(k)
			_ = ok
			return false
		}
		if index <= seg.LastIndex()+1 {
			host = seg
		}
		return false
	})
	m.tree = tree

	for _, seg := range toRemove {
		if err := seg.Remove(); err != nil {
			return fmt.Errorf("segment manager: remove truncated segment %d: %w", seg.ID(), err)
		}
	}

	if host == nil {
		return m.openFirstSegment()
	}
	if host != m.tail && host.Sealed() {
		if err := host.Unseal(); err != nil {
			return fmt.Errorf("segment manager: reopen segment %d for truncate: %w", host.ID(), err)
		}
	}
	if err := host.Truncate(index - 1); err != nil {
		return err
	}
	m.tail = host
	return nil
}

// Close flushes and closes every segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	m.tree.Root().Walk(func(_ []byte, v interface{}) bool {
		if err := v.(*Segment).Close(); err != nil && first == nil {
			first = err
		}
		return false
	})
	return first
}
