// Package rlog provides the append-only log façade (C3) that callers use
// instead of reaching into pkg/segment directly.
package rlog

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/rerr"
	"github.com/downfa11-org/raftlog/pkg/segment"
	"github.com/downfa11-org/raftlog/util"
)

// Log is the ordered, durable sequence of entries for one Raft member.
// It owns a segment.Manager and assigns monotonically increasing
// indexes on append.
type Log struct {
	mgr *segment.Manager

	mu          sync.Mutex // serializes Append (index assignment and write) and Truncate; Manager guards its own catalog
	lastIndex   uint64
	closed      bool
	logger      interface {
		Debug(string, ...interface{})
		Warn(string, ...interface{})
	}
}

// Options mirrors segment.Options plus the directory/name pair.
type Options struct {
	Dir                  string
	Name                 string
	MaxEntriesPerSegment uint32
	MaxSegmentBytes      uint32
	Level                segment.Level
	FDCacheSize          int
}

// Open recovers dir into a ready-to-use Log, or initializes an empty one.
func Open(opts Options) (*Log, error) {
	mgr, err := segment.Open(opts.Dir, opts.Name, segment.Options{
		MaxEntriesPerSegment: opts.MaxEntriesPerSegment,
		MaxSegmentBytes:      opts.MaxSegmentBytes,
		Level:                opts.Level,
		FDCacheSize:          opts.FDCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("rlog: open: %w", err)
	}
	l := &Log{mgr: mgr, logger: util.Named("rlog")}
	if last, ok := mgr.LastSegment(); ok {
		l.lastIndex = last.LastIndex()
	}
	return l, nil
}

// Append assigns the next index to e and persists it, unless e.Kind is
// Query: query entries are never written to the log  and Append rejects them outright
// so callers don't mistake a no-op for a committed write.
func (l *Log) Append(e entry.Entry) (uint64, error) {
	if !e.Kind.Persisted() {
		return 0, fmt.Errorf("rlog: append: %w", rerr.ErrInvalidState)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, rerr.ErrClosed
	}
	e.Index = l.lastIndex + 1

	idx, err := l.mgr.AppendToTail(func(seg *segment.Segment) (uint64, error) {
		return seg.Append(e)
	})
	if err != nil {
		return 0, fmt.Errorf("rlog: append index %d: %w", e.Index, err)
	}

	l.lastIndex = idx
	return idx, nil
}

// AppendAt persists e at the index it already carries, instead of
// assigning lastIndex+1 itself. This is only for the raftstore LogStore
// adapter: hashicorp/raft owns index assignment (including replaying a
// leader's exact indexes onto a follower) and expects the store to
// accept whatever index it is given, as long as it is the next one this
// store has seen.
func (l *Log) AppendAt(e entry.Entry) error {
	if !e.Kind.Persisted() {
		return fmt.Errorf("rlog: appendAt: %w", rerr.ErrInvalidState)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return rerr.ErrClosed
	}
	want := l.lastIndex + 1
	l.mu.Unlock()
	if e.Index != want {
		return fmt.Errorf("rlog: appendAt: index %d != expected %d: %w", e.Index, want, rerr.ErrNonMonotonicIndex)
	}

	idx, err := l.mgr.AppendToTail(func(seg *segment.Segment) (uint64, error) {
		return seg.Append(e)
	})
	if err != nil {
		return fmt.Errorf("rlog: appendAt index %d: %w", e.Index, err)
	}

	l.mu.Lock()
	l.lastIndex = idx
	l.mu.Unlock()
	return nil
}

// Get returns the entry at index, or ok=false if it has been compacted
// away or never existed.
func (l *Log) Get(index uint64) (entry.Entry, bool, error) {
	seg, ok := l.mgr.SegmentFor(index)
	if !ok {
		return entry.Entry{}, false, nil
	}
	return seg.Get(index)
}

// Contains reports whether index currently has a live entry.
func (l *Log) Contains(index uint64) bool {
	_, ok, err := l.Get(index)
	return err == nil && ok
}

// FirstIndex is the lowest index still retained.
func (l *Log) FirstIndex() uint64 {
	seg, ok := l.mgr.FirstSegment()
	if !ok {
		return 0
	}
	return seg.FirstIndex()
}

// LastIndex is the highest index ever appended and not since truncated.
func (l *Log) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndex
}

// Truncate drops every entry with index >= from, leaving the log ending
// at from-1.
func (l *Log) Truncate(from uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return rerr.ErrClosed
	}
	if from == 0 {
		return fmt.Errorf("rlog: truncate: %w", rerr.ErrOutOfRange)
	}
	if err := l.mgr.TruncateSuffixFrom(from); err != nil {
		return fmt.Errorf("rlog: truncate from %d: %w", from, err)
	}
	l.lastIndex = from - 1
	return nil
}

// Flush fsyncs every segment currently open for writing.
func (l *Log) Flush() error {
	tail := l.mgr.Tail()
	if tail == nil {
		return nil
	}
	return tail.Flush()
}

// Close flushes and releases all segment file handles.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.mgr.Close()
}

// Manager exposes the underlying segment manager for components (cleaner,
// compactor) that need the full catalog rather than single-entry access.
func (l *Log) Manager() *segment.Manager {
	return l.mgr
}

// Iterator walks entries from start to the log's last index, in order.
type Iterator struct {
	log  *Log
	next uint64
	last uint64
}

// NewIterator returns an Iterator starting at from ).
func (l *Log) NewIterator(from uint64) *Iterator {
	return &Iterator{log: l, next: from, last: l.LastIndex()}
}

// Next returns the next entry in order, or ok=false once the iterator is
// exhausted. A compacted gap is skipped rather than treated as an error.
func (it *Iterator) Next() (entry.Entry, bool, error) {
	for it.next <= it.last {
		e, ok, err := it.log.Get(it.next)
		it.next++
		if err != nil {
			return entry.Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return entry.Entry{}, false, nil
}
