package segment

import (
	"testing"

	"github.com/downfa11-org/raftlog/pkg/entry"
)

func mustManager(t *testing.T, maxEntries, maxBytes uint32) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(dir, "log", Options{MaxEntriesPerSegment: maxEntries, MaxSegmentBytes: maxBytes, Level: LevelDisk})
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func appendOne(t *testing.T, m *Manager, index uint64) {
	t.Helper()
	_, err := m.AppendToTail(func(seg *Segment) (uint64, error) {
		return seg.Append(entry.Entry{Index: index, Term: 1, Kind: entry.Command, Payload: []byte("x")})
	})
	if err != nil {
		t.Fatalf("append %d: %v", index, err)
	}
}

func TestManagerRollsOnFullSegment(t *testing.T) {
	m := mustManager(t, 2, 1<<20)
	for i := uint64(1); i <= 5; i++ {
		appendOne(t, m, i)
	}
	segs := m.All()
	if len(segs) < 3 {
		t.Fatalf("expected at least 3 segments after rolling, got %d", len(segs))
	}
	first, ok := m.FirstSegment()
	if !ok || first.FirstIndex() != 1 {
		t.Fatalf("unexpected first segment: %+v", first)
	}
	last, ok := m.LastSegment()
	if !ok || last.LastIndex() != 5 {
		t.Fatalf("unexpected last segment: %+v", last)
	}
}

func TestManagerSegmentFor(t *testing.T) {
	m := mustManager(t, 2, 1<<20)
	for i := uint64(1); i <= 5; i++ {
		appendOne(t, m, i)
	}
	seg, ok := m.SegmentFor(3)
	if !ok {
		t.Fatal("expected to find segment for index 3")
	}
	if 3 < seg.FirstIndex() || 3 > seg.LastIndex() {
		t.Fatalf("segment %+v does not contain index 3", seg)
	}
	if _, ok := m.SegmentFor(999); ok {
		t.Fatal("expected miss for out-of-range index")
	}
}

func TestManagerTruncateSuffixFrom(t *testing.T) {
	m := mustManager(t, 2, 1<<20)
	for i := uint64(1); i <= 6; i++ {
		appendOne(t, m, i)
	}
	if err := m.TruncateSuffixFrom(4); err != nil {
		t.Fatalf("truncate suffix: %v", err)
	}
	last, ok := m.LastSegment()
	if !ok || last.LastIndex() != 3 {
		t.Fatalf("expected lastIndex 3 after truncate, got %+v", last)
	}
	if _, ok := m.SegmentFor(4); ok {
		t.Fatal("expected index 4 to be gone after truncate")
	}
	appendOne(t, m, 4)
	if _, ok := m.SegmentFor(4); !ok {
		t.Fatal("expected to be able to append past the truncation point")
	}
}
