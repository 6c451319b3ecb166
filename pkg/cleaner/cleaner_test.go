package cleaner

import (
	"testing"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/rlog"
	"github.com/downfa11-org/raftlog/pkg/segment"
)

func mustLog(t *testing.T) *rlog.Log {
	t.Helper()
	l, err := rlog.Open(rlog.Options{
		Dir: t.TempDir(), Name: "log",
		MaxEntriesPerSegment: 10, MaxSegmentBytes: 1 << 20, Level: segment.LevelDisk,
	})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestCleanerMarksAndQueries(t *testing.T) {
	l := mustLog(t)
	for i := 0; i < 3; i++ {
		if _, err := l.Append(entry.Entry{Term: 1, Kind: entry.Command}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	c := New(l)
	if c.IsClean(1) {
		t.Fatal("expected index 1 not clean initially")
	}
	if err := c.Clean(1); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if !c.IsClean(1) {
		t.Fatal("expected index 1 clean")
	}
	if err := c.Clean(1); err != nil {
		t.Fatalf("clean idempotent: %v", err)
	}
}

func TestCleanerCleanRangeSkipsMissing(t *testing.T) {
	l := mustLog(t)
	for i := 0; i < 3; i++ {
		if _, err := l.Append(entry.Entry{Term: 1, Kind: entry.Command}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	c := New(l)
	n, err := c.CleanRange(1, 10)
	if err != nil {
		t.Fatalf("cleanRange: %v", err)
	}
	if n != 3 {
		t.Fatalf("cleaned %d entries, want 3", n)
	}
}

func TestCleanerTombstoneDetection(t *testing.T) {
	l := mustLog(t)
	if _, err := l.Append(entry.Entry{Term: 1, Kind: entry.Command}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(entry.Entry{Term: 1, Kind: entry.Unregister}); err != nil {
		t.Fatalf("append: %v", err)
	}
	c := New(l)
	seg, ok := l.Manager().FirstSegment()
	if !ok {
		t.Fatal("expected a segment")
	}
	if !c.HasLiveTombstone(seg.ID()) {
		t.Fatal("expected live tombstone to be detected")
	}
	if err := c.Clean(2); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if c.HasLiveTombstone(seg.ID()) {
		t.Fatal("expected tombstone to no longer be live after cleaning")
	}
}
