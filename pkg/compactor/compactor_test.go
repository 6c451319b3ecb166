package compactor

import (
	"testing"
	"time"

	"github.com/downfa11-org/raftlog/pkg/cleaner"
	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/rlog"
	"github.com/downfa11-org/raftlog/pkg/segment"
)

func mustLog(t *testing.T, maxEntries uint32) *rlog.Log {
	t.Helper()
	l, err := rlog.Open(rlog.Options{
		Dir: t.TempDir(), Name: "log",
		MaxEntriesPerSegment: maxEntries, MaxSegmentBytes: 1 << 20, Level: segment.LevelDisk,
	})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestMinorCompactionReclaimsCleanEntries(t *testing.T) {
	log := mustLog(t, 10)
	for i := 0; i < 4; i++ {
		if _, err := log.Append(entry.Entry{Term: 1, Kind: entry.Command, Payload: []byte("x")}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	clnr := cleaner.New(log)
	if _, err := clnr.CleanRange(1, 3); err != nil {
		t.Fatalf("clean range: %v", err)
	}

	seg, ok := log.Manager().FirstSegment()
	if !ok {
		t.Fatal("expected a segment")
	}
	if err := seg.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	c := New(log, clnr, Options{Threads: 1, Threshold: 0.5, MinorInterval: time.Hour, MajorInterval: time.Hour})
	c.runMinor(seg)

	newSeg, ok := log.Manager().SegmentFor(4)
	if !ok {
		t.Fatal("expected replacement segment to still serve index 4")
	}
	if newSeg.ID() != seg.ID() {
		t.Fatalf("expected replacement to keep id %d, got %d", seg.ID(), newSeg.ID())
	}
	if newSeg.EntryCount() != 1 {
		t.Fatalf("expected 1 live entry after minor compaction, got %d", newSeg.EntryCount())
	}
	if got, ok, err := log.Get(4); err != nil || !ok || got.Index != 4 {
		t.Fatalf("expected index 4 to survive compaction: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestMajorCompactionDropsCleanedTombstone(t *testing.T) {
	log := mustLog(t, 10)
	if _, err := log.Append(entry.Entry{Term: 1, Kind: entry.Command, Payload: []byte("x")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.Append(entry.Entry{Term: 1, Kind: entry.Unregister}); err != nil {
		t.Fatalf("append: %v", err)
	}
	clnr := cleaner.New(log)
	if err := clnr.Clean(1); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if err := clnr.Clean(2); err != nil {
		t.Fatalf("clean: %v", err)
	}

	seg, ok := log.Manager().FirstSegment()
	if !ok {
		t.Fatal("expected a segment")
	}
	if err := seg.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	c := New(log, clnr, Options{Threads: 1, Threshold: 0.5, MinorInterval: time.Hour, MajorInterval: time.Hour})
	c.runMajor(seg)

	var newSeg *segment.Segment
	for _, s := range log.Manager().All() {
		if s.ID() == seg.ID() {
			newSeg = s
		}
	}
	if newSeg == nil {
		t.Fatal("expected replacement segment with the same id")
	}
	if newSeg.EntryCount() != 0 {
		t.Fatalf("expected all entries reclaimed, got %d", newSeg.EntryCount())
	}
}
