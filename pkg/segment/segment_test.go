package segment

import (
	"os"
	"testing"

	"github.com/downfa11-org/raftlog/pkg/entry"
)

func mustTempSegment(t *testing.T, maxEntries, maxBytes uint32) *Segment {
	t.Helper()
	dir := t.TempDir()
	seg, err := Create(dir, "log", 1, 1, maxEntries, maxBytes, LevelDisk, nil)
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	t.Cleanup(func() { _ = seg.Close() })
	return seg
}

func TestSegmentAppendAndGet(t *testing.T) {
	seg := mustTempSegment(t, 100, 1<<20)
	for i := uint64(0); i < 5; i++ {
		e := entry.Entry{Index: 1 + i, Term: 1, Kind: entry.Command, Payload: []byte("payload")}
		if _, err := seg.Append(e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := seg.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	for i := uint64(0); i < 5; i++ {
		got, ok, err := seg.Get(1 + i)
		if err != nil || !ok {
			t.Fatalf("get %d: ok=%v err=%v", i, ok, err)
		}
		if string(got.Payload) != "payload" || got.Term != 1 {
			t.Fatalf("get %d: unexpected entry %+v", i, got)
		}
	}
	if _, ok, _ := seg.Get(100); ok {
		t.Fatal("expected miss for out-of-range index")
	}
}

func TestSegmentFullRejectsAppend(t *testing.T) {
	seg := mustTempSegment(t, 2, 1<<20)
	for i := uint64(0); i < 2; i++ {
		if _, err := seg.Append(entry.Entry{Index: 1 + i, Term: 1, Kind: entry.Command}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := seg.Append(entry.Entry{Index: 3, Term: 1, Kind: entry.Command}); err == nil {
		t.Fatal("expected ErrSegmentFull")
	}
}

func TestSegmentTruncateSuffix(t *testing.T) {
	seg := mustTempSegment(t, 100, 1<<20)
	for i := uint64(0); i < 5; i++ {
		if _, err := seg.Append(entry.Entry{Index: 1 + i, Term: 1, Kind: entry.Command, Payload: []byte("x")}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := seg.Truncate(3); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if seg.EntryCount() != 3 {
		t.Fatalf("entryCount = %d, want 3", seg.EntryCount())
	}
	if _, ok, _ := seg.Get(4); ok {
		t.Fatal("expected index 4 to be gone after truncate")
	}
	if got, ok, err := seg.Get(3); err != nil || !ok || got.Index != 3 {
		t.Fatalf("get 3 after truncate: ok=%v err=%v got=%+v", ok, err, got)
	}
	// Append should continue right after the truncated tail.
	if _, err := seg.Append(entry.Entry{Index: 4, Term: 2, Kind: entry.Command}); err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
}

func TestSegmentSealRejectsAppend(t *testing.T) {
	seg := mustTempSegment(t, 100, 1<<20)
	if _, err := seg.Append(entry.Entry{Index: 1, Term: 1, Kind: entry.Command}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := seg.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := seg.Append(entry.Entry{Index: 2, Term: 1, Kind: entry.Command}); err == nil {
		t.Fatal("expected ErrSealed after seal")
	}
	if got, ok, err := seg.Get(1); err != nil || !ok || got.Index != 1 {
		t.Fatalf("get after seal: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestSegmentCleanBits(t *testing.T) {
	seg := mustTempSegment(t, 100, 1<<20)
	for i := uint64(0); i < 3; i++ {
		if _, err := seg.Append(entry.Entry{Index: 1 + i, Term: 1, Kind: entry.Command}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if seg.IsClean(1) {
		t.Fatal("expected index 1 not clean initially")
	}
	if err := seg.MarkClean(1); err != nil {
		t.Fatalf("markClean: %v", err)
	}
	if !seg.IsClean(1) {
		t.Fatal("expected index 1 clean after markClean")
	}
	if seg.LiveCount() != 2 {
		t.Fatalf("liveCount = %d, want 2", seg.LiveCount())
	}
}

func TestSegmentDescriptorPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, "log", 9, 1, 10, 1<<20, LevelDisk, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := seg.Append(entry.Entry{Index: 1, Term: 1, Kind: entry.Command, Payload: []byte("a")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	logPath, _, _ := FileNames(dir, "log", 9, 1)
	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	head := make([]byte, DescriptorSize)
	if _, err := f.ReadAt(head, 0); err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	d, err := UnmarshalDescriptor(head)
	if err != nil {
		t.Fatalf("unmarshal descriptor: %v", err)
	}
	if d.FirstIndex != 1 || d.ID != 9 {
		t.Fatalf("unexpected descriptor after reopen: %+v", d)
	}
}
