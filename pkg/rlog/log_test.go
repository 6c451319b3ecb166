package rlog

import (
	"testing"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/segment"
)

func mustLog(t *testing.T, maxEntries uint32) *Log {
	t.Helper()
	l, err := Open(Options{
		Dir: t.TempDir(), Name: "log",
		MaxEntriesPerSegment: maxEntries, MaxSegmentBytes: 1 << 20,
		Level: segment.LevelDisk,
	})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogAppendAssignsIndex(t *testing.T) {
	l := mustLog(t, 10)
	for want := uint64(1); want <= 3; want++ {
		got, err := l.Append(entry.Entry{Term: 1, Kind: entry.Command, Payload: []byte("v")})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if got != want {
			t.Fatalf("append returned index %d, want %d", got, want)
		}
	}
	if l.LastIndex() != 3 {
		t.Fatalf("lastIndex = %d, want 3", l.LastIndex())
	}
	if l.FirstIndex() != 1 {
		t.Fatalf("firstIndex = %d, want 1", l.FirstIndex())
	}
}

func TestLogRejectsQueryAppend(t *testing.T) {
	l := mustLog(t, 10)
	if _, err := l.Append(entry.Entry{Term: 1, Kind: entry.Query, Payload: []byte("q")}); err == nil {
		t.Fatal("expected error appending a query entry")
	}
}

func TestLogTruncateAndReappend(t *testing.T) {
	l := mustLog(t, 2)
	for i := 0; i < 5; i++ {
		if _, err := l.Append(entry.Entry{Term: 1, Kind: entry.Command}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Truncate(3); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if l.LastIndex() != 2 {
		t.Fatalf("lastIndex after truncate = %d, want 2", l.LastIndex())
	}
	idx, err := l.Append(entry.Entry{Term: 2, Kind: entry.Command})
	if err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
	if idx != 3 {
		t.Fatalf("reappend index = %d, want 3", idx)
	}
}

func TestLogIterator(t *testing.T) {
	l := mustLog(t, 10)
	for i := 0; i < 4; i++ {
		if _, err := l.Append(entry.Entry{Term: 1, Kind: entry.Command, Payload: []byte{byte(i)}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	it := l.NewIterator(2)
	var got []uint64
	for {
		e, ok, err := it.Next()
		if err != nil {
			t.Fatalf("iterator: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, e.Index)
	}
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("unexpected iteration result: %v", got)
	}
}
