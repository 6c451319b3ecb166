package storage

import (
	"testing"
	"time"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/segment"
)

func TestOpenRejectsInvalidOptions(t *testing.T) {
	_, err := Open(Options{Dir: "", MaxSegmentBytes: 1 << 20, MaxEntriesPerSegment: 10, CompactionThreads: 1, CompactionThreshold: 0.5})
	if err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestOpenRejectsEntriesOverCap(t *testing.T) {
	_, err := Open(Options{
		Dir: t.TempDir(), MaxSegmentBytes: 1 << 20,
		MaxEntriesPerSegment: segment.MaxEntriesCap + 1,
		CompactionThreads:    1, CompactionThreshold: 0.5,
	})
	if err == nil {
		t.Fatal("expected error for MaxEntriesPerSegment over cap")
	}
}

func TestOpenAndAppend(t *testing.T) {
	eng, err := Open(Options{
		Dir: t.TempDir(), Level: segment.LevelDisk,
		MaxSegmentBytes: 1 << 20, MaxEntriesPerSegment: 100,
		CompactionThreads: 1, CompactionThreshold: 0.5,
		MinorCompactionInterval: time.Hour, MajorCompactionInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer eng.Close()

	idx, err := eng.Log.Append(entry.Entry{Term: 1, Kind: entry.Command, Payload: []byte("hello")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if idx != 1 {
		t.Fatalf("index = %d, want 1", idx)
	}
	if err := eng.Meta.SetTermAndVote(1, "node-a"); err != nil {
		t.Fatalf("set term/vote: %v", err)
	}
}

func TestConfigNormalizeDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()
	if cfg.Dir != "data" || cfg.Level != "disk" {
		t.Fatalf("unexpected normalized config: %+v", cfg)
	}
	opts, err := cfg.ToOptions()
	if err != nil {
		t.Fatalf("toOptions: %v", err)
	}
	if opts.Level != segment.LevelDisk {
		t.Fatalf("level = %v, want LevelDisk", opts.Level)
	}
}
