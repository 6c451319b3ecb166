package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/downfa11-org/raftlog/pkg/bench"
	"github.com/downfa11-org/raftlog/pkg/segment"
	"github.com/downfa11-org/raftlog/pkg/storage"
)

func main() {
	dir := flag.String("dir", "bench-data", "storage directory")
	writers := flag.Int("writers", 8, "number of concurrent appenders")
	entries := flag.Int("entries", 10_000, "entries per writer")
	payload := flag.Int("payload-size", 128, "bytes per entry payload")
	readers := flag.Int("readers", 4, "number of concurrent readers after the write phase")
	level := flag.String("level", "disk", "storage level: disk, mapped-disk, memory")
	flag.Parse()

	lvl, err := parseLevel(*level)
	if err != nil {
		fmt.Println("invalid -level:", err)
		os.Exit(1)
	}

	eng, err := storage.Open(storage.Options{
		Dir:                  *dir,
		Level:                lvl,
		MaxSegmentBytes:      64 << 20,
		MaxEntriesPerSegment: 100_000,
		CompactionThreads:    1,
		CompactionThreshold:  0.5,
		MinorCompactionInterval: time.Hour,
		MajorCompactionInterval: time.Hour,
		FDCacheSize:          64,
	})
	if err != nil {
		fmt.Println("failed to open storage:", err)
		os.Exit(1)
	}
	defer eng.Close()

	runner := bench.NewRunner(eng, *writers, *entries, *payload, *readers)
	runner.Run().Print()
}

func parseLevel(s string) (segment.Level, error) {
	switch s {
	case "disk":
		return segment.LevelDisk, nil
	case "mapped-disk":
		return segment.LevelMappedDisk, nil
	case "memory":
		return segment.LevelMemory, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}
