// Package bench measures local append/read throughput of the storage
// engine by driving concurrent goroutines directly against it.
package bench

import (
	"fmt"
	"sync"
	"time"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/storage"
)

// Runner drives concurrent appenders against one Engine and reports
// aggregate throughput, calling Log.Append directly instead of going
// over a network connection.
type Runner struct {
	Engine          *storage.Engine
	NumWriters      int
	EntriesPerWriter int
	PayloadSize     int
	NumReaders      int
}

func NewRunner(eng *storage.Engine, writers, entriesPerWriter, payloadSize, readers int) *Runner {
	return &Runner{
		Engine: eng, NumWriters: writers, EntriesPerWriter: entriesPerWriter,
		PayloadSize: payloadSize, NumReaders: readers,
	}
}

// Result is the summary printed at the end of a Run.
type Result struct {
	TotalEntries     int
	WriteDuration    time.Duration
	WriteThroughput  float64
	ReadDuration      time.Duration
	ReadThroughput   float64
}

func (r *Runner) Run() Result {
	payload := make([]byte, r.PayloadSize)
	total := r.NumWriters * r.EntriesPerWriter

	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for w := 0; w < r.NumWriters; w++ {
		wg.Add(1)
		go func(wid int) {
			defer wg.Done()
			for i := 0; i < r.EntriesPerWriter; i++ {
				_, err := r.Engine.Log.Append(entry.Entry{Term: 1, Kind: entry.Command, Payload: payload})
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("writer %d entry %d: %w", wid, i, err))
					mu.Unlock()
					return
				}
			}
		}(w)
	}
	wg.Wait()
	writeDuration := time.Since(start)

	if len(errs) > 0 {
		fmt.Printf("write phase had %d error(s), first: %v\n", len(errs), errs[0])
	}

	res := Result{
		TotalEntries:    total,
		WriteDuration:   writeDuration,
		WriteThroughput: float64(total) / writeDuration.Seconds(),
	}

	if r.NumReaders > 0 {
		last := r.Engine.Log.LastIndex()
		readStart := time.Now()
		var rwg sync.WaitGroup
		for c := 0; c < r.NumReaders; c++ {
			rwg.Add(1)
			go func(cid int) {
				defer rwg.Done()
				it := r.Engine.Log.NewIterator(1)
				for {
					_, ok, err := it.Next()
					if err != nil || !ok {
						return
					}
				}
			}(c)
		}
		rwg.Wait()
		res.ReadDuration = time.Since(readStart)
		res.ReadThroughput = float64(last) * float64(r.NumReaders) / res.ReadDuration.Seconds()
	}

	return res
}

func (res Result) Print() {
	fmt.Printf("\nbenchmark result\n")
	fmt.Printf("-------------------------------------\n")
	fmt.Printf(" Entries appended : %d\n", res.TotalEntries)
	fmt.Printf(" Write duration   : %v\n", res.WriteDuration)
	fmt.Printf(" Write throughput : %.2f entries/sec\n", res.WriteThroughput)
	if res.ReadDuration > 0 {
		fmt.Printf(" Read duration    : %v\n", res.ReadDuration)
		fmt.Printf(" Read throughput  : %.2f entries/sec\n", res.ReadThroughput)
	}
	fmt.Printf("-------------------------------------\n")
}
