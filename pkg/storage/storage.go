// Package storage is the validating constructor that replaces the
// builder surface used elsewhere in the ecosystem (C8): callers get one
// Open call and an immutable Options, not a multi-step builder.
package storage

import (
	"fmt"
	"time"

	"github.com/downfa11-org/raftlog/pkg/cleaner"
	"github.com/downfa11-org/raftlog/pkg/compactor"
	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/metastore"
	"github.com/downfa11-org/raftlog/pkg/metrics"
	"github.com/downfa11-org/raftlog/pkg/rerr"
	"github.com/downfa11-org/raftlog/pkg/rlog"
	"github.com/downfa11-org/raftlog/pkg/segment"
	"github.com/downfa11-org/raftlog/util"
)

// Options is the immutable configuration for one log engine instance.
// Construct it via Config.ToOptions or directly; Open validates it
// regardless of how it was built.
type Options struct {
	Dir                     string
	Level                   segment.Level
	MaxSegmentBytes         uint32
	MaxEntriesPerSegment    uint32
	CompactionThreads       int
	CompactionThreshold     float64
	MinorCompactionInterval time.Duration
	MajorCompactionInterval time.Duration
	FDCacheSize             int
}

func (o Options) validate() error {
	if o.Dir == "" {
		return fmt.Errorf("storage: empty dir: %w", rerr.ErrConfig)
	}
	if o.MaxSegmentBytes < segment.DescriptorSize {
		return fmt.Errorf("storage: max segment bytes %d smaller than descriptor: %w", o.MaxSegmentBytes, rerr.ErrConfig)
	}
	if o.MaxEntriesPerSegment == 0 {
		return fmt.Errorf("storage: max entries per segment is zero: %w", rerr.ErrConfig)
	}
	if o.MaxEntriesPerSegment > segment.MaxEntriesCap {
		return fmt.Errorf("storage: max entries per segment %d exceeds cap %d: %w", o.MaxEntriesPerSegment, segment.MaxEntriesCap, rerr.ErrConfig)
	}
	if o.CompactionThreads <= 0 {
		return fmt.Errorf("storage: compaction threads must be positive: %w", rerr.ErrConfig)
	}
	if o.CompactionThreshold <= 0 || o.CompactionThreshold > 1 {
		return fmt.Errorf("storage: compaction threshold %v out of (0,1]: %w", o.CompactionThreshold, rerr.ErrConfig)
	}
	return nil
}

// Engine bundles the log, its control-state, and its background
// maintenance into the one object callers hold.
type Engine struct {
	opts     Options
	Log      *rlog.Log
	Meta     *metastore.Store
	Cleaner  *cleaner.Cleaner
	Compactor *compactor.Compactor

	logger interface {
		Info(string, ...interface{})
	}
}

// Open validates opts and assembles a ready-to-use Engine, recovering
// dir if it already holds a log.
func Open(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	log, err := rlog.Open(rlog.Options{
		Dir: opts.Dir, Name: "raftlog",
		MaxEntriesPerSegment: opts.MaxEntriesPerSegment,
		MaxSegmentBytes:      opts.MaxSegmentBytes,
		Level:                opts.Level,
		FDCacheSize:          opts.FDCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open log: %w", err)
	}

	meta, err := metastore.Open(opts.Dir + "/raftlog.meta")
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("storage: open metastore: %w", err)
	}

	clnr := cleaner.New(log)
	cmp := compactor.New(log, clnr, compactor.Options{
		Threads:         opts.CompactionThreads,
		Threshold:       opts.CompactionThreshold,
		MinorInterval:   opts.MinorCompactionInterval,
		MajorInterval:   opts.MajorCompactionInterval,
	})

	return &Engine{
		opts: opts, Log: log, Meta: meta, Cleaner: clnr, Compactor: cmp,
		logger: util.Named("storage"),
	}, nil
}

// Start begins the compactor's background dispatch loop. Call once.
func (e *Engine) Start() {
	e.Compactor.Start()
}

// Close stops background maintenance and closes the log.
func (e *Engine) Close() error {
	e.Compactor.Stop()
	return e.Log.Close()
}

// Append wraps Log.Append with the latency/throughput counters exported
// at /metrics. Direct callers of e.Log.Append bypass these counters; use
// this method when metrics matter.
func (e *Engine) Append(ent entry.Entry) (uint64, error) {
	start := time.Now()
	idx, err := e.Log.Append(ent)
	if err != nil {
		metrics.IOErrors.WithLabelValues("append").Inc()
		return 0, err
	}
	metrics.ObserveAppend(time.Since(start).Seconds())
	e.refreshSegmentMetrics()
	return idx, nil
}

func (e *Engine) refreshSegmentMetrics() {
	segs := e.Log.Manager().All()
	metrics.SegmentCount.Set(float64(len(segs)))
	for _, seg := range segs {
		if seg.Sealed() {
			metrics.SealedSegmentCleanRatio.WithLabelValues(fmt.Sprint(seg.ID())).Set(seg.CleanRatio())
		}
	}
}
