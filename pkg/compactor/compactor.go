// Package compactor implements minor and major compaction (C6): the
// pipelines that reclaim space from segments the cleaner has marked up.
package compactor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/downfa11-org/raftlog/pkg/cleaner"
	"github.com/downfa11-org/raftlog/pkg/metrics"
	"github.com/downfa11-org/raftlog/pkg/rlog"
	"github.com/downfa11-org/raftlog/pkg/segment"
	"github.com/downfa11-org/raftlog/util"
)

// Options tunes the dispatcher and eligibility policy.
type Options struct {
	Threads       int
	Threshold     float64 // minimum clean ratio that makes a segment eligible
	MinorInterval time.Duration
	MajorInterval time.Duration
}

// Compactor periodically scans the segment catalog for eligible segments
// and rewrites them, oldest first, to reclaim space.
type Compactor struct {
	log     *rlog.Log
	cleanr  *cleaner.Cleaner
	opts    Options

	tasks     chan func()
	workersWG sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
	loopWG    sync.WaitGroup

	logger interface {
		Info(string, ...interface{})
		Debug(string, ...interface{})
		Warn(string, ...interface{})
	}
}

func New(log *rlog.Log, cleanr *cleaner.Cleaner, opts Options) *Compactor {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	return &Compactor{
		log: log, cleanr: cleanr, opts: opts,
		tasks:  make(chan func(), opts.Threads*4),
		done:   make(chan struct{}),
		logger: util.Named("compactor"),
	}
}

// Start spins up the worker pool and the two periodic dispatch loops.
// It keeps no started flag: each call starts another worker pool and
// another pair of dispatch loops.
func (c *Compactor) Start() {
	c.workersWG.Add(c.opts.Threads)
	for i := 0; i < c.opts.Threads; i++ {
		go c.worker()
	}
	c.loopWG.Add(2)
	go c.dispatchLoop(c.opts.MinorInterval, c.dispatchMinor)
	go c.dispatchLoop(c.opts.MajorInterval, c.dispatchMajor)
}

// Stop drains the dispatch loops and worker pool. Safe to call more than
// once.
func (c *Compactor) Stop() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.loopWG.Wait()
		close(c.tasks)
	})
	c.workersWG.Wait()
}

func (c *Compactor) worker() {
	defer c.workersWG.Done()
	for task := range c.tasks {
		task()
	}
}

func (c *Compactor) dispatchLoop(interval time.Duration, fn func()) {
	defer c.loopWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-c.done:
			return
		}
	}
}

// eligible returns sealed segments whose clean ratio meets the threshold,
// oldest (lowest firstIndex) first.
func (c *Compactor) eligible(requireTombstone bool) []*segment.Segment {
	all := c.log.Manager().All()
	var out []*segment.Segment
	for _, seg := range all {
		if !seg.Sealed() {
			continue
		}
		if seg.CleanRatio() < c.opts.Threshold {
			continue
		}
		if requireTombstone && !c.cleanr.HasLiveTombstone(seg.ID()) {
			continue
		}
		if !requireTombstone && c.cleanr.HasLiveTombstone(seg.ID()) {
			continue // tombstones force major compaction instead
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstIndex() < out[j].FirstIndex() })
	return out
}

// TriggerMinor submits one minor-compaction task per eligible segment
// right away instead of waiting for the next dispatch tick, for operator
// tooling that wants compaction on demand.
func (c *Compactor) TriggerMinor() {
	c.dispatchMinor()
}

// TriggerMajor is TriggerMinor's major-compaction counterpart.
func (c *Compactor) TriggerMajor() {
	c.dispatchMajor()
}

// dispatchMinor submits one minor-compaction task per eligible segment
// to the worker pool.
func (c *Compactor) dispatchMinor() {
	for _, seg := range c.eligible(false) {
		seg := seg
		select {
		case c.tasks <- func() { c.runMinor(seg) }:
		default:
			c.logger.Debug("minor compaction queue full, skipping segment %d this tick", seg.ID())
		}
	}
}

// dispatchMajor submits one major-compaction task per eligible segment
// carrying a live tombstone.
func (c *Compactor) dispatchMajor() {
	for _, seg := range c.eligible(true) {
		seg := seg
		select {
		case c.tasks <- func() { c.runMajor(seg) }:
		default:
			c.logger.Debug("major compaction queue full, skipping segment %d this tick", seg.ID())
		}
	}
}

// runMinor rewrites seg keeping its live entries and any clean
// tombstone-kind entries (see rewrite), preserving their original indexes.
func (c *Compactor) runMinor(seg *segment.Segment) {
	taskID := uuid.NewString()
	c.logger.Info("minor compaction %s: segment %d (clean ratio %.2f)", taskID, seg.ID(), seg.CleanRatio())
	start := time.Now()

	out, err := c.rewrite(seg, taskID, false)
	if err != nil {
		c.logger.Warn("minor compaction %s failed: %v", taskID, err)
		metrics.CompactionFailures.WithLabelValues("minor", "rewrite").Inc()
		return
	}
	if err := c.log.Manager().Replace([]uint64{seg.ID()}, out); err != nil {
		c.logger.Warn("minor compaction %s install failed: %v", taskID, err)
		metrics.CompactionFailures.WithLabelValues("minor", "install").Inc()
		return
	}
	metrics.CompactionsRun.WithLabelValues("minor").Inc()
	metrics.CompactionDuration.WithLabelValues("minor").Observe(time.Since(start).Seconds())
}

// runMajor is the same rewrite as minor compaction but is the only path
// allowed to drop a clean Unregister tombstone. Minor compaction passes
// dropTombstones=false to rewrite and so always keeps tombstone-kind
// entries, even ones the cleaner has already marked clean; only major
// compaction actually removes them.
func (c *Compactor) runMajor(seg *segment.Segment) {
	taskID := uuid.NewString()
	c.logger.Info("major compaction %s: segment %d (clean ratio %.2f, tombstone present)", taskID, seg.ID(), seg.CleanRatio())
	start := time.Now()

	out, err := c.rewrite(seg, taskID, true)
	if err != nil {
		c.logger.Warn("major compaction %s failed: %v", taskID, err)
		metrics.CompactionFailures.WithLabelValues("major", "rewrite").Inc()
		return
	}
	if err := c.log.Manager().Replace([]uint64{seg.ID()}, out); err != nil {
		c.logger.Warn("major compaction %s install failed: %v", taskID, err)
		metrics.CompactionFailures.WithLabelValues("major", "install").Inc()
		return
	}
	metrics.CompactionsRun.WithLabelValues("major").Inc()
	metrics.CompactionDuration.WithLabelValues("major").Observe(time.Since(start).Seconds())
}

// rewrite builds a fresh segment containing only seg's entries that
// should survive: every live entry, plus, when dropTombstones is false,
// any clean tombstone-kind entry too. Only major compaction sets
// dropTombstones, since a tombstone needs every entry it shadows gone
// before it can safely disappear itself. The result is flushed and
// sealed but not installed; the caller splices it in via
// Manager.Replace under the write lock.
func (c *Compactor) rewrite(seg *segment.Segment, taskID string, dropTombstones bool) (*segment.Segment, error) {
	mgr := c.log.Manager()
	out, err := segment.CreateVersion(mgr.Dir(), mgr.Name(), seg.ID(), seg.Version()+1, seg.FirstIndex(),
		seg.EntryCount(), seg.ByteSize(), mgr.Level(), nil)
	if err != nil {
		return nil, fmt.Errorf("compaction %s: create rewrite target: %w", taskID, err)
	}

	first, count := seg.FirstIndex(), seg.EntryCount()
	for i := uint32(0); i < count; i++ {
		index := first + uint64(i)
		clean := seg.IsClean(index)
		if clean && dropTombstones {
			continue
		}
		e, ok, err := seg.Get(index)
		if err != nil {
			return nil, fmt.Errorf("compaction %s: read index %d: %w", taskID, index, err)
		}
		if !ok {
			continue
		}
		if clean && !e.Kind.Tombstone() {
			continue
		}
		e.Index = index
		if _, err := out.Append(e); err != nil {
			return nil, fmt.Errorf("compaction %s: append index %d: %w", taskID, index, err)
		}
	}
	if err := out.Seal(); err != nil {
		return nil, fmt.Errorf("compaction %s: seal rewrite target: %w", taskID, err)
	}
	return out, nil
}
