// Package cleaner implements the per-entry cleanliness bookkeeping (C4)
// that feeds the compactor's eligibility decisions.
package cleaner

import (
	"fmt"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/rerr"
	"github.com/downfa11-org/raftlog/pkg/rlog"
	"github.com/downfa11-org/raftlog/util"
)

// Cleaner marks entries as no longer needed by the state machine, without
// physically removing them; physical removal is the compactor's job.
type Cleaner struct {
	log    *rlog.Log
	logger interface {
		Debug(string, ...interface{})
	}
}

func New(log *rlog.Log) *Cleaner {
	return &Cleaner{log: log, logger: util.Named("cleaner")}
}

// Clean marks index as clean. Safe to call more than once for the same
// index.
func (c *Cleaner) Clean(index uint64) error {
	seg, ok := c.log.Manager().SegmentFor(index)
	if !ok {
		return fmt.Errorf("cleaner: clean %d: %w", index, rerr.ErrOutOfRange)
	}
	if err := seg.MarkClean(index); err != nil {
		return fmt.Errorf("cleaner: clean %d: %w", index, err)
	}
	c.logger.Debug("marked index %d clean in segment %d", index, seg.ID())
	return nil
}

// CleanRange marks every index in [from, to] clean and returns how many
// were newly touched (entries that were already clean, or missing because
// they were already compacted away, are skipped without error).
func (c *Cleaner) CleanRange(from, to uint64) (int, error) {
	var n int
	for i := from; i <= to; i++ {
		seg, ok := c.log.Manager().SegmentFor(i)
		if !ok {
			continue
		}
		if seg.IsClean(i) {
			continue
		}
		if err := seg.MarkClean(i); err != nil {
			return n, fmt.Errorf("cleaner: clean range at %d: %w", i, err)
		}
		n++
	}
	return n, nil
}

// IsClean reports whether index has been marked clean.
func (c *Cleaner) IsClean(index uint64) bool {
	seg, ok := c.log.Manager().SegmentFor(index)
	if !ok {
		return false
	}
	return seg.IsClean(index)
}

// HasLiveTombstone reports whether seg still holds a live Unregister
// entry, which forces major rather than minor compaction to reclaim it.
func (c *Cleaner) HasLiveTombstone(segID uint64) bool {
	for _, seg := range c.log.Manager().All() {
		if seg.ID() != segID {
			continue
		}
		return seg.HasLiveTombstone(func(idx uint64) (entry.Kind, bool) {
			e, ok, err := c.log.Get(idx)
			if err != nil || !ok {
				return 0, false
			}
			return e.Kind, true
		})
	}
	return false
}
