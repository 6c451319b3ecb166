// Package commit implements the reference-counted handle a state machine
// uses to acknowledge it has applied one log entry (C7).
package commit

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/downfa11-org/raftlog/pkg/cleaner"
	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/metrics"
	"github.com/downfa11-org/raftlog/pkg/rerr"
	"github.com/downfa11-org/raftlog/util"
)

// State is one of a Commit's three states. Open is the only non-terminal
// one; a Commit may move to exactly one of Closed or Cleaned, never both,
// and never back to Open.
type State int

const (
	StateOpen State = iota
	StateClosed
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// Commit is a live view of one applied entry, handed to the state machine
// and released exactly once. SessionID identifies the client
// session the entry belongs to, mirroring Copycat's Commit abstraction.
type Commit struct {
	mu    sync.Mutex
	state State

	Index     uint64
	Term      uint64
	Kind      entry.Kind
	Payload   []byte
	SessionID string
	Time      time.Time

	tracker *Tracker
	cleanr  *cleaner.Cleaner
}

// Close releases the commit without marking its entry clean: the state
// machine applied it but some other mechanism (e.g. a later snapshot)
// will reclaim the log space. Any call after the first termination (Close
// or Clean) returns rerr.ErrInvalidState.
func (c *Commit) Close() error {
	return c.terminate(StateClosed, nil)
}

// Clean releases the commit and marks its entry clean via the cleaner,
// making it eligible for compaction.
func (c *Commit) Clean() error {
	return c.terminate(StateCleaned, func() error {
		if c.cleanr == nil {
			return nil
		}
		return c.cleanr.Clean(c.Index)
	})
}

func (c *Commit) terminate(to State, after func() error) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return fmt.Errorf("commit: index %d already %s: %w", c.Index, c.state, rerr.ErrInvalidState)
	}
	c.state = to
	c.mu.Unlock()

	if c.tracker != nil {
		c.tracker.release(c)
	}
	runtime.SetFinalizer(c, nil)
	if after != nil {
		return after()
	}
	return nil
}

// State reports the commit's current lifecycle state.
func (c *Commit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tracker issues Commits, clamps their timestamps to be monotonic across
// the whole log "), and
// counts outstanding handles so a leaked Commit (one GC'd while still
// Open) is logged rather than silently lost.
type Tracker struct {
	cleanr *cleaner.Cleaner

	mu       sync.Mutex
	lastTime time.Time

	open int64 // atomic counter of live, unterminated commits
	leaked int64

	logger interface {
		Warn(string, ...interface{})
		Debug(string, ...interface{})
	}
}

func NewTracker(cleanr *cleaner.Cleaner) *Tracker {
	return &Tracker{cleanr: cleanr, logger: util.Named("commit")}
}

// New issues a Commit for e, clamping rawTime to be no earlier than the
// last timestamp this tracker has issued.
func (t *Tracker) New(e entry.Entry, sessionID string, rawTime time.Time) *Commit {
	t.mu.Lock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if rawTime.Before(t.lastTime) {
		rawTime = t.lastTime
	}
	t.lastTime = rawTime
	t.mu.Unlock()

	c := &Commit{
		state: StateOpen, Index: e.Index, Term: e.Term, Kind: e.Kind,
		Payload: e.Payload, SessionID: sessionID, Time: rawTime,
		tracker: t, cleanr: t.cleanr,
	}
	atomic.AddInt64(&t.open, 1)
	metrics.CommitsOpen.Set(float64(atomic.LoadInt64(&t.open)))
	runtime.SetFinalizer(c, (*Commit).finalize)
	return c
}

func (c *Commit) finalize() {
	c.mu.Lock()
	leaked := c.state == StateOpen
	c.mu.Unlock()
	if leaked && c.tracker != nil {
		atomic.AddInt64(&c.tracker.leaked, 1)
		metrics.CommitsLeaked.Inc()
		c.tracker.logger.Warn("commit for index %d garbage collected while still open (leaked)", c.Index)
	}
}

func (t *Tracker) release(c *Commit) {
	atomic.AddInt64(&t.open, -1)
	metrics.CommitsOpen.Set(float64(atomic.LoadInt64(&t.open)))
}

// OpenCount and LeakedCount expose the leak-detection counters.
func (t *Tracker) OpenCount() int64   { return atomic.LoadInt64(&t.open) }
func (t *Tracker) LeakedCount() int64 { return atomic.LoadInt64(&t.leaked) }
