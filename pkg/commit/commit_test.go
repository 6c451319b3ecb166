package commit

import (
	"testing"
	"time"

	"github.com/downfa11-org/raftlog/pkg/entry"
)

func TestCommitCloseIsTerminal(t *testing.T) {
	tr := NewTracker(nil)
	c := tr.New(entry.Entry{Index: 1, Term: 1, Kind: entry.Command}, "", time.Now())
	if c.State() != StateOpen {
		t.Fatalf("state = %v, want open", c.State())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("state = %v, want closed", c.State())
	}
	if err := c.Close(); err == nil {
		t.Fatal("expected error closing an already-closed commit")
	}
	if err := c.Clean(); err == nil {
		t.Fatal("expected error cleaning an already-closed commit")
	}
}

func TestCommitTimeIsMonotonic(t *testing.T) {
	tr := NewTracker(nil)
	base := time.Now()
	c1 := tr.New(entry.Entry{Index: 1, Term: 1, Kind: entry.Command}, "", base)
	c2 := tr.New(entry.Entry{Index: 2, Term: 1, Kind: entry.Command}, "", base.Add(-time.Hour))
	if c2.Time.Before(c1.Time) {
		t.Fatalf("c2.Time %v is before c1.Time %v", c2.Time, c1.Time)
	}
	_ = c1.Close()
	_ = c2.Close()
}

func TestCommitAssignsSessionID(t *testing.T) {
	tr := NewTracker(nil)
	c := tr.New(entry.Entry{Index: 1, Term: 1, Kind: entry.Command}, "", time.Now())
	if c.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	_ = c.Close()
}

func TestTrackerOpenCount(t *testing.T) {
	tr := NewTracker(nil)
	c := tr.New(entry.Entry{Index: 1, Term: 1, Kind: entry.Command}, "", time.Now())
	if tr.OpenCount() != 1 {
		t.Fatalf("openCount = %d, want 1", tr.OpenCount())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.OpenCount() != 0 {
		t.Fatalf("openCount after close = %d, want 0", tr.OpenCount())
	}
}
