package metastore

import (
	"path/filepath"
	"testing"
)

func TestMetastorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.meta")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetTermAndVote(5, "node-1"); err != nil {
		t.Fatalf("set term/vote: %v", err)
	}
	if err := s.SetLastSnapshot(100, 4); err != nil {
		t.Fatalf("set snapshot: %v", err)
	}
	if err := s.SetExtra("LastVoteCand", []byte("node-1")); err != nil {
		t.Fatalf("set extra: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Snapshot()
	if got.CurrentTerm != 5 || got.VotedFor != "node-1" {
		t.Fatalf("unexpected term/vote: %+v", got)
	}
	if got.LastSnapshotIndex != 100 || got.LastSnapshotTerm != 4 {
		t.Fatalf("unexpected snapshot fields: %+v", got)
	}
	if v, ok := reopened.GetExtra("LastVoteCand"); !ok || string(v) != "node-1" {
		t.Fatalf("unexpected extra: %v %v", v, ok)
	}
}

func TestMetastoreStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "missing.meta"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got := s.Snapshot()
	if got.CurrentTerm != 0 || got.VotedFor != "" {
		t.Fatalf("expected zero state, got %+v", got)
	}
}
