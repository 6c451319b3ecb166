// Package metastore persists the small tuple of control-state that must
// survive a restart independent of the log itself (C5).
package metastore

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/downfa11-org/raftlog/util"
)

// State is the persisted tuple holding the current Raft term and
// vote, plus the index/term of the most recent snapshot installed.
type State struct {
	CurrentTerm       uint64
	VotedFor          string
	LastSnapshotIndex uint64
	LastSnapshotTerm  uint64

	// Extra carries arbitrary key/value pairs so this file can also back
	// hashicorp/raft's StableStore, whose key set is not limited to the
	// four fields above.
	Extra map[string][]byte
}

// Store guards State with a rename-into-place write path
// (util.AtomicReplace), the same one the segment clean bitsets use.
type Store struct {
	path string
	mu   sync.RWMutex
	st   State

	logger interface {
		Debug(string, ...interface{})
	}
}

// Open loads path if it exists, or starts from a zero State.
func Open(path string) (*Store, error) {
	s := &Store{path: path, logger: util.Named("metastore")}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.st.Extra = map[string][]byte{}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: read %s: %w", path, err)
	}
	var st State
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle())
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("metastore: decode %s: %w", path, err)
	}
	if st.Extra == nil {
		st.Extra = map[string][]byte{}
	}
	s.st = st
	return s, nil
}

func msgpackHandle() *codec.MsgpackHandle {
	return &codec.MsgpackHandle{}
}

func (s *Store) save() error {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle())
	if err := enc.Encode(s.st); err != nil {
		return fmt.Errorf("metastore: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("metastore: write %s: %w", tmp, err)
	}
	if err := util.AtomicReplace(tmp, s.path); err != nil {
		return fmt.Errorf("metastore: install %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.st
	cp.Extra = make(map[string][]byte, len(s.st.Extra))
	for k, v := range s.st.Extra {
		cp.Extra[k] = append([]byte(nil), v...)
	}
	return cp
}

// SetTermAndVote persists CurrentTerm and VotedFor together, the pair
// Raft always updates atomically on a vote grant.
func (s *Store) SetTermAndVote(term uint64, votedFor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.CurrentTerm, s.st.VotedFor = term, votedFor
	return s.save()
}

func (s *Store) SetLastSnapshot(index, term uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastSnapshotIndex, s.st.LastSnapshotTerm = index, term
	return s.save()
}

// SetExtra stores an arbitrary key, used by the raftstore StableStore
// adapter for keys outside the structured tuple.
func (s *Store) SetExtra(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Extra == nil {
		s.st.Extra = map[string][]byte{}
	}
	s.st.Extra[key] = append([]byte(nil), value...)
	return s.save()
}

func (s *Store) GetExtra(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.st.Extra[key]
	return v, ok
}
