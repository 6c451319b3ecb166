// Package raftstore adapts the log engine to hashicorp/raft's LogStore
// and StableStore interfaces, so an existing Raft implementation can use
// this storage engine without any change to its own code.
package raftstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"

	"github.com/downfa11-org/raftlog/pkg/entry"
	"github.com/downfa11-org/raftlog/pkg/metastore"
	"github.com/downfa11-org/raftlog/pkg/rerr"
	"github.com/downfa11-org/raftlog/pkg/rlog"
)

// LogStore implements raft.LogStore over a *rlog.Log.
type LogStore struct {
	log *rlog.Log
}

func NewLogStore(log *rlog.Log) *LogStore {
	return &LogStore{log: log}
}

var _ raft.LogStore = (*LogStore)(nil)

func (s *LogStore) FirstIndex() (uint64, error) {
	return s.log.FirstIndex(), nil
}

func (s *LogStore) LastIndex() (uint64, error) {
	return s.log.LastIndex(), nil
}

func (s *LogStore) GetLog(index uint64, out *raft.Log) error {
	e, ok, err := s.log.Get(index)
	if err != nil {
		return fmt.Errorf("raftstore: get log %d: %w", index, err)
	}
	if !ok {
		return raft.ErrLogNotFound
	}
	rec, err := decodeRecord(e.Payload)
	if err != nil {
		return fmt.Errorf("raftstore: decode log %d: %w", index, err)
	}
	out.Index = e.Index
	out.Term = e.Term
	out.Type = rec.Type
	out.Data = rec.Data
	out.Extensions = rec.Extensions
	out.AppendedAt = rec.AppendedAt
	return nil
}

func (s *LogStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

func (s *LogStore) StoreLogs(logs []*raft.Log) error {
	for _, l := range logs {
		payload, err := encodeRecord(record{
			Type: l.Type, Data: l.Data, Extensions: l.Extensions, AppendedAt: l.AppendedAt,
		})
		if err != nil {
			return fmt.Errorf("raftstore: encode log %d: %w", l.Index, err)
		}
		e := entry.Entry{Index: l.Index, Term: l.Term, Kind: kindFor(l.Type), Payload: payload}
		if err := s.log.AppendAt(e); err != nil {
			return fmt.Errorf("raftstore: store log %d: %w", l.Index, err)
		}
	}
	return nil
}

func (s *LogStore) DeleteRange(min, max uint64) error {
	if max < s.log.LastIndex() {
		return fmt.Errorf("raftstore: delete range [%d,%d] does not cover the suffix: %w", min, max, rerr.ErrOutOfRange)
	}
	return s.log.Truncate(min)
}

func kindFor(t raft.LogType) entry.Kind {
	switch t {
	case raft.LogCommand:
		return entry.Command
	case raft.LogNoop:
		return entry.NoOp
	case raft.LogConfiguration:
		return entry.Configuration
	default:
		// Barrier and the deprecated peer-change types carry no
		// semantics this log needs to distinguish; round-trip them
		// faithfully via the record envelope instead (rec.Type).
		return entry.Command
	}
}

type record struct {
	Type       raft.LogType
	Data       []byte
	Extensions []byte
	AppendedAt time.Time
}

func encodeRecord(r record) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(payload []byte) (record, error) {
	var r record
	dec := codec.NewDecoder(bytes.NewReader(payload), &codec.MsgpackHandle{})
	if err := dec.Decode(&r); err != nil {
		return record{}, err
	}
	return r, nil
}

// StableStore implements raft.StableStore over a *metastore.Store. The
// CurrentTerm key, when set or read through SetUint64/GetUint64, is routed
// to the structured CurrentTerm field; every other key, including
// LastVoteCand, goes through Extra.
type StableStore struct {
	meta *metastore.Store
}

func NewStableStore(meta *metastore.Store) *StableStore {
	return &StableStore{meta: meta}
}

var _ raft.StableStore = (*StableStore)(nil)

const (
	keyCurrentTerm = "CurrentTerm"
	keyLastVoteCand = "LastVoteCand"
)

func (s *StableStore) Set(key []byte, val []byte) error {
	return s.meta.SetExtra(string(key), val)
}

func (s *StableStore) Get(key []byte) ([]byte, error) {
	v, ok := s.meta.GetExtra(string(key))
	if !ok {
		return nil, fmt.Errorf("raftstore: key %q not found: %w", key, rerr.ErrOutOfRange)
	}
	return v, nil
}

func (s *StableStore) SetUint64(key []byte, val uint64) error {
	if string(key) == keyCurrentTerm {
		snap := s.meta.Snapshot()
		return s.meta.SetTermAndVote(val, snap.VotedFor)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], val)
	return s.meta.SetExtra(string(key), buf[:])
}

func (s *StableStore) GetUint64(key []byte) (uint64, error) {
	if string(key) == keyCurrentTerm {
		return s.meta.Snapshot().CurrentTerm, nil
	}
	v, ok := s.meta.GetExtra(string(key))
	if !ok || len(v) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v), nil
}

// unused but documents the vote-candidate key this store also recognizes
// via SetExtra/Set from raft's own LastVoteCand bookkeeping path.
var _ = keyLastVoteCand
