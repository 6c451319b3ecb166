package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/downfa11-org/raftlog/util"
)

const offsetEntrySize = 4 // one u32 fileOffset per relative index

// offsetIndex is the in-memory mapping relativeOffset -> fileOffset for
// every entry in a segment. It is persisted as a flat array of
// little-endian u32 file offsets, one per relative index, so that
// relativeOffset is simply the slice position.
type offsetIndex struct {
	path   string
	offs   []uint32 // authoritative in-memory mapping
	file   *os.File // open for append while the owning segment is writable
	writer *bufio.Writer
	log    interface{ Debug(string, ...interface{}) }
}

func newOffsetIndex(path string) *offsetIndex {
	return &offsetIndex{path: path, log: util.Named("segment")}
}

// openWritable creates or appends-opens the index file for a tail segment.
func (o *offsetIndex) openWritable() error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open offset index %s: %w", o.path, err)
	}
	o.file = f
	o.writer = bufio.NewWriter(f)
	return nil
}

// load reads the full persisted index into memory, via a read-only mmap
// (golang.org/x/exp/mmap), truncating at
// the first short/trailing-garbage entry so a torn write to the index
// never produces a bogus fileOffset.
func (o *offsetIndex) load() error {
	info, err := os.Stat(o.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat offset index %s: %w", o.path, err)
	}

	n := int(info.Size()) / offsetEntrySize
	if n == 0 {
		return nil
	}

	r, err := mmap.Open(o.path)
	if err != nil {
		return fmt.Errorf("mmap open offset index %s: %w", o.path, err)
	}
	defer r.Close()

	offs := make([]uint32, 0, n)
	buf := make([]byte, offsetEntrySize)
	for i := 0; i < n; i++ {
		if _, err := r.ReadAt(buf, int64(i*offsetEntrySize)); err != nil {
			o.log.Debug("offset index truncated at entry %d of %s: %v", i, o.path, err)
			break
		}
		offs = append(offs, binary.LittleEndian.Uint32(buf))
	}
	o.offs = offs
	return nil
}

// rebuild discards whatever was loaded and repopulates offs from a fresh
// slice the segment's body scan produced (used on the TornTail / corrupt
// index recovery paths).
func (o *offsetIndex) rebuild(offs []uint32) {
	o.offs = append(o.offs[:0], offs...)
}

func (o *offsetIndex) count() uint32 {
	return uint32(len(o.offs))
}

func (o *offsetIndex) get(rel uint32) (uint32, bool) {
	if int(rel) >= len(o.offs) {
		return 0, false
	}
	return o.offs[rel], true
}

// append records the file offset of the entry at the next relative
// position and persists it if the index is open for writing.
func (o *offsetIndex) append(fileOffset uint32) error {
	o.offs = append(o.offs, fileOffset)
	if o.writer == nil {
		return nil
	}
	var buf [offsetEntrySize]byte
	binary.LittleEndian.PutUint32(buf[:], fileOffset)
	if _, err := o.writer.Write(buf[:]); err != nil {
		return fmt.Errorf("append offset index %s: %w", o.path, err)
	}
	return nil
}

// truncate drops in-memory and on-disk entries beyond keep (tail only).
func (o *offsetIndex) truncate(keep uint32) error {
	if int(keep) < len(o.offs) {
		o.offs = o.offs[:keep]
	}
	if o.file == nil {
		return nil
	}
	if o.writer != nil {
		if err := o.writer.Flush(); err != nil {
			return fmt.Errorf("flush offset index before truncate: %w", err)
		}
	}
	if err := o.file.Truncate(int64(keep) * offsetEntrySize); err != nil {
		return fmt.Errorf("truncate offset index %s: %w", o.path, err)
	}
	if _, err := o.file.Seek(0, os.SEEK_END); err != nil {
		return fmt.Errorf("seek offset index %s: %w", o.path, err)
	}
	o.writer = bufio.NewWriter(o.file)
	return nil
}

func (o *offsetIndex) flush() error {
	if o.writer == nil {
		return nil
	}
	if err := o.writer.Flush(); err != nil {
		return fmt.Errorf("flush offset index %s: %w", o.path, err)
	}
	return util.FsyncFile(o.file)
}

func (o *offsetIndex) close() error {
	if o.file == nil {
		return nil
	}
	if err := o.flush(); err != nil {
		return err
	}
	err := o.file.Close()
	o.file = nil
	o.writer = nil
	return err
}
