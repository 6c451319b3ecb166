package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/downfa11-org/raftlog/pkg/rerr"
)

// Magic identifies a segment file. Its hex digits spell "COPYCAT " in ASCII
// (most significant byte first), a nod to the consensus engine this format
// is descended from; Marshal writes it little-endian, so the first 8 bytes
// of the file read " TACYPOC".
const Magic uint64 = 0x434F505943415420

// FormatVersion is the on-disk descriptor layout version.
const FormatVersion uint16 = 1

// DescriptorSize is the fixed size of a segment header, in bytes.
const DescriptorSize = 64

// MaxEntriesCap bounds MaxEntries: the descriptor's MaxEntries field is a
// uint32, but this caps well below that to keep a single segment's offset
// index a reasonable size to scan and mmap.
const MaxEntriesCap = 1 << 20

const flagSealed = uint16(1) << 0

// Descriptor is the fixed-size header written at segment file offset 0.
type Descriptor struct {
	FormatVersion  uint16
	Sealed         bool
	ID             uint64
	SegmentVersion uint32
	FirstIndex     uint64
	MaxEntries     uint32
	MaxBytes       uint32
	UpdatedMillis  uint64
}

// Marshal encodes d into the 64-byte on-disk layout (little-endian):.
//	magic:u64 formatVersion:u16 flags:u16 id:u64 segmentVersion:u32
//	firstIndex:u64 maxEntries:u32 maxBytes:u32 updatedMillis:u64
//	reserved:[12]byte crc32:u32
func (d Descriptor) Marshal() [DescriptorSize]byte {
	var buf [DescriptorSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], Magic)
	binary.LittleEndian.PutUint16(buf[8:10], d.FormatVersion)

	var flags uint16
	if d.Sealed {
		flags |= flagSealed
	}
	binary.LittleEndian.PutUint16(buf[10:12], flags)

	binary.LittleEndian.PutUint64(buf[12:20], d.ID)
	binary.LittleEndian.PutUint32(buf[20:24], d.SegmentVersion)
	binary.LittleEndian.PutUint64(buf[24:32], d.FirstIndex)
	binary.LittleEndian.PutUint32(buf[32:36], d.MaxEntries)
	binary.LittleEndian.PutUint32(buf[36:40], d.MaxBytes)
	binary.LittleEndian.PutUint64(buf[40:48], d.UpdatedMillis)
	// buf[48:60] reserved, left zero.

	crc := crc32.ChecksumIEEE(buf[0:60])
	binary.LittleEndian.PutUint32(buf[60:64], crc)
	return buf
}

// UnmarshalDescriptor validates and decodes a 64-byte header.
func UnmarshalDescriptor(buf []byte) (Descriptor, error) {
	if len(buf) < DescriptorSize {
		return Descriptor{}, fmt.Errorf("descriptor: short buffer (%d bytes): %w", len(buf), rerr.ErrCorruptSegment)
	}
	magic := binary.LittleEndian.Uint64(buf[0:8])
	if magic != Magic {
		return Descriptor{}, fmt.Errorf("descriptor: bad magic %x: %w", magic, rerr.ErrCorruptSegment)
	}

	gotCRC := binary.LittleEndian.Uint32(buf[60:64])
	wantCRC := crc32.ChecksumIEEE(buf[0:60])
	if gotCRC != wantCRC {
		return Descriptor{}, fmt.Errorf("descriptor: crc mismatch: %w", rerr.ErrCorruptSegment)
	}

	flags := binary.LittleEndian.Uint16(buf[10:12])
	return Descriptor{
		FormatVersion:  binary.LittleEndian.Uint16(buf[8:10]),
		Sealed:         flags&flagSealed != 0,
		ID:             binary.LittleEndian.Uint64(buf[12:20]),
		SegmentVersion: binary.LittleEndian.Uint32(buf[20:24]),
		FirstIndex:     binary.LittleEndian.Uint64(buf[24:32]),
		MaxEntries:     binary.LittleEndian.Uint32(buf[32:36]),
		MaxBytes:       binary.LittleEndian.Uint32(buf[36:40]),
		UpdatedMillis:  binary.LittleEndian.Uint64(buf[40:48]),
	}, nil
}
