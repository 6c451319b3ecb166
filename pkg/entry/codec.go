package entry

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// HeaderSize is the number of framing bytes preceding the payload:
// length(4) + typeId(2) + reserved(2) + term(8).
const HeaderSize = 4 + 2 + 2 + 8

// TrailerSize is the CRC32C trailer appended after the payload.
const TrailerSize = 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Encode frames one entry as:.
//	u32 length | u16 typeId | u16 reserved | u64 term | bytes payload | u32 crc32c.
// length counts the typeId/reserved/term/payload bytes (everything between
// the length field and the CRC). The Entry's Index is never written to the
// frame: it is reconstructed by the segment from the record's relative
// position plus the segment's firstIndex.
func Encode(e Entry) []byte {
	body := HeaderSize - 4 + len(e.Payload)
	buf := make([]byte, 4+body+TrailerSize)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(body))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(e.Kind))
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], e.Term)
	copy(buf[16:16+len(e.Payload)], e.Payload)

	crc := crc32.Checksum(buf[0:16+len(e.Payload)], crc32cTable)
	binary.LittleEndian.PutUint32(buf[16+len(e.Payload):], crc)
	return buf
}

// FrameSize returns the total on-disk size of e once encoded.
func FrameSize(e Entry) int {
	return 4 + (HeaderSize - 4) + len(e.Payload) + TrailerSize
}

// Decode parses one framed record out of buf, which must contain at least
// the frame (buf may be longer; only the frame prefix is consumed). It
// returns the entry (Index left zero — the caller fills it in from the
// segment's relative offset) and the total number of bytes consumed.
// A length field that would run past buf, or a CRC mismatch, reports
// ErrShortOrCorrupt so callers can distinguish "need more bytes" (tail
// still being written) from "definitely bad" only by re-checking length
// against the file size; see segment.Segment for that policy.
func Decode(buf []byte) (Entry, int, error) {
	if len(buf) < 4 {
		return Entry{}, 0, ErrShortOrCorrupt
	}
	body := int(binary.LittleEndian.Uint32(buf[0:4]))
	total := 4 + body + TrailerSize
	if body < HeaderSize-4 || total < 0 || len(buf) < total {
		return Entry{}, 0, ErrShortOrCorrupt
	}

	typeID := binary.LittleEndian.Uint16(buf[4:6])
	term := binary.LittleEndian.Uint64(buf[8:16])
	payload := buf[16 : 4+body]

	wantCRC := binary.LittleEndian.Uint32(buf[4+body : total])
	gotCRC := crc32.Checksum(buf[0:4+body], crc32cTable)
	if wantCRC != gotCRC {
		return Entry{}, 0, ErrShortOrCorrupt
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return Entry{Term: term, Kind: Kind(typeID), Payload: out}, total, nil
}

// ErrShortOrCorrupt is returned by Decode when the buffer doesn't contain a
// full, checksum-valid frame. Segment recovery treats this as end-of-tail
// for the active segment and as rerr.ErrCorruptSegment for a sealed one.
var ErrShortOrCorrupt = fmt.Errorf("entry: short or corrupt frame")
