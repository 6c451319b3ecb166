package segment

import "testing"

func TestDescriptorRoundTrip(t *testing.T) {
	d := Descriptor{
		FormatVersion: FormatVersion, Sealed: true, ID: 7, SegmentVersion: 2,
		FirstIndex: 1001, MaxEntries: 4096, MaxBytes: 1 << 20, UpdatedMillis: 123456789,
	}
	buf := d.Marshal()
	if len(buf) != DescriptorSize {
		t.Fatalf("marshaled size = %d, want %d", len(buf), DescriptorSize)
	}
	got, err := UnmarshalDescriptor(buf[:])
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestDescriptorBadMagic(t *testing.T) {
	var buf [DescriptorSize]byte
	if _, err := UnmarshalDescriptor(buf[:]); err == nil {
		t.Fatal("expected error on zeroed buffer")
	}
}

func TestDescriptorCorruptCRC(t *testing.T) {
	d := Descriptor{FormatVersion: FormatVersion, ID: 1, FirstIndex: 1, MaxEntries: 10, MaxBytes: 100}
	buf := d.Marshal()
	buf[12] ^= 0xFF
	if _, err := UnmarshalDescriptor(buf[:]); err == nil {
		t.Fatal("expected crc mismatch error")
	}
}
