package metadata

import (
	"testing"

	"github.com/snvd-io/device-generic-goldfish/format"
)

func TestRecordRoundTrip(t *testing.T) {
	layout, err := format.Lookup(format.RGBA8888, 1920, 1080, format.GPUTexture)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	rec := NewRecord(42, layout, 1920, 1080, "fb", 64)

	b, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if int64(len(b))%16 != 0 {
		t.Errorf("encoded size %d not 16-byte aligned", len(b))
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Magic != Magic {
		t.Errorf("magic = %#x, want %#x", got.Magic, Magic)
	}
	if got.BufferID != 42 {
		t.Errorf("bufferID = %d, want 42", got.BufferID)
	}
	if got.NameString() != "fb" {
		t.Errorf("name = %q, want fb", got.NameString())
	}
	if got.ReservedRegionSize != 64 {
		t.Errorf("reservedRegionSize = %d, want 64", got.ReservedRegionSize)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	rec := NewRecord(1, format.Layout{}, 1, 1, "", 0)
	b, _ := rec.Encode()
	b[0] ^= 0xFF
	if _, err := Decode(b); err == nil {
		t.Fatal("expected error on bad magic")
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, 4)); err == nil {
		t.Fatal("expected error on short buffer")
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(Width)
	w.WriteInt32(640)
	b := w.Bytes()

	r := NewReader(b)
	tag, typ, err := r.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if tag != Tag {
		t.Errorf("tag = %q, want %q", tag, Tag)
	}
	if typ != Width {
		t.Errorf("type = %v, want Width", typ)
	}
	v, err := r.ReadInt32()
	if err != nil {
		t.Fatalf("ReadInt32: %v", err)
	}
	if v != 640 {
		t.Errorf("value = %d, want 640", v)
	}
}
