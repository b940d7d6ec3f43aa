package mapper

import (
	"testing"

	"github.com/snvd-io/device-generic-goldfish/allocator"
	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/gcerr"
	"github.com/snvd-io/device-generic-goldfish/metadata"
)

func importTestBuffer(t *testing.T, d allocator.Descriptor) (*Mapper, *Buffer) {
	t.Helper()
	h, conn := newTestHandle(t, d)
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	return m, b
}

// Dry-run reads (destBufferSize = 0) report the exact byte count the
// written form will then consume (spec.md §8).
func TestGetStandardMetadataDryRun(t *testing.T) {
	m, b := importTestBuffer(t, allocator.Descriptor{
		Width: 32, Height: 32, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead, Name: "dry",
	})

	n, err := m.GetStandardMetadata(b, metadata.Name, nil)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if n <= 0 {
		t.Fatalf("dry run size = %d, want > 0", n)
	}

	buf := make([]byte, n)
	n2, err := m.GetStandardMetadata(b, metadata.Name, buf)
	if err != nil {
		t.Fatalf("full read: %v", err)
	}
	if n2 != n {
		t.Fatalf("full read size = %d, want %d", n2, n)
	}

	r := metadata.NewReader(buf)
	if _, _, err := r.Header(); err != nil {
		t.Fatalf("Header: %v", err)
	}
	name, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if name != "dry" {
		t.Errorf("name = %q, want %q", name, "dry")
	}
}

func TestGetStandardMetadataWidthHeight(t *testing.T) {
	m, b := importTestBuffer(t, allocator.Descriptor{
		Width: 32, Height: 16, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})

	for _, tt := range []struct {
		typ  metadata.StandardType
		want int32
	}{
		{metadata.Width, 32},
		{metadata.Height, 16},
		{metadata.LayerCount, 1},
	} {
		n, err := m.GetStandardMetadata(b, tt.typ, nil)
		if err != nil {
			t.Fatalf("dry run %v: %v", tt.typ, err)
		}
		buf := make([]byte, n)
		if _, err := m.GetStandardMetadata(b, tt.typ, buf); err != nil {
			t.Fatalf("read %v: %v", tt.typ, err)
		}
		r := metadata.NewReader(buf)
		if _, _, err := r.Header(); err != nil {
			t.Fatalf("Header %v: %v", tt.typ, err)
		}
		got, err := r.ReadInt32()
		if err != nil {
			t.Fatalf("ReadInt32 %v: %v", tt.typ, err)
		}
		if got != tt.want {
			t.Errorf("%v = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

// scenario 6 from spec.md §8: YV12's three planes report (1,1), (2,2),
// (2,2) horizontal/vertical subsampling.
func TestGetStandardMetadataPlaneLayoutsYV12Subsampling(t *testing.T) {
	m, b := importTestBuffer(t, allocator.Descriptor{
		Width: 640, Height: 480, LayerCount: 1, Format: format.YV12, Usage: format.CPURead | format.CPUWrite,
	})

	n, err := m.GetStandardMetadata(b, metadata.PlaneLayouts, nil)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	buf := make([]byte, n)
	if _, err := m.GetStandardMetadata(b, metadata.PlaneLayouts, buf); err != nil {
		t.Fatalf("read: %v", err)
	}

	r := metadata.NewReader(buf)
	if _, _, err := r.Header(); err != nil {
		t.Fatalf("Header: %v", err)
	}
	planeCount, err := r.ReadInt32()
	if err != nil {
		t.Fatalf("ReadInt32(planeCount): %v", err)
	}
	if planeCount != 3 {
		t.Fatalf("planeCount = %d, want 3", planeCount)
	}

	wantSub := [3][2]int32{{1, 1}, {2, 2}, {2, 2}}
	for p := 0; p < 3; p++ {
		compCount, err := r.ReadInt32()
		if err != nil {
			t.Fatalf("plane %d compCount: %v", p, err)
		}
		for c := int32(0); c < compCount; c++ {
			if _, err := r.ReadInt32(); err != nil {
				t.Fatalf("plane %d comp %d type: %v", p, c, err)
			}
			if _, err := r.ReadInt64(); err != nil {
				t.Fatalf("plane %d comp %d offsetBits: %v", p, c, err)
			}
			if _, err := r.ReadInt64(); err != nil {
				t.Fatalf("plane %d comp %d sizeBits: %v", p, c, err)
			}
		}
		if _, err := r.ReadInt64(); err != nil { // offsetInBytes
			t.Fatalf("plane %d offsetInBytes: %v", p, err)
		}
		if _, err := r.ReadInt64(); err != nil { // sampleIncrementInBits
			t.Fatalf("plane %d sampleIncrementInBits: %v", p, err)
		}
		if _, err := r.ReadInt64(); err != nil { // strideInBytes
			t.Fatalf("plane %d strideInBytes: %v", p, err)
		}
		if _, err := r.ReadInt32(); err != nil { // widthInSamples
			t.Fatalf("plane %d widthInSamples: %v", p, err)
		}
		if _, err := r.ReadInt32(); err != nil { // heightInSamples
			t.Fatalf("plane %d heightInSamples: %v", p, err)
		}
		if _, err := r.ReadInt64(); err != nil { // totalSizeInBytes
			t.Fatalf("plane %d totalSizeInBytes: %v", p, err)
		}
		hSub, err := r.ReadInt32()
		if err != nil {
			t.Fatalf("plane %d horizontalSubsampling: %v", p, err)
		}
		vSub, err := r.ReadInt32()
		if err != nil {
			t.Fatalf("plane %d verticalSubsampling: %v", p, err)
		}
		if hSub != wantSub[p][0] || vSub != wantSub[p][1] {
			t.Errorf("plane %d subsampling = (%d,%d), want (%d,%d)", p, hSub, vSub, wantSub[p][0], wantSub[p][1])
		}
	}
}

func TestSetStandardMetadataDataspaceRoundTrip(t *testing.T) {
	m, b := importTestBuffer(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})

	w := metadata.NewWriter(metadata.Dataspace)
	w.WriteInt32(42)
	if err := m.SetStandardMetadata(b, metadata.Dataspace, w.Bytes()); err != nil {
		t.Fatalf("SetStandardMetadata: %v", err)
	}

	n, err := m.GetStandardMetadata(b, metadata.Dataspace, nil)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	buf := make([]byte, n)
	if _, err := m.GetStandardMetadata(b, metadata.Dataspace, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	r := metadata.NewReader(buf)
	r.Header()
	got, err := r.ReadInt32()
	if err != nil {
		t.Fatalf("ReadInt32: %v", err)
	}
	if got != 42 {
		t.Errorf("dataspace = %d, want 42", got)
	}
}

func TestSetStandardMetadataUnsupportedType(t *testing.T) {
	m, b := importTestBuffer(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})
	w := metadata.NewWriter(metadata.Width)
	w.WriteInt32(8)
	if err := m.SetStandardMetadata(b, metadata.Width, w.Bytes()); gcerr.CodeOf(err) != gcerr.Unsupported {
		t.Fatalf("CodeOf(err) = %v, want Unsupported", gcerr.CodeOf(err))
	}
}

func TestSetStandardMetadataSMPTE2086ClearWithEmptyPayload(t *testing.T) {
	m, b := importTestBuffer(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})

	w := metadata.NewWriter(metadata.SMPTE2086)
	w.WriteBool(true)
	w.WriteFloat32(0.640)
	w.WriteFloat32(0.330)
	w.WriteFloat32(0.300)
	w.WriteFloat32(0.600)
	w.WriteFloat32(0.150)
	w.WriteFloat32(0.060)
	w.WriteFloat32(0.3127)
	w.WriteFloat32(0.3290)
	w.WriteFloat32(1000)
	w.WriteFloat32(0.01)
	if err := m.SetStandardMetadata(b, metadata.SMPTE2086, w.Bytes()); err != nil {
		t.Fatalf("SetStandardMetadata: %v", err)
	}
	if !b.hasSMPTE2086 {
		t.Fatal("expected hasSMPTE2086 to be set")
	}

	if err := m.SetStandardMetadata(b, metadata.SMPTE2086, nil); err != nil {
		t.Fatalf("SetStandardMetadata(clear): %v", err)
	}
	if b.hasSMPTE2086 {
		t.Fatal("expected hasSMPTE2086 to be cleared")
	}
}

func TestListSupportedMetadataTypes(t *testing.T) {
	if len(ListSupportedMetadataTypes()) != len(metadata.All) {
		t.Fatalf("got %d types, want %d", len(ListSupportedMetadataTypes()), len(metadata.All))
	}
}

func TestDumpAllBuffers(t *testing.T) {
	m, b := importTestBuffer(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead, Name: "dump-me",
	})
	_ = b
	out, err := m.DumpAllBuffers()
	if err != nil {
		t.Fatalf("DumpAllBuffers: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty dump output")
	}
}
