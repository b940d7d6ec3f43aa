package format

import "testing"

func TestLookupRGBA8888(t *testing.T) {
	l, err := Lookup(RGBA8888, 1920, 1080, GPUTexture|CPURead|CPUWrite)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if l.Stride != 1920 {
		t.Errorf("stride = %d, want 1920", l.Stride)
	}
	if got, want := l.BufferSize, int64(1920*1080*4); got != want {
		t.Errorf("bufferSize = %d, want %d", got, want)
	}
	if l.DRMFourCC != fourccABGR8888 {
		t.Errorf("drmFourCC = %#x, want ABGR8888", l.DRMFourCC)
	}
	if l.GLFormat != glRGBA || l.GLType != glUnsignedByte {
		t.Errorf("unexpected GL format/type: %d/%d", l.GLFormat, l.GLType)
	}
}

func TestLookupYV12(t *testing.T) {
	l, err := Lookup(YV12, 640, 480, CPURead|CPUWrite)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(l.Planes) != 3 {
		t.Fatalf("planes = %d, want 3", len(l.Planes))
	}
	if l.Planes[0].StrideInBytes != 640 {
		t.Errorf("plane0 stride = %d, want 640", l.Planes[0].StrideInBytes)
	}
	if l.Planes[1].StrideInBytes != 320 || l.Planes[2].StrideInBytes != 320 {
		t.Errorf("chroma strides = %d,%d, want 320,320", l.Planes[1].StrideInBytes, l.Planes[2].StrideInBytes)
	}
	if want := int64(640 * 480); l.Planes[1].OffsetInBytes != want {
		t.Errorf("plane1 offset = %d, want %d", l.Planes[1].OffsetInBytes, want)
	}
	// Y/CR/CB order per spec.md scenario 2.
	c0 := l.Components[l.Planes[0].ComponentsBase]
	c1 := l.Components[l.Planes[1].ComponentsBase]
	c2 := l.Components[l.Planes[2].ComponentsBase]
	if c0.Type != CompY || c1.Type != CompCr || c2.Type != CompCb {
		t.Errorf("component order = %v,%v,%v, want Y,CR,CB", c0.Type, c1.Type, c2.Type)
	}
}

func TestLookupBlobRejectsGPU(t *testing.T) {
	if _, err := Lookup(BLOB, 256, 256, GPUTexture); err == nil {
		t.Fatal("expected error for BLOB + GPU_TEXTURE")
	}
}

func TestLookupUnknownFormat(t *testing.T) {
	if _, err := Lookup(PixelFormat(0xDEAD), 1, 1, 0); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestReservedBitSet(t *testing.T) {
	if !ReservedBitSet(1 << 10) {
		t.Error("bit 10 should be reserved")
	}
	if !ReservedBitSet(1 << 13) {
		t.Error("bit 13 should be reserved")
	}
	if ReservedBitSet(CPURead | CPUWrite | GPUTexture) {
		t.Error("ordinary usage bits flagged as reserved")
	}
}
