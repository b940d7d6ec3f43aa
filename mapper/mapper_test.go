package mapper

import (
	"testing"

	"github.com/snvd-io/device-generic-goldfish/allocator"
	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/gcerr"
	"github.com/snvd-io/device-generic-goldfish/handle"
	"github.com/snvd-io/device-generic-goldfish/hostchannel"
	"github.com/snvd-io/device-generic-goldfish/hostmem"
	"github.com/snvd-io/device-generic-goldfish/pipe"
)

// newTestHandle allocates one real buffer (a real memfd-backed mmap,
// exactly as the allocator service would) and returns its handle plus
// the host-channel connection the mapper should use to reach the same
// simulated host.
func newTestHandle(t *testing.T, d allocator.Descriptor) (handle.Handle, *hostchannel.Connection) {
	t.Helper()

	pool, err := hostmem.NewPool(0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	conn := hostchannel.NewConnection(hostchannel.NewSimulatedEncoder(hostchannel.Features{HasReadColorBufferDMA: true}))
	t.Cleanup(conn.Close)

	a := allocator.New(pool, conn, pipe.NewSimDialer())
	_, bufs, err := a.Allocate(d, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return bufs[0], conn
}

func TestImportFreeRoundTrip(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 64, Height: 64, LayerCount: 1,
		Format: format.RGBA8888,
		Usage:  format.CPURead | format.CPUWrite,
	})

	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	if !m.isImported(b) {
		t.Fatal("expected buffer to be tracked as imported")
	}
	if err := m.FreeBuffer(b); err != nil {
		t.Fatalf("FreeBuffer: %v", err)
	}
	if m.isImported(b) {
		t.Fatal("expected buffer to be untracked after FreeBuffer")
	}
}

func TestFreeUnknownBufferFails(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 4, Height: 4, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	if err := m.FreeBuffer(b); err != nil {
		t.Fatalf("FreeBuffer: %v", err)
	}
	if err := m.FreeBuffer(b); gcerr.CodeOf(err) != gcerr.BadBuffer {
		t.Fatalf("second FreeBuffer: CodeOf = %v, want BadBuffer", gcerr.CodeOf(err))
	}
}

// CPU-only buffer: lock for write, write a pattern, unlock, lock for
// read, confirm the bytes round-trip through the shared mapping with no
// host channel traffic involved.
func TestLockWriteUnlockReadCPUOnly(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 16, Height: 16, LayerCount: 1,
		Format: format.RGBA8888,
		Usage:  format.CPURead | format.CPUWrite,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	t.Cleanup(func() { m.FreeBuffer(b) })

	region := Rect{Left: 0, Top: 0, Right: 16, Bottom: 16}

	ptr, err := m.Lock(b, format.CPUWrite, region, -1)
	if err != nil {
		t.Fatalf("Lock(write): %v", err)
	}
	for i := range ptr[:16*16*4] {
		ptr[i] = byte(i)
	}
	if _, err := m.Unlock(b); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	ptr, err = m.Lock(b, format.CPURead, region, -1)
	if err != nil {
		t.Fatalf("Lock(read): %v", err)
	}
	for i := 0; i < 16*16*4; i++ {
		if ptr[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, ptr[i], byte(i))
		}
	}
	if _, err := m.Unlock(b); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

// scenario 5 from spec.md §8: write in one mapper and unlock it (the
// writer's buffer is left imported, not freed), import the same
// marshalled handle into a second mapper
// (simulating a second process), and read back the same pattern through
// the host DMA round trip.
func TestLockWriteUnlockReadAcrossProcessesGPUBacked(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1,
		Format: format.RGBA8888,
		Usage:  format.CPURead | format.CPUWrite | format.GPUTexture,
	})
	if h.HostHandle == 0 {
		t.Fatal("expected a GPU-backed buffer")
	}

	fds, ints := h.Marshal()
	region := Rect{Left: 0, Top: 0, Right: 8, Bottom: 8}

	writer := New(conn)
	wh, err := handle.Unmarshal(fds, ints)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	wb, err := writer.ImportBuffer(wh)
	if err != nil {
		t.Fatalf("ImportBuffer(writer): %v", err)
	}

	ptr, err := writer.Lock(wb, format.CPUWrite, region, -1)
	if err != nil {
		t.Fatalf("Lock(write): %v", err)
	}
	pattern := make([]byte, 8*8*4)
	for i := range pattern {
		pattern[i] = byte(i*7 + 3)
	}
	copy(ptr, pattern)
	if _, err := writer.Unlock(wb); err != nil {
		t.Fatalf("Unlock(writer): %v", err)
	}

	reader := New(conn)
	rh, err := handle.Unmarshal(fds, ints)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	rb, err := reader.ImportBuffer(rh)
	if err != nil {
		t.Fatalf("ImportBuffer(reader): %v", err)
	}
	ptr, err = reader.Lock(rb, format.CPURead, region, -1)
	if err != nil {
		t.Fatalf("Lock(read): %v", err)
	}
	for i, want := range pattern {
		if ptr[i] != want {
			t.Fatalf("byte %d = %d, want %d", i, ptr[i], want)
		}
	}
	reader.Unlock(rb)
}

func TestLockOutOfBoundsRegionFails(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	region := Rect{Left: 0, Top: 0, Right: 100, Bottom: 100}
	if _, err := m.Lock(b, format.CPURead, region, -1); gcerr.CodeOf(err) != gcerr.BadValue {
		t.Fatalf("CodeOf(err) = %v, want BadValue", gcerr.CodeOf(err))
	}
}

func TestDoubleLockFails(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	region := Rect{Left: 0, Top: 0, Right: 8, Bottom: 8}
	if _, err := m.Lock(b, format.CPURead, region, -1); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	if _, err := m.Lock(b, format.CPURead, region, -1); gcerr.CodeOf(err) != gcerr.BadBuffer {
		t.Fatalf("second Lock: CodeOf = %v, want BadBuffer", gcerr.CodeOf(err))
	}
}

func TestFlushWithoutWriteLockFails(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	region := Rect{Left: 0, Top: 0, Right: 8, Bottom: 8}
	if _, err := m.Lock(b, format.CPURead, region, -1); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.FlushLockedBuffer(b); gcerr.CodeOf(err) != gcerr.BadBuffer {
		t.Fatalf("CodeOf(err) = %v, want BadBuffer", gcerr.CodeOf(err))
	}
}

func TestUnlockWithoutLockFails(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888, Usage: format.CPURead,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	if _, err := m.Unlock(b); gcerr.CodeOf(err) != gcerr.BadBuffer {
		t.Fatalf("CodeOf(err) = %v, want BadBuffer", gcerr.CodeOf(err))
	}
}

func TestGetTransportSize(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888,
		Usage: format.CPURead | format.GPUTexture,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	numFds, numInts, err := m.GetTransportSize(b)
	if err != nil {
		t.Fatalf("GetTransportSize: %v", err)
	}
	if numFds != 2 {
		t.Errorf("numFds = %d, want 2 (bufferFd + refcountFd)", numFds)
	}
	if numInts <= 0 {
		t.Errorf("numInts = %d, want > 0", numInts)
	}
}

func TestGetReservedRegion(t *testing.T) {
	h, conn := newTestHandle(t, allocator.Descriptor{
		Width: 8, Height: 8, LayerCount: 1, Format: format.RGBA8888,
		Usage:        format.CPURead,
		ReservedSize: 128,
	})
	m := New(conn)
	b, err := m.ImportBuffer(h)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	region, size, err := m.GetReservedRegion(b)
	if err != nil {
		t.Fatalf("GetReservedRegion: %v", err)
	}
	if size != 128 {
		t.Errorf("size = %d, want 128", size)
	}
	if len(region) != 128 {
		t.Errorf("len(region) = %d, want 128", len(region))
	}
}
