// Package mapper implements the mapper library (M): per-process buffer
// import, mmap lifetime, lock/unlock state, and host-side synchronization
// around a CPU-mapped region (spec.md §4.2).
//
// A Mapper's importedBuffers set is grounded on the teacher's
// core/storage.go + core/registry.go pattern, generalized from an
// epoch-checked slot array to a plain mutex-guarded set of pointer
// tokens, since buffer identity here is the pointer itself (spec.md §9:
// "importedBuffers (set of handle pointers)").
package mapper

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/gcerr"
	"github.com/snvd-io/device-generic-goldfish/handle"
	"github.com/snvd-io/device-generic-goldfish/hostchannel"
	"github.com/snvd-io/device-generic-goldfish/internal/gcconfig"
	"github.com/snvd-io/device-generic-goldfish/internal/gclog"
	"github.com/snvd-io/device-generic-goldfish/metadata"
)

// Mapper holds every buffer this process has imported, plus the session
// it uses to reach the host (spec.md §4.2).
type Mapper struct {
	mu      sync.Mutex
	buffers map[*Buffer]struct{}

	conn *hostchannel.Connection

	biasOnce sync.Once
	bias     int64
	biasErr  error
}

// New creates a Mapper driving conn for every host-touching operation.
func New(conn *hostchannel.Connection) *Mapper {
	return &Mapper{buffers: make(map[*Buffer]struct{}), conn: conn}
}

// physAddrBias lazily computes the constant added to an arena offset to
// get the host's view of the same region (spec.md §4.2: "a constant
// physAddrToOffset bias obtained once at startup by doing a 256-byte
// hostMalloc and computing physAddr - offset"). Since the mapper doesn't
// own the arena (the allocator does), it derives the bias purely from a
// host round-trip: query the physical address of offset 0 once.
func (m *Mapper) physAddrBias() (int64, error) {
	m.biasOnce.Do(func() {
		m.biasErr = hostchannel.AcquireVoid(m.conn, func(s hostchannel.Session) error {
			addr, err := s.QueryPhysAddr(0)
			if err != nil {
				return err
			}
			m.bias = addr
			return nil
		})
	})
	return m.bias, m.biasErr
}

// ImportBuffer clones raw into a process-owned Buffer, mmaps its shared
// region if it has one, and tracks it in importedBuffers.
func (m *Mapper) ImportBuffer(raw handle.Handle) (*Buffer, error) {
	clone := raw.Clone()
	if err := clone.Validate(); err != nil {
		return nil, errBadBuffer("malformed handle")
	}

	if clone.MmapedSize > 0 {
		mem, err := unix.Mmap(clone.BufferFd, clone.MmapedOffset, int(clone.MmapedSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, gcerr.Wrap("importBuffer", gcerr.NoResources, err)
		}
		clone.BufferPtr = mem
	}

	b := &Buffer{Handle: clone}

	m.mu.Lock()
	m.buffers[b] = struct{}{}
	m.mu.Unlock()

	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelImport, "importBuffer: bufferFd=%d size=%d", clone.BufferFd, clone.MmapedSize)
	return b, nil
}

// FreeBuffer removes b from importedBuffers, unmaps its region, and
// closes its owned fds.
func (m *Mapper) FreeBuffer(b *Buffer) error {
	m.mu.Lock()
	if _, ok := m.buffers[b]; !ok {
		m.mu.Unlock()
		return errBadBuffer("freeBuffer: unknown handle")
	}
	delete(m.buffers, b)
	m.mu.Unlock()

	if b.Handle.LockedUsage&format.CPUWriteOften != 0 || b.Handle.LockedUsage&format.CPUWrite != 0 {
		if b.isGPUBacked() {
			if err := m.pushToHost(b); err != nil {
				gclog.Logf(gcconfig.DebugLevel(), gclog.LevelFlush, "freeBuffer: defensive flush failed: %v", err)
			}
		}
	}

	if b.Handle.BufferPtr != nil {
		if err := unix.Munmap(b.Handle.BufferPtr); err != nil {
			gclog.Logf(gcconfig.DebugLevel(), gclog.LevelImport, "freeBuffer: munmap: %v", err)
		}
		b.Handle.BufferPtr = nil
	}
	if b.Handle.BufferFd >= 0 {
		unix.Close(b.Handle.BufferFd)
	}
	if b.Handle.HostHandleRefcountFd >= 0 {
		unix.Close(b.Handle.HostHandleRefcountFd)
	}
	return nil
}

func (m *Mapper) isImported(b *Buffer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buffers[b]
	return ok
}

// Lock validates the request, waits acquireFence if given, pulls fresh
// bytes from the host for a GPU-backed buffer, and returns bufferPtr with
// lockedUsage set to the granted subset (spec.md §4.2).
func (m *Mapper) Lock(b *Buffer, usage format.Usage, region Rect, acquireFence int32) ([]byte, error) {
	if !m.isImported(b) {
		return nil, errBadBuffer("lock: unknown handle")
	}
	if b.Handle.LockedUsage != 0 {
		return nil, errBadBuffer("lock: buffer already locked")
	}

	rec, err := b.record()
	if err != nil {
		return nil, err
	}
	if !region.validate(rec.Width, rec.Height) {
		return nil, errBadValue("lock: access region out of bounds")
	}

	granted := usage & b.Handle.Usage & format.CPUReadWriteMask
	if granted == 0 {
		return nil, errBadValue("lock: usage grants no CPU access")
	}

	if acquireFence >= 0 {
		if err := waitFence(acquireFence); err != nil {
			return nil, err
		}
	}

	if b.isGPUBacked() {
		if err := m.pullFromHost(b, rec); err != nil {
			return nil, err
		}
	}

	b.Handle.LockedUsage = granted
	return b.Handle.BufferPtr, nil
}

// Unlock releases the current lock, pushing CPU writes back to the host
// first if the lock granted CPU_WRITE on a GPU-backed buffer. The release
// fence is always -1 (synchronous).
func (m *Mapper) Unlock(b *Buffer) (int32, error) {
	if !m.isImported(b) {
		return 0, errBadBuffer("unlock: unknown handle")
	}
	if b.Handle.LockedUsage == 0 {
		return 0, errBadBuffer("unlock: buffer not locked")
	}

	if b.Handle.LockedUsage&(format.CPUWrite|format.CPUWriteOften) != 0 && b.isGPUBacked() {
		if err := m.pushToHost(b); err != nil {
			return 0, err
		}
	}

	b.Handle.LockedUsage = 0
	return -1, nil
}

// FlushLockedBuffer pushes CPU writes to the host without changing lock
// state. Requires the CPU_WRITE bit to be currently held.
func (m *Mapper) FlushLockedBuffer(b *Buffer) error {
	if !m.isImported(b) {
		return errBadBuffer("flushLockedBuffer: unknown handle")
	}
	if b.Handle.LockedUsage&(format.CPUWrite|format.CPUWriteOften) == 0 {
		return errBadBuffer("flushLockedBuffer: CPU_WRITE not held")
	}
	if b.isGPUBacked() {
		return m.pushToHost(b)
	}
	return nil
}

// RereadLockedBuffer pulls fresh bytes from the host without changing
// lock state. Requires the CPU_READ bit to be currently held.
func (m *Mapper) RereadLockedBuffer(b *Buffer) error {
	if !m.isImported(b) {
		return errBadBuffer("rereadLockedBuffer: unknown handle")
	}
	if b.Handle.LockedUsage&(format.CPURead|format.CPUReadOften) == 0 {
		return errBadBuffer("rereadLockedBuffer: CPU_READ not held")
	}
	if !b.isGPUBacked() {
		return nil
	}
	rec, err := b.record()
	if err != nil {
		return err
	}
	return m.pullFromHost(b, rec)
}

// GetTransportSize returns (numFds, numInts) read directly from the
// handle (spec.md §4.2).
func (m *Mapper) GetTransportSize(b *Buffer) (int32, int32, error) {
	if !m.isImported(b) {
		return 0, 0, errBadBuffer("getTransportSize: unknown handle")
	}
	n, i := b.Handle.TransportSize()
	return n, i, nil
}

// GetReservedRegion returns a slice over the reserved tail immediately
// after the X record, and its size.
func (m *Mapper) GetReservedRegion(b *Buffer) ([]byte, int64, error) {
	if !m.isImported(b) {
		return nil, 0, errBadBuffer("getReservedRegion: unknown handle")
	}
	reservedOffset := b.Handle.ExternalMetadataOffset + metadata.Size()
	size := b.Handle.MmapedSize - reservedOffset
	if size < 0 || reservedOffset > int64(len(b.Handle.BufferPtr)) {
		return nil, 0, errBadValue("getReservedRegion: degenerate reserved region")
	}
	return b.Handle.BufferPtr[reservedOffset : reservedOffset+size], size, nil
}

// pullFromHost refreshes guest memory from the GPU color buffer (the
// read half of lock/reread): cache flush, then a YUV or DMA readback
// depending on format.
func (m *Mapper) pullFromHost(b *Buffer, rec metadata.Record) error {
	imageBytes := handle.Align16(b.Handle.BufferSize)
	dst := b.Handle.BufferPtr[:imageBytes]

	var bias int64
	if !format.IsYUV(b.Handle.Format) {
		var err error
		if bias, err = m.physAddrBias(); err != nil {
			return gcerr.Wrap("lock", gcerr.NoResources, err)
		}
	}

	return hostchannel.AcquireVoid(m.conn, func(s hostchannel.Session) error {
		if err := s.ColorBufferCacheFlush(b.Handle.HostHandle); err != nil {
			return gcerr.Wrap("lock", gcerr.NoResources, err)
		}
		if format.IsYUV(b.Handle.Format) {
			feat, err := s.FeatureInfo()
			if err != nil {
				return gcerr.Wrap("lock", gcerr.NoResources, err)
			}
			if !feat.HasYUVCache {
				return errBadValue("lock: host lacks YUV cache feature")
			}
			if err := s.ReadColorBufferYUV(b.Handle.HostHandle, rec.Width, rec.Height, dst); err != nil {
				return gcerr.Wrap("lock", gcerr.NoResources, err)
			}
			return nil
		}

		physAddr := bias + b.Handle.MmapedOffset
		if err := s.BindDMADirectly(dst, physAddr); err != nil {
			return gcerr.Wrap("lock", gcerr.NoResources, err)
		}
		return s.ReadColorBufferDMA(b.Handle.HostHandle, rec.Width, rec.Height, rec.GLFormat, rec.GLType, dst)
	})
}

// pushToHost writes CPU writes back to the GPU color buffer (the write
// half of unlock/flush): bind DMA, then updateColorBufferDMA.
func (m *Mapper) pushToHost(b *Buffer) error {
	rec, err := b.record()
	if err != nil {
		return err
	}
	imageBytes := handle.Align16(b.Handle.BufferSize)
	src := b.Handle.BufferPtr[:imageBytes]

	bias, err := m.physAddrBias()
	if err != nil {
		return gcerr.Wrap("unlock", gcerr.NoResources, err)
	}

	return hostchannel.AcquireVoid(m.conn, func(s hostchannel.Session) error {
		physAddr := bias + b.Handle.MmapedOffset
		if err := s.BindDMADirectly(src, physAddr); err != nil {
			return gcerr.Wrap("unlock", gcerr.NoResources, err)
		}
		return s.UpdateColorBufferDMA(b.Handle.HostHandle, rec.Width, rec.Height, rec.GLFormat, rec.GLType, src)
	})
}

func errBadBuffer(msg string) error { return gcerr.New("mapper", gcerr.BadBuffer, msg) }
func errBadValue(msg string) error  { return gcerr.New("mapper", gcerr.BadValue, msg) }
