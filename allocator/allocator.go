// Package allocator implements the allocator service (A): validating
// descriptors, resolving plane layouts, and driving AS/H/P to produce CB
// handles (spec.md §4.1).
package allocator

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/gcerr"
	"github.com/snvd-io/device-generic-goldfish/handle"
	"github.com/snvd-io/device-generic-goldfish/hostchannel"
	"github.com/snvd-io/device-generic-goldfish/hostmem"
	"github.com/snvd-io/device-generic-goldfish/internal/gcconfig"
	"github.com/snvd-io/device-generic-goldfish/internal/gclog"
	"github.com/snvd-io/device-generic-goldfish/metadata"
	"github.com/snvd-io/device-generic-goldfish/pipe"
)

// Allocator is the allocator service. One instance is shared by every
// client of a process (spec.md §9: "global singleton mapper" applies
// symmetrically to the allocator side of the same library).
type Allocator struct {
	pool   *hostmem.Pool
	conn   *hostchannel.Connection
	dialer pipe.Dialer

	// bufferIDGen is an ever-increasing allocator-assigned identifier
	// written into every X record. The source's generator is
	// non-atomic and can collide under concurrent allocate calls
	// (spec.md §9(c)); this one uses atomic.Uint64, a deliberate fix.
	bufferIDGen atomic.Uint64
}

// New creates an Allocator backed by pool for shared memory and conn for
// the host channel, dialing refcount pipes through d.
func New(pool *hostmem.Pool, conn *hostchannel.Connection, d pipe.Dialer) *Allocator {
	return &Allocator{pool: pool, conn: conn, dialer: d}
}

// GetLibrarySuffix returns the fixed string identifying this
// implementation (spec.md §4.2).
func (a *Allocator) GetLibrarySuffix() string { return gcconfig.LibrarySuffix() }

// IsSupported is the pure predicate over a descriptor: the same
// rejection rules allocate uses, without touching AS/H/P.
func (a *Allocator) IsSupported(d Descriptor) bool {
	if err := validateShape(d); err != nil {
		return false
	}
	_, err := format.Lookup(d.Format, d.Width, d.Height, d.Usage)
	return err == nil
}

// AllocateLegacy is the pre-existing encoded-descriptor entry point,
// which spec.md §4.1 requires to explicitly return Unsupported.
func (a *Allocator) AllocateLegacy([]byte, int32) (int32, []handle.Handle, error) {
	return 0, nil, gcerr.New("allocate", gcerr.Unsupported, "encoded descriptor format is not supported")
}

// Allocate resolves descriptor against the format table and produces
// count buffers in a single host session. On any mid-batch failure every
// buffer allocated earlier in the same call is torn down (in reverse
// order) and the call fails as a whole with NoResources; validation
// failures are reported before any host resource is touched.
func (a *Allocator) Allocate(d Descriptor, count int32) (int32, []handle.Handle, error) {
	if count <= 0 {
		return 0, nil, errBadDescriptor("count must be positive")
	}
	if err := validateShape(d); err != nil {
		return 0, nil, err
	}

	layout, err := format.Lookup(d.Format, d.Width, d.Height, d.Usage)
	if err != nil {
		return 0, nil, err
	}

	buffers := make([]handle.Handle, 0, count)
	_, err = hostchannel.Acquire(a.conn, func(s hostchannel.Session) (struct{}, error) {
		for i := int32(0); i < count; i++ {
			h, err := a.allocateOne(s, d, layout)
			if err != nil {
				return struct{}{}, err
			}
			buffers = append(buffers, h)
		}
		return struct{}{}, nil
	})
	if err != nil {
		a.rollback(buffers)
		gclog.Logf(gcconfig.DebugLevel(), gclog.LevelError, "allocate: buffer %d/%d failed: %v", len(buffers), count, err)
		return 0, nil, gcerr.Wrap("allocate", gcerr.NoResources, err)
	}

	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelAlloc, "allocate: %dx%d format=%d usage=%d count=%d stride=%d", d.Width, d.Height, d.Format, d.Usage, count, layout.Stride)
	return layout.Stride, buffers, nil
}

// allocateOne performs steps (a)-(d) of the allocation loop for a single
// buffer, inside an already-acquired host session.
func (a *Allocator) allocateOne(s hostchannel.Session, d Descriptor, layout format.Layout) (handle.Handle, error) {
	imageBytes := handle.Align16(layout.BufferSize)
	total := imageBytes + metadata.Size() + d.ReservedSize

	blk, err := a.pool.HostMalloc(total)
	if err != nil {
		return handle.Handle{}, err
	}

	bufferID := a.bufferIDGen.Add(1)
	rec := metadata.NewRecord(bufferID, layout, d.Width, d.Height, d.Name, d.ReservedSize)
	recBytes, err := rec.Encode()
	if err != nil {
		a.pool.HostFree(blk)
		return handle.Handle{}, err
	}
	copy(blk.GuestPtr[imageBytes:], recBytes)

	h := handle.Handle{
		BufferFd:               blk.Fd,
		HostHandleRefcountFd:   -1,
		Usage:                  d.Usage,
		Format:                 d.Format,
		DRMFormat:              layout.DRMFourCC,
		Stride:                 layout.Stride,
		BufferSize:             layout.BufferSize,
		MmapedSize:             total,
		MmapedOffset:           blk.Offset,
		ExternalMetadataOffset: imageBytes,
	}

	if format.HasGPUUsage(d.Usage) {
		hostHandle, err := s.CreateColorBufferDMA(d.Width, d.Height, layout.RCAllocFormat, layout.EmuFwkFormat)
		if err != nil {
			a.pool.HostFree(blk)
			return handle.Handle{}, err
		}
		rc, err := pipe.OpenRefcount(a.dialer, hostHandle)
		if err != nil {
			s.CloseColorBuffer(hostHandle)
			a.pool.HostFree(blk)
			return handle.Handle{}, err
		}
		h.HostHandle = hostHandle
		h.HostHandleRefcountFd = rc.Fd()
	}

	if err := h.Validate(); err != nil {
		a.teardown(s, h)
		return handle.Handle{}, err
	}
	return h, nil
}

// rollback tears down every buffer already constructed in a failed
// allocate call. The source's rollback loop is `for(--i; i > 0; --i)`,
// which skips index 0 and leaks the first buffer of the batch; this
// iterates the full slice, a deliberate correction (spec.md §9(a), §8
// "rolled-back failed batches leak no host handles").
func (a *Allocator) rollback(buffers []handle.Handle) {
	for i := len(buffers) - 1; i >= 0; i-- {
		hostchannel.AcquireVoid(a.conn, func(s hostchannel.Session) error {
			a.teardown(s, buffers[i])
			return nil
		})
	}
}

// teardown releases every resource owned by a single CB: the refcount
// fd, the host color buffer, and the shared-memory block.
func (a *Allocator) teardown(s hostchannel.Session, h handle.Handle) {
	if h.HostHandle != 0 {
		if err := s.CloseColorBuffer(h.HostHandle); err != nil {
			gclog.Logf(gcconfig.DebugLevel(), gclog.LevelError, "teardown: closeColorBuffer(%d): %v", h.HostHandle, err)
		}
	}
	if h.HostHandleRefcountFd >= 0 {
		if err := unix.Close(h.HostHandleRefcountFd); err != nil {
			gclog.Logf(gcconfig.DebugLevel(), gclog.LevelError, "teardown: close refcount fd %d: %v", h.HostHandleRefcountFd, err)
		}
	}
	if h.MmapedSize > 0 {
		a.pool.HostFree(hostmem.Block{Offset: h.MmapedOffset, Size: h.MmapedSize, Fd: h.BufferFd})
	}
}

func errBadDescriptor(msg string) error {
	return gcerr.New("allocate", gcerr.BadDescriptor, msg)
}
