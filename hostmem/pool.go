// Package hostmem implements the host memory allocator (AS): the single
// shared-memory arena that backs every DMA-capable buffer, plus the
// guestPtr <-> hostPhysAddr translation the host channel needs to bind a
// region directly (spec.md §4.3).
//
// The arena is a real POSIX shared-memory region: unix.MemfdCreate creates
// the backing file descriptor, unix.Ftruncate sizes it, and unix.Mmap maps
// it into the process so hostMalloc can hand out slices directly into the
// mapping. Carving regions out of the mapped arena uses a buddy allocator
// adapted from the teacher's hal/vulkan/memory/buddy.go.
package hostmem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/snvd-io/device-generic-goldfish/gcerr"
)

// Block is one host memory allocation: a guest-addressable byte slice
// backed by the shared arena, the arena-relative offset that doubles as
// the "host physical address" bias input, and the size of the buddy block
// actually reserved (the request rounded up to a power of two, at least
// minBlockSize).
//
// This is hostMalloc's return value from spec.md §4.3:
// {guestVirtualPointer, hostPhysicalOffset, size, fileDescriptor}.
type Block struct {
	GuestPtr []byte
	Offset   int64
	Size     int64
	Fd       int
}

// Pool is the single process-wide host memory arena. One Pool backs every
// AS allocation for the lifetime of the allocator service.
type Pool struct {
	mu   sync.Mutex
	fd   int
	mem  []byte
	size int64
	alloc *buddyAllocator

	biasOnce sync.Once
	bias     int64
	biasErr  error
}

const (
	defaultArenaSize  = 256 << 20 // 256 MiB, generous for a software-emulated guest
	minBlockSize      = 4096
	biasProbeSize     = 256
)

// NewPool creates a memfd-backed shared memory region of size bytes (must
// be a power of two, at least minBlockSize) and wraps it with a buddy
// allocator.
func NewPool(size int64) (*Pool, error) {
	if size <= 0 {
		size = defaultArenaSize
	}

	fd, err := unix.MemfdCreate("goldfish-gralloc-hostmem", 0)
	if err != nil {
		return nil, gcerr.Wrap("hostmem.NewPool", gcerr.NoResources, err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, gcerr.Wrap("hostmem.NewPool", gcerr.NoResources, err)
	}

	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, gcerr.Wrap("hostmem.NewPool", gcerr.NoResources, err)
	}

	ba, err := newBuddyAllocator(uint64(size), minBlockSize)
	if err != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		return nil, gcerr.Wrap("hostmem.NewPool", gcerr.NoResources, err)
	}

	return &Pool{fd: fd, mem: mem, size: size, alloc: ba}, nil
}

// Close unmaps the arena and closes its file descriptor.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := unix.Munmap(p.mem); err != nil {
		return err
	}
	return unix.Close(p.fd)
}

// HostMalloc carves out a size-byte region of the arena, returning a Block
// whose GuestPtr is directly writable/readable guest memory and whose
// Offset is this process's arena-relative address for it.
func (p *Pool) HostMalloc(size int64) (Block, error) {
	if size <= 0 {
		return Block{}, gcerr.New("hostMalloc", gcerr.BadValue, "size must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	blk, err := p.alloc.Alloc(uint64(size))
	if err != nil {
		return Block{}, gcerr.Wrap("hostMalloc", gcerr.NoResources, err)
	}

	return Block{
		GuestPtr: p.mem[blk.Offset : blk.Offset+int64(blk.Size)],
		Offset:   int64(blk.Offset),
		Size:     int64(blk.Size),
		Fd:       p.fd,
	}, nil
}

// HostFree releases a Block previously returned by HostMalloc.
func (p *Pool) HostFree(b Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order := log2(nextPowerOfTwo(uint64(b.Size)) / minBlockSize)
	err := p.alloc.Free(buddyBlock{Offset: uint64(b.Offset), Size: uint64(b.Size), order: order})
	if err != nil {
		return gcerr.Wrap("hostFree", gcerr.BadValue, err)
	}
	return nil
}

// Fd returns the arena's backing file descriptor, for handing off to the
// pipe client or marshalling into a CB handle.
func (p *Pool) Fd() int { return p.fd }

// At returns the arena bytes at [offset, offset+size), the same backing
// array HostMalloc's Block.GuestPtr points into. It lets a single process
// that holds both the Pool and a Handle read back the external-metadata
// record or image bytes without a separate mmap, the way the allocator
// and a same-process mapper share one arena (spec.md §9's "global
// singleton mapper" in the degenerate case of allocator and mapper
// sharing a process).
func (p *Pool) At(offset, size int64) []byte {
	return p.mem[offset : offset+size]
}

// PhysAddrBias returns the constant added to an arena offset to produce
// the value the host channel's bindDMADirectly expects as "physical
// address" (spec.md §4.2: "a constant physAddrToOffset bias obtained once
// at startup by doing a 256-byte hostMalloc and computing physAddr -
// offset").
//
// probeHostAddr is supplied by the caller because only the host channel
// (not hostmem) can ask the host what physical address a block landed at;
// hostmem only knows the arena-relative offset. PhysAddrBias memoizes the
// computation so it runs exactly once per Pool.
func (p *Pool) PhysAddrBias(probeHostAddr func(b Block) (int64, error)) (int64, error) {
	p.biasOnce.Do(func() {
		blk, err := p.HostMalloc(biasProbeSize)
		if err != nil {
			p.biasErr = err
			return
		}
		defer p.HostFree(blk)

		physAddr, err := probeHostAddr(blk)
		if err != nil {
			p.biasErr = err
			return
		}
		p.bias = physAddr - blk.Offset
	})
	return p.bias, p.biasErr
}

// OffsetToPhysAddr and PhysAddrToOffset convert between an arena-relative
// offset and the host's view of the same region, using the bias computed
// by PhysAddrBias.
func (p *Pool) OffsetToPhysAddr(offset, bias int64) int64 { return offset + bias }

func (p *Pool) PhysAddrToOffset(physAddr, bias int64) int64 { return physAddr - bias }

// Stats exposes the buddy allocator's bookkeeping, useful for dumpsys-style
// diagnostics (spec.md's supplemented dumpAllBuffers feature).
func (p *Pool) Stats() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.alloc.Stats()
	return fmt.Sprintf("allocated=%d count=%d peak=%d arena=%d", s.AllocatedSize, s.AllocationCount, s.PeakAllocated, p.size)
}
