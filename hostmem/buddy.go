package hostmem

import (
	"errors"
	"math/bits"
)

// buddyAllocator implements the buddy memory allocation algorithm over the
// single mmap'd arena backing the host memory pool (spec.md §4.3, AS).
//
// Adapted from the teacher's Vulkan device-memory buddy allocator
// (hal/vulkan/memory/buddy.go): the algorithm is unchanged, only the
// domain is — blocks here are offsets into the shared-memory pool that
// backs hostMalloc/hostFree, not GPU device memory.
//
// Time complexity: O(log n) for both allocation and deallocation.
type buddyAllocator struct {
	totalSize    uint64
	minBlockSize uint64
	maxOrder     int

	freeLists       []map[uint64]struct{}
	splitBlocks     map[uint64]struct{}
	allocatedBlocks map[uint64]int

	stats buddyStats
}

type buddyStats struct {
	AllocatedSize   uint64
	AllocationCount uint64
	PeakAllocated   uint64
}

// buddyBlock represents an allocated region of the arena.
type buddyBlock struct {
	Offset uint64
	Size   uint64
	order  int
}

var (
	errOutOfMemory  = errors.New("hostmem: out of memory")
	errInvalidSize  = errors.New("hostmem: invalid size (zero or too large)")
	errDoubleFree   = errors.New("hostmem: double free or invalid block")
	errInvalidConfig = errors.New("hostmem: invalid allocator configuration")
)

func newBuddyAllocator(totalSize, minBlockSize uint64) (*buddyAllocator, error) {
	if totalSize == 0 || !isPowerOfTwo(totalSize) {
		return nil, errInvalidConfig
	}
	if minBlockSize == 0 || !isPowerOfTwo(minBlockSize) || minBlockSize > totalSize {
		return nil, errInvalidConfig
	}

	maxOrder := log2(totalSize / minBlockSize)
	b := &buddyAllocator{
		totalSize:       totalSize,
		minBlockSize:    minBlockSize,
		maxOrder:        maxOrder,
		freeLists:       make([]map[uint64]struct{}, maxOrder+1),
		splitBlocks:     make(map[uint64]struct{}),
		allocatedBlocks: make(map[uint64]int),
	}
	for i := range b.freeLists {
		b.freeLists[i] = make(map[uint64]struct{})
	}
	b.freeLists[maxOrder][0] = struct{}{}
	return b, nil
}

func (b *buddyAllocator) Alloc(size uint64) (buddyBlock, error) {
	if size == 0 || size > b.totalSize {
		return buddyBlock{}, errInvalidSize
	}

	allocSize := nextPowerOfTwo(size)
	if allocSize < b.minBlockSize {
		allocSize = b.minBlockSize
	}
	targetOrder := log2(allocSize / b.minBlockSize)
	if targetOrder > b.maxOrder {
		return buddyBlock{}, errInvalidSize
	}

	offset, ok := b.findAndSplit(targetOrder)
	if !ok {
		return buddyBlock{}, errOutOfMemory
	}

	b.allocatedBlocks[offset] = targetOrder
	b.stats.AllocatedSize += allocSize
	b.stats.AllocationCount++
	if b.stats.AllocatedSize > b.stats.PeakAllocated {
		b.stats.PeakAllocated = b.stats.AllocatedSize
	}

	return buddyBlock{Offset: offset, Size: allocSize, order: targetOrder}, nil
}

func (b *buddyAllocator) Free(block buddyBlock) error {
	order, ok := b.allocatedBlocks[block.Offset]
	if !ok || order != block.order {
		return errDoubleFree
	}
	delete(b.allocatedBlocks, block.Offset)

	blockSize := b.minBlockSize << order
	b.stats.AllocatedSize -= blockSize
	b.stats.AllocationCount--

	b.freeAndMerge(block.Offset, order)
	return nil
}

func (b *buddyAllocator) Stats() buddyStats { return b.stats }

func (b *buddyAllocator) findAndSplit(targetOrder int) (uint64, bool) {
	if len(b.freeLists[targetOrder]) > 0 {
		for offset := range b.freeLists[targetOrder] {
			delete(b.freeLists[targetOrder], offset)
			return offset, true
		}
	}

	splitOrder := -1
	for order := targetOrder + 1; order <= b.maxOrder; order++ {
		if len(b.freeLists[order]) > 0 {
			splitOrder = order
			break
		}
	}
	if splitOrder == -1 {
		return 0, false
	}

	var offset uint64
	for o := range b.freeLists[splitOrder] {
		offset = o
		delete(b.freeLists[splitOrder], o)
		break
	}

	for order := splitOrder; order > targetOrder; order-- {
		blockSize := b.minBlockSize << order
		halfSize := blockSize >> 1

		splitKey := (uint64(order) << 48) | offset
		b.splitBlocks[splitKey] = struct{}{}

		buddyOffset := offset + halfSize
		b.freeLists[order-1][buddyOffset] = struct{}{}
	}

	return offset, true
}

func (b *buddyAllocator) freeAndMerge(offset uint64, order int) {
	for order <= b.maxOrder {
		blockSize := b.minBlockSize << order

		var buddyOffset uint64
		if (offset & blockSize) == 0 {
			buddyOffset = offset + blockSize
		} else {
			buddyOffset = offset - blockSize
		}

		if order == b.maxOrder {
			b.freeLists[order][offset] = struct{}{}
			return
		}

		if _, buddyFree := b.freeLists[order][buddyOffset]; !buddyFree {
			b.freeLists[order][offset] = struct{}{}
			return
		}

		delete(b.freeLists[order], buddyOffset)

		parentOffset := offset & ^blockSize
		parentOrder := order + 1
		splitKey := (uint64(parentOrder) << 48) | parentOffset
		delete(b.splitBlocks, splitKey)

		offset = parentOffset
		order = parentOrder
	}
}

func isPowerOfTwo(n uint64) bool { return n > 0 && (n&(n-1)) == 0 }

func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if isPowerOfTwo(n) {
		return n
	}
	return 1 << (64 - bits.LeadingZeros64(n))
}

func log2(n uint64) int {
	if n == 0 {
		return 0
	}
	return 63 - bits.LeadingZeros64(n)
}
