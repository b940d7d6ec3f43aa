// Package handle implements the buffer-handle (CB) wire format: the unit
// passed between processes across the allocator/mapper IPC boundary
// (spec.md §3, §6).
package handle

import (
	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/gcerr"
)

// Handle is the in-process value type for a CB. BufferPtr and LockedUsage
// are process-local and never marshalled.
type Handle struct {
	BufferFd              int // -1 if no CPU mapping
	HostHandleRefcountFd   int // -1 if none
	HostHandle             uint32
	Usage                  format.Usage
	Format                 format.PixelFormat
	DRMFormat              uint32
	Stride                 int32
	BufferSize             int64
	MmapedSize             int64
	MmapedOffset           int64
	ExternalMetadataOffset int64

	// Process-local fields, never marshalled across the IPC boundary.
	BufferPtr   []byte // current mmap, nil if unmapped
	LockedUsage format.Usage
}

// Validate checks the invariants spec.md §3 lists for a CB.
func (h *Handle) Validate() error {
	if h.HostHandle != 0 && h.HostHandleRefcountFd < 0 {
		return gcerr.New("validate", gcerr.BadBuffer, "hostHandle set without a refcount fd")
	}
	if h.MmapedSize > 0 && h.BufferFd < 0 {
		return gcerr.New("validate", gcerr.BadBuffer, "mmapedSize set without a buffer fd")
	}
	wantOffset := align16(h.BufferSize)
	if h.MmapedSize > 0 && h.ExternalMetadataOffset != wantOffset {
		return gcerr.New("validate", gcerr.BadBuffer, "externalMetadataOffset does not equal align16(bufferSize)")
	}
	return nil
}

func align16(v int64) int64 { return (v + 15) &^ 15 }

// Align16 rounds v up to the nearest multiple of 16. Exported for callers
// (the allocator) that need the same rounding when sizing the shared
// region.
func Align16(v int64) int64 { return align16(v) }

// wire field layout, see doc comment on Marshal.
const (
	flagHasBufferFd = 1 << 0
	flagHasRefcount = 1 << 1
)

const numWireInts = 15

// Marshal encodes the handle's scalar fields and owned fds into the wire
// format described in spec.md §6: a count of file descriptors, a count of
// ints, the fd array, then the inline int payload that reconstructs the
// CB's scalar fields. Fds are listed in the fixed order
// [bufferFd, hostHandleRefcountFd], omitting any that are -1.
func (h *Handle) Marshal() (fds []int32, ints []int32) {
	var flags int32
	if h.BufferFd >= 0 {
		flags |= flagHasBufferFd
		fds = append(fds, int32(h.BufferFd))
	}
	if h.HostHandleRefcountFd >= 0 {
		flags |= flagHasRefcount
		fds = append(fds, int32(h.HostHandleRefcountFd))
	}

	ints = make([]int32, numWireInts)
	ints[0] = flags
	ints[1] = int32(h.HostHandle)
	ints[2] = int32(h.Format)
	ints[3] = int32(h.DRMFormat)
	ints[4] = h.Stride
	putInt64(ints[5:7], h.BufferSize)
	putInt64(ints[7:9], h.MmapedSize)
	putInt64(ints[9:11], h.MmapedOffset)
	putInt64(ints[11:13], h.ExternalMetadataOffset)
	putInt64(ints[13:15], int64(h.Usage))
	return fds, ints
}

// Unmarshal reconstructs a Handle from the wire representation produced by
// Marshal. fds must be in the order Marshal produced them. Returns
// gcerr.BadBuffer if the payload is malformed.
func Unmarshal(fds []int32, ints []int32) (Handle, error) {
	if len(ints) != numWireInts {
		return Handle{}, gcerr.New("importBuffer", gcerr.BadBuffer, "malformed handle: wrong int count")
	}
	flags := ints[0]

	var h Handle
	h.BufferFd, h.HostHandleRefcountFd = -1, -1

	i := 0
	if flags&flagHasBufferFd != 0 {
		if i >= len(fds) {
			return Handle{}, gcerr.New("importBuffer", gcerr.BadBuffer, "malformed handle: missing buffer fd")
		}
		h.BufferFd = int(fds[i])
		i++
	}
	if flags&flagHasRefcount != 0 {
		if i >= len(fds) {
			return Handle{}, gcerr.New("importBuffer", gcerr.BadBuffer, "malformed handle: missing refcount fd")
		}
		h.HostHandleRefcountFd = int(fds[i])
		i++
	}

	h.HostHandle = uint32(ints[1])
	h.Format = format.PixelFormat(ints[2])
	h.DRMFormat = uint32(ints[3])
	h.Stride = ints[4]
	h.BufferSize = getInt64(ints[5:7])
	h.MmapedSize = getInt64(ints[7:9])
	h.MmapedOffset = getInt64(ints[9:11])
	h.ExternalMetadataOffset = getInt64(ints[11:13])
	h.Usage = format.Usage(getInt64(ints[13:15]))

	if err := h.Validate(); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// TransportSize returns (numFds, numInts) exactly as getTransportSize
// reports them (spec.md §4.2): read directly off a marshalled handle
// without needing to marshal it.
func (h *Handle) TransportSize() (numFds, numInts int32) {
	n := int32(0)
	if h.BufferFd >= 0 {
		n++
	}
	if h.HostHandleRefcountFd >= 0 {
		n++
	}
	return n, numWireInts
}

// Clone returns a copy of h suitable for importBuffer, with the
// process-local fields reset (fds are not dup'd here; the caller — the
// pipe/IPC layer — is responsible for dup'ing fds across process
// boundaries before calling Unmarshal).
func (h Handle) Clone() Handle {
	c := h
	c.BufferPtr = nil
	c.LockedUsage = 0
	return c
}

func putInt64(dst []int32, v int64) {
	dst[0] = int32(uint32(v))
	dst[1] = int32(uint32(v >> 32))
}

func getInt64(src []int32) int64 {
	lo := uint32(src[0])
	hi := uint32(src[1])
	return int64(uint64(hi)<<32 | uint64(lo))
}
