package mapper

import (
	"github.com/snvd-io/device-generic-goldfish/handle"
	"github.com/snvd-io/device-generic-goldfish/metadata"
)

// Buffer is the process-owned handle returned by ImportBuffer: the
// "ownedHandle" token every other mapper operation takes (spec.md §4.2).
// Only Handle is marshalled across a process boundary; the rest is
// process-local state the mapper layers on top of the CB.
type Buffer struct {
	Handle handle.Handle

	// dataspace, blendMode, and the optional HDR records are settable
	// metadata that lives only in this process's view of the buffer —
	// they are not part of the CB wire format (spec.md §4.2
	// setStandardMetadata).
	dataspace int32
	blendMode int32

	hasSMPTE2086 bool
	smpte2086    metadata.HDRStaticMetadata
	hasCTA8613   bool
	cta8613      metadata.ContentLightLevel
}

// Rect is a lock/unlock access region (spec.md §4.2). All locks are
// whole-buffer; the region is validated but not honored as a sub-rect.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// validate reports whether r lies within [0,width] x [0,height] with
// non-degenerate bounds (spec.md §8 boundary behavior).
func (r Rect) validate(width, height int32) bool {
	return r.Left >= 0 && r.Top >= 0 &&
		r.Right > r.Left && r.Bottom > r.Top &&
		r.Right <= width && r.Bottom <= height
}

// record decodes the external-metadata (X) record embedded in the
// buffer's mapped memory. Every CPU-mapped buffer carries one at
// Handle.ExternalMetadataOffset.
func (b *Buffer) record() (metadata.Record, error) {
	off := b.Handle.ExternalMetadataOffset
	size := metadata.Size()
	if int64(len(b.Handle.BufferPtr)) < off+size {
		return metadata.Record{}, errBadBuffer("external metadata record out of bounds")
	}
	return metadata.Decode(b.Handle.BufferPtr[off : off+size])
}

// isGPUBacked reports whether this buffer has a host color buffer that
// needs DMA push/pull around CPU access.
func (b *Buffer) isGPUBacked() bool { return b.Handle.HostHandle != 0 }
