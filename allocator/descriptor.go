package allocator

import (
	"github.com/snvd-io/device-generic-goldfish/format"
)

// Descriptor is a client's buffer request (spec.md §4.1's
// BufferDescriptorInfo).
type Descriptor struct {
	Width             int32
	Height            int32
	LayerCount        int32
	Format            format.PixelFormat
	Usage             format.Usage
	ReservedSize      int64
	Name              string
	AdditionalOptions []byte
}

// validateShape applies allocate's and isSupported's shared rejection
// rules for a descriptor's shape (everything except format-table lookup,
// which format.Lookup itself reports as Unsupported).
func validateShape(d Descriptor) error {
	switch {
	case d.Width <= 0:
		return errBadDescriptor("width must be positive")
	case d.Height <= 0:
		return errBadDescriptor("height must be positive")
	case d.LayerCount != 1:
		return errBadDescriptor("layerCount must be exactly 1")
	case d.ReservedSize < 0:
		return errBadDescriptor("reservedSize must not be negative")
	case len(d.AdditionalOptions) != 0:
		return errBadDescriptor("additionalOptions must be empty")
	case format.ReservedBitSet(d.Usage):
		return errBadDescriptor("usage contains a reserved bit")
	}
	return nil
}
