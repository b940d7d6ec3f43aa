package mapper

import (
	"strconv"

	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/gcerr"
	"github.com/snvd-io/device-generic-goldfish/internal/gcconfig"
	"github.com/snvd-io/device-generic-goldfish/internal/gclog"
	"github.com/snvd-io/device-generic-goldfish/metadata"
)

// ListSupportedMetadataTypes returns every standard metadata type this
// mapper implements getters (and, for a subset, setters) for (spec.md §6).
func ListSupportedMetadataTypes() []metadata.StandardType {
	return metadata.All
}

// GetStandardMetadata writes the length-prefixed encoded record for t
// into dest. If dest is too small, it writes nothing and returns the
// required size; the same call with a large-enough dest then succeeds
// (spec.md §8's dry-run property). Unsupported types fail with
// gcerr.Unsupported.
func (m *Mapper) GetStandardMetadata(b *Buffer, t metadata.StandardType, dest []byte) (int32, error) {
	if !m.isImported(b) {
		return 0, errBadBuffer("getStandardMetadata: unknown handle")
	}

	encoded, err := b.encodeStandardMetadata(t)
	if err != nil {
		return 0, err
	}

	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelMetadata, "getStandardMetadata: type=%d destLen=%d encodedLen=%d", t, len(dest), len(encoded))

	if len(dest) < len(encoded) {
		return int32(len(encoded)), nil
	}
	copy(dest, encoded)
	return int32(len(encoded)), nil
}

// GetMetadata is getStandardMetadata's vendor-agnostic counterpart. This
// implementation models no vendor-extension metadata types, so it shares
// the standard-type encoding path.
func (m *Mapper) GetMetadata(b *Buffer, t metadata.StandardType, dest []byte) (int32, error) {
	return m.GetStandardMetadata(b, t, dest)
}

// SetStandardMetadata accepts a payload for one of the four settable
// types (DATASPACE, BLEND_MODE, SMPTE2086, CTA861_3); anything else fails
// with gcerr.Unsupported (spec.md §4.2).
func (m *Mapper) SetStandardMetadata(b *Buffer, t metadata.StandardType, payload []byte) error {
	if !m.isImported(b) {
		return errBadBuffer("setStandardMetadata: unknown handle")
	}
	if !metadata.Settable(t) {
		return gcerr.New("setStandardMetadata", gcerr.Unsupported, "type is not settable")
	}

	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelMetadata, "setStandardMetadata: type=%d payloadLen=%d", t, len(payload))

	r := metadata.NewReader(payload)
	if len(payload) > 0 {
		if _, _, err := r.Header(); err != nil {
			return errBadValue("setStandardMetadata: malformed header")
		}
	}
	switch t {
	case metadata.Dataspace:
		v, err := r.ReadInt32()
		if err != nil {
			return errBadValue("setStandardMetadata: malformed dataspace payload")
		}
		b.dataspace = v
	case metadata.BlendMode:
		v, err := r.ReadInt32()
		if err != nil {
			return errBadValue("setStandardMetadata: malformed blendMode payload")
		}
		b.blendMode = v
	case metadata.SMPTE2086:
		if len(payload) == 0 {
			b.hasSMPTE2086 = false
			return nil
		}
		present, err := r.ReadBool()
		if err != nil {
			return errBadValue("setStandardMetadata: malformed SMPTE2086 payload")
		}
		if !present {
			b.hasSMPTE2086 = false
			return nil
		}
		hdr, err := readHDRStaticMetadata(r)
		if err != nil {
			return errBadValue("setStandardMetadata: malformed SMPTE2086 payload")
		}
		b.smpte2086, b.hasSMPTE2086 = hdr, true
	case metadata.CTA861_3:
		if len(payload) == 0 {
			b.hasCTA8613 = false
			return nil
		}
		present, err := r.ReadBool()
		if err != nil {
			return errBadValue("setStandardMetadata: malformed CTA861_3 payload")
		}
		if !present {
			b.hasCTA8613 = false
			return nil
		}
		cta, err := readContentLightLevel(r)
		if err != nil {
			return errBadValue("setStandardMetadata: malformed CTA861_3 payload")
		}
		b.cta8613, b.hasCTA8613 = cta, true
	}
	return nil
}

// DumpBuffer encodes every gettable standard-metadata type for one buffer
// and returns a human-readable report with one line per type: the type
// number and the size in bytes of its encoded record. The decoded values
// themselves are not printed.
func (m *Mapper) DumpBuffer(b *Buffer) (string, error) {
	if !m.isImported(b) {
		return "", errBadBuffer("dumpBuffer: unknown handle")
	}
	return m.dumpOne(b)
}

// DumpAllBuffers dumps every imported buffer, holding the imported-set
// mutex for the duration (spec.md §5).
func (m *Mapper) DumpAllBuffers() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := ""
	for b := range m.buffers {
		s, err := m.dumpOne(b)
		if err != nil {
			return "", err
		}
		out += s
	}
	return out, nil
}

func (m *Mapper) dumpOne(b *Buffer) (string, error) {
	out := ""
	for _, t := range metadata.All {
		encoded, err := b.encodeStandardMetadata(t)
		if err != nil {
			if gcerr.CodeOf(err) == gcerr.Unsupported {
				continue
			}
			return "", err
		}
		out += strconv.FormatInt(int64(t), 10) + ": " + strconv.Itoa(len(encoded)) + " bytes\n"
	}
	return out, nil
}

func readHDRStaticMetadata(r *metadata.Reader) (metadata.HDRStaticMetadata, error) {
	var h metadata.HDRStaticMetadata
	fields := []*float32{
		&h.PrimaryRX, &h.PrimaryRY, &h.PrimaryGX, &h.PrimaryGY,
		&h.PrimaryBX, &h.PrimaryBY, &h.WhitePointX, &h.WhitePointY,
		&h.MaxLuminance, &h.MinLuminance,
	}
	for _, f := range fields {
		v, err := r.ReadFloat32()
		if err != nil {
			return metadata.HDRStaticMetadata{}, err
		}
		*f = v
	}
	return h, nil
}

func readContentLightLevel(r *metadata.Reader) (metadata.ContentLightLevel, error) {
	var c metadata.ContentLightLevel
	maxCLL, err := r.ReadFloat32()
	if err != nil {
		return c, err
	}
	maxFALL, err := r.ReadFloat32()
	if err != nil {
		return c, err
	}
	c.MaxContentLightLevel, c.MaxFrameAverageLightLevel = maxCLL, maxFALL
	return c, nil
}

// encodeStandardMetadata builds the full length-prefixed wire record for
// t (spec.md §6's per-type payload layout).
func (b *Buffer) encodeStandardMetadata(t metadata.StandardType) ([]byte, error) {
	w := metadata.NewWriter(t)

	switch t {
	case metadata.BufferID:
		rec, err := b.record()
		if err != nil {
			return nil, err
		}
		w.WriteUint64(rec.BufferID)
	case metadata.Name:
		rec, err := b.record()
		if err != nil {
			return nil, err
		}
		w.WriteString(rec.NameString())
	case metadata.Width:
		rec, err := b.record()
		if err != nil {
			return nil, err
		}
		w.WriteInt32(rec.Width)
	case metadata.Height:
		rec, err := b.record()
		if err != nil {
			return nil, err
		}
		w.WriteInt32(rec.Height)
	case metadata.LayerCount:
		w.WriteInt32(1)
	case metadata.PixelFormatRequested:
		w.WriteInt32(int32(b.Handle.Format))
	case metadata.PixelFormatFourCC:
		w.WriteUint64(uint64(b.Handle.DRMFormat))
	case metadata.PixelFormatModifier:
		w.WriteUint64(metadata.DRMFormatModLinear)
	case metadata.Usage:
		w.WriteUint64(uint64(b.Handle.Usage))
	case metadata.AllocationSize:
		w.WriteInt64(b.Handle.MmapedSize)
	case metadata.ProtectedContent:
		w.WriteBool(b.Handle.Usage&format.Protected != 0)
	case metadata.Compression:
		w.WriteInt32(metadata.CompressionNone)
	case metadata.Interlaced:
		w.WriteInt32(metadata.InterlacedNone)
	case metadata.ChromaSiting:
		if format.IsYUV(b.Handle.Format) {
			w.WriteInt32(metadata.ChromaSitingSitedInterstitial)
		} else {
			w.WriteInt32(metadata.ChromaSitingNone)
		}
	case metadata.PlaneLayouts:
		if err := b.encodePlaneLayouts(w); err != nil {
			return nil, err
		}
	case metadata.Crop:
		if err := b.encodeCrop(w); err != nil {
			return nil, err
		}
	case metadata.Dataspace:
		w.WriteInt32(b.dataspace)
	case metadata.BlendMode:
		w.WriteInt32(b.blendMode)
	case metadata.SMPTE2086:
		w.WriteBool(b.hasSMPTE2086)
		if b.hasSMPTE2086 {
			writeHDRStaticMetadata(w, b.smpte2086)
		}
	case metadata.CTA861_3:
		w.WriteBool(b.hasCTA8613)
		if b.hasCTA8613 {
			w.WriteFloat32(b.cta8613.MaxContentLightLevel)
			w.WriteFloat32(b.cta8613.MaxFrameAverageLightLevel)
		}
	case metadata.Stride:
		w.WriteInt32(b.Handle.Stride)
	default:
		return nil, gcerr.New("getStandardMetadata", gcerr.Unsupported, "unknown standard metadata type")
	}

	return w.Bytes(), nil
}

func writeHDRStaticMetadata(w *metadata.Writer, h metadata.HDRStaticMetadata) {
	w.WriteFloat32(h.PrimaryRX)
	w.WriteFloat32(h.PrimaryRY)
	w.WriteFloat32(h.PrimaryGX)
	w.WriteFloat32(h.PrimaryGY)
	w.WriteFloat32(h.PrimaryBX)
	w.WriteFloat32(h.PrimaryBY)
	w.WriteFloat32(h.WhitePointX)
	w.WriteFloat32(h.WhitePointY)
	w.WriteFloat32(h.MaxLuminance)
	w.WriteFloat32(h.MinLuminance)
}

// encodePlaneLayouts writes, per plane: component count; per-component
// (type, offsetInBits, sizeInBits); then offsetInBytes,
// sampleIncrementInBits, strideInBytes, widthInSamples, heightInSamples,
// totalSizeInBytes, horizontalSubsampling, verticalSubsampling (spec.md
// §6). Subsampling factors are 2^shift, matching scenario 6's (1,1),
// (2,2),(2,2) for YV12.
func (b *Buffer) encodePlaneLayouts(w *metadata.Writer) error {
	rec, err := b.record()
	if err != nil {
		return err
	}
	w.WriteInt32(rec.PlaneLayoutSize)
	for i := int32(0); i < rec.PlaneLayoutSize; i++ {
		p := rec.Planes[i]
		w.WriteInt32(int32(p.ComponentsSize))
		for c := 0; c < p.ComponentsSize; c++ {
			comp := rec.Components[p.ComponentsBase+c]
			w.WriteInt32(int32(comp.Type))
			w.WriteInt64(comp.OffsetInBits)
			w.WriteInt64(comp.SizeInBits)
		}
		w.WriteInt64(p.OffsetInBytes)
		w.WriteInt64(p.SampleIncrementInBytes * 8)
		w.WriteInt64(p.StrideInBytes)
		w.WriteInt32(rec.Width >> p.HorizontalSubsamplingShift)
		w.WriteInt32(rec.Height >> p.VerticalSubsamplingShift)
		w.WriteInt64(p.TotalSizeInBytes)
		w.WriteInt32(1 << p.HorizontalSubsamplingShift)
		w.WriteInt32(1 << p.VerticalSubsamplingShift)
	}
	return nil
}

// encodeCrop reports (0, 0, width, height) per plane as four int32
// values, a documented source quirk preserved for platform compatibility
// (spec.md §9(b)).
func (b *Buffer) encodeCrop(w *metadata.Writer) error {
	rec, err := b.record()
	if err != nil {
		return err
	}
	n := rec.PlaneLayoutSize
	if n == 0 {
		n = 1
	}
	for i := int32(0); i < n; i++ {
		w.WriteInt32(0)
		w.WriteInt32(0)
		w.WriteInt32(rec.Width)
		w.WriteInt32(rec.Height)
	}
	return nil
}
