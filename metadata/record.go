// Package metadata implements the external-metadata (X) record: the
// fixed-layout, 16-byte-aligned header the allocator writes into every
// shared buffer and every mapper reads back (spec.md §3).
package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/snvd-io/device-generic-goldfish/format"
	"github.com/snvd-io/device-generic-goldfish/gcerr"
)

// Magic identifies a valid external-metadata record (spec.md §3).
const Magic uint64 = 0x247439A87E42E932

const maxPlanes = 3
const maxComponents = 4
const maxNameLen = 127

// HDRStaticMetadata mirrors android.hardware.graphics.common.Smpte2086.
type HDRStaticMetadata struct {
	PrimaryRX, PrimaryRY float32
	PrimaryGX, PrimaryGY float32
	PrimaryBX, PrimaryBY float32
	WhitePointX, WhitePointY float32
	MaxLuminance, MinLuminance float32
}

// ContentLightLevel mirrors android.hardware.graphics.common.Cta861_3.
type ContentLightLevel struct {
	MaxContentLightLevel      float32
	MaxFrameAverageLightLevel float32
}

// Record is the in-process representation of the X header. Encode/Decode
// translate it to and from the fixed byte layout placed inside the shared
// buffer at externalMetadataOffset.
type Record struct {
	Magic    uint64
	BufferID uint64

	PlaneLayoutSize int32 // 0 (no CPU image) or 1..3
	Planes          [maxPlanes]format.PlaneLayout
	Components      [maxComponents]format.PlaneLayoutComponent

	HasSMPTE2086 bool
	SMPTE2086    HDRStaticMetadata
	HasCTA8613   bool
	CTA8613      ContentLightLevel

	Width, Height    int32
	GLFormat, GLType int32

	ReservedRegionSize int64

	Dataspace int32
	BlendMode int32

	NameSize int32
	Name     [maxNameLen]byte
}

// NewRecord builds a Record from a resolved format.Layout, truncating name
// to its first 127 bytes.
func NewRecord(bufferID uint64, l format.Layout, width, height int32, name string, reservedSize int64) Record {
	r := Record{
		Magic:              Magic,
		BufferID:           bufferID,
		Width:              width,
		Height:             height,
		GLFormat:           l.GLFormat,
		GLType:             l.GLType,
		ReservedRegionSize: reservedSize,
	}
	r.PlaneLayoutSize = int32(len(l.Planes))
	for i := 0; i < len(l.Planes) && i < maxPlanes; i++ {
		r.Planes[i] = l.Planes[i]
	}
	for i := 0; i < len(l.Components) && i < maxComponents; i++ {
		r.Components[i] = l.Components[i]
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	r.NameSize = int32(len(name))
	copy(r.Name[:], name)
	return r
}

// wireSize is the marshalled size of a Record, rounded up to a multiple of
// 16 bytes (spec.md §3: "padding is explicit to make sizeof(X) % 16 == 0").
var wireSize = computeWireSize()

func computeWireSize() int64 {
	var r Record
	b, err := r.Encode()
	if err != nil {
		panic(err)
	}
	n := int64(len(b))
	return (n + 15) &^ 15
}

// Size returns sizeof(X): the 16-byte-aligned marshalled record size.
func Size() int64 { return wireSize }

// Encode marshals the record to its fixed wire layout, little-endian,
// padded to a 16-byte multiple.
func (r *Record) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{
		r.Magic, r.BufferID, r.PlaneLayoutSize,
	}
	for i := range r.Planes {
		fields = append(fields,
			r.Planes[i].OffsetInBytes, r.Planes[i].StrideInBytes, r.Planes[i].TotalSizeInBytes,
			r.Planes[i].SampleIncrementInBytes, r.Planes[i].HorizontalSubsamplingShift,
			r.Planes[i].VerticalSubsamplingShift, int32(r.Planes[i].ComponentsBase), int32(r.Planes[i].ComponentsSize),
		)
	}
	for i := range r.Components {
		fields = append(fields, uint8(r.Components[i].Type), r.Components[i].OffsetInBits, r.Components[i].SizeInBits)
	}
	fields = append(fields, boolByte(r.HasSMPTE2086), r.SMPTE2086, boolByte(r.HasCTA8613), r.CTA8613)
	fields = append(fields, r.Width, r.Height, r.GLFormat, r.GLType, r.ReservedRegionSize, r.Dataspace, r.BlendMode, r.NameSize, r.Name)

	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("metadata: encode: %w", err)
		}
	}
	out := buf.Bytes()
	if pad := (16 - len(out)%16) % 16; pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	return out, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Decode parses a Record from its fixed wire layout. It returns
// gcerr.BadValue if the buffer is too short or the magic does not match.
func Decode(b []byte) (Record, error) {
	if int64(len(b)) < wireSize {
		return Record{}, gcerr.New("decodeMetadata", gcerr.BadValue, "buffer too small for external metadata record")
	}
	r := new(bytes.Reader)
	*r = *bytes.NewReader(b)

	var rec Record
	var hasSMPTE2086, hasCTA8613 byte

	read := func(v any) error { return binary.Read(r, binary.LittleEndian, v) }

	if err := read(&rec.Magic); err != nil {
		return Record{}, err
	}
	if err := read(&rec.BufferID); err != nil {
		return Record{}, err
	}
	if err := read(&rec.PlaneLayoutSize); err != nil {
		return Record{}, err
	}
	for i := range rec.Planes {
		p := &rec.Planes[i]
		if err := read(&p.OffsetInBytes); err != nil {
			return Record{}, err
		}
		if err := read(&p.StrideInBytes); err != nil {
			return Record{}, err
		}
		if err := read(&p.TotalSizeInBytes); err != nil {
			return Record{}, err
		}
		if err := read(&p.SampleIncrementInBytes); err != nil {
			return Record{}, err
		}
		if err := read(&p.HorizontalSubsamplingShift); err != nil {
			return Record{}, err
		}
		if err := read(&p.VerticalSubsamplingShift); err != nil {
			return Record{}, err
		}
		var base, size int32
		if err := read(&base); err != nil {
			return Record{}, err
		}
		if err := read(&size); err != nil {
			return Record{}, err
		}
		p.ComponentsBase, p.ComponentsSize = int(base), int(size)
	}
	for i := range rec.Components {
		c := &rec.Components[i]
		var typ uint8
		if err := read(&typ); err != nil {
			return Record{}, err
		}
		c.Type = format.Component(typ)
		if err := read(&c.OffsetInBits); err != nil {
			return Record{}, err
		}
		if err := read(&c.SizeInBits); err != nil {
			return Record{}, err
		}
	}
	if err := read(&hasSMPTE2086); err != nil {
		return Record{}, err
	}
	rec.HasSMPTE2086 = hasSMPTE2086 != 0
	if err := read(&rec.SMPTE2086); err != nil {
		return Record{}, err
	}
	if err := read(&hasCTA8613); err != nil {
		return Record{}, err
	}
	rec.HasCTA8613 = hasCTA8613 != 0
	if err := read(&rec.CTA8613); err != nil {
		return Record{}, err
	}
	if err := read(&rec.Width); err != nil {
		return Record{}, err
	}
	if err := read(&rec.Height); err != nil {
		return Record{}, err
	}
	if err := read(&rec.GLFormat); err != nil {
		return Record{}, err
	}
	if err := read(&rec.GLType); err != nil {
		return Record{}, err
	}
	if err := read(&rec.ReservedRegionSize); err != nil {
		return Record{}, err
	}
	if err := read(&rec.Dataspace); err != nil {
		return Record{}, err
	}
	if err := read(&rec.BlendMode); err != nil {
		return Record{}, err
	}
	if err := read(&rec.NameSize); err != nil {
		return Record{}, err
	}
	if err := read(&rec.Name); err != nil {
		return Record{}, err
	}

	if rec.Magic != Magic {
		return Record{}, gcerr.New("decodeMetadata", gcerr.BadValue, "magic mismatch")
	}
	return rec, nil
}

// NameString returns the human-readable buffer name, truncated to NameSize.
func (r *Record) NameString() string {
	n := int(r.NameSize)
	if n > len(r.Name) {
		n = len(r.Name)
	}
	return string(r.Name[:n])
}
