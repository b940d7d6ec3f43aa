package metadata

import (
	"bytes"
	"encoding/binary"
)

// Tag is the fully-qualified, Java-style class name the platform uses to
// identify the standard-metadata enum on the wire (spec.md §6).
const Tag = "android.hardware.graphics.common.StandardMetadataType"

// StandardType enumerates the standard metadata types listed in spec.md §6.
type StandardType int64

const (
	BufferID StandardType = iota + 1
	Name
	Width
	Height
	LayerCount
	PixelFormatRequested
	PixelFormatFourCC
	PixelFormatModifier
	Usage
	AllocationSize
	ProtectedContent
	Compression
	Interlaced
	ChromaSiting
	PlaneLayouts
	Crop
	Dataspace
	BlendMode
	SMPTE2086
	CTA861_3
	Stride
)

// All lists every standard metadata type in listSupportedMetadataTypes
// order.
var All = []StandardType{
	BufferID, Name, Width, Height, LayerCount, PixelFormatRequested,
	PixelFormatFourCC, PixelFormatModifier, Usage, AllocationSize,
	ProtectedContent, Compression, Interlaced, ChromaSiting, PlaneLayouts,
	Crop, Dataspace, BlendMode, SMPTE2086, CTA861_3, Stride,
}

// Settable reports whether setStandardMetadata accepts this type
// (spec.md §6: only DATASPACE, BLEND_MODE, SMPTE2086, CTA861_3).
func Settable(t StandardType) bool {
	switch t {
	case Dataspace, BlendMode, SMPTE2086, CTA861_3:
		return true
	default:
		return false
	}
}

// Compression and Interlaced enum values (always NONE; spec.md §6).
const (
	CompressionNone int32 = 0
	InterlacedNone  int32 = 0
)

// ChromaSiting enum values.
const (
	ChromaSitingNone             int32 = 0
	ChromaSitingSitedInterstitial int32 = 3
)

// DRM_FORMAT_MOD_LINEAR is always reported for PIXEL_FORMAT_MODIFIER.
const DRMFormatModLinear uint64 = 0

// Writer accumulates a length-prefixed encoded metadata record: a header
// of (tag string, type enum) followed by payload values, per spec.md §6.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts encoding a record for the given standard type.
func NewWriter(t StandardType) *Writer {
	w := &Writer{}
	w.writeString(Tag)
	w.writeInt64(int64(t))
	return w
}

// Bytes returns the fully encoded record.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) writeString(s string) {
	w.writeInt32(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) writeInt32(v int32)   { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) writeInt64(v int64)   { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) writeUint64(v uint64) { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) writeFloat32(v float32) { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) writeBool(v bool) {
	var b uint8
	if v {
		b = 1
	}
	_ = w.buf.WriteByte(b)
}

// WriteInt32 appends a plain int32 payload value.
func (w *Writer) WriteInt32(v int32) { w.writeInt32(v) }

// WriteInt64 appends a plain int64 payload value.
func (w *Writer) WriteInt64(v int64) { w.writeInt64(v) }

// WriteUint64 appends a plain uint64 payload value.
func (w *Writer) WriteUint64(v uint64) { w.writeUint64(v) }

// WriteFloat32 appends a plain float32 payload value.
func (w *Writer) WriteFloat32(v float32) { w.writeFloat32(v) }

// WriteBool appends a one-byte boolean payload value.
func (w *Writer) WriteBool(v bool) { w.writeBool(v) }

// WriteString appends a length-prefixed string payload value.
func (w *Writer) WriteString(s string) { w.writeString(s) }

// Reader decodes a record previously produced by Writer.
type Reader struct {
	r *bytes.Reader
}

// NewReader wraps an encoded record for reading. It does not validate the
// header; callers that need the type back should decode it with Header().
func NewReader(b []byte) *Reader { return &Reader{r: bytes.NewReader(b)} }

// Header reads back the (tag, type) header written by NewWriter.
func (r *Reader) Header() (tag string, t StandardType, err error) {
	var n int32
	if err = binary.Read(r.r, binary.LittleEndian, &n); err != nil {
		return
	}
	buf := make([]byte, n)
	if _, err = r.r.Read(buf); err != nil {
		return
	}
	var raw int64
	if err = binary.Read(r.r, binary.LittleEndian, &raw); err != nil {
		return
	}
	return string(buf), StandardType(raw), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	var v int32
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, err
}

func (r *Reader) ReadInt64() (int64, error) {
	var v int64
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, err
}

func (r *Reader) ReadUint64() (uint64, error) {
	var v uint64
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, err
}

func (r *Reader) ReadFloat32() (float32, error) {
	var v float32
	err := binary.Read(r.r, binary.LittleEndian, &v)
	return v, err
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadString() (string, error) {
	var n int32
	if err := binary.Read(r.r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
