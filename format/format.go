// Package format holds the pixel-format / plane-layout database that
// drives buffer allocation (spec.md §4.1).
package format

import "github.com/snvd-io/device-generic-goldfish/gcerr"

// PixelFormat is the requested pixel-format tag (mirrors
// android.hardware.graphics.common.PixelFormat numbering).
type PixelFormat int32

const (
	RGBA8888     PixelFormat = 1
	RGBX8888     PixelFormat = 2
	RGB888       PixelFormat = 3
	RGB565       PixelFormat = 4
	BGRA8888     PixelFormat = 5
	YCBCR420SP   PixelFormat = 0x11 // NV21-ish, CPU-only
	YCBCR420888  PixelFormat = 0x23
	BLOB         PixelFormat = 0x21
	RAW16        PixelFormat = 0x20
	Y16          PixelFormat = 0x20363159
	YV12         PixelFormat = 0x32315659
	RGBAFP16     PixelFormat = 0x16
	RGBA1010102  PixelFormat = 0x2B
	YCBCRP010    PixelFormat = 0x36
)

// Usage is the 64-bit bitmask of intended accesses (spec.md §3).
type Usage uint64

const (
	CPURead     Usage = 1 << 0
	CPUReadOften Usage = 1 << 1
	CPUWrite    Usage = 1 << 2
	CPUWriteOften Usage = 1 << 3
	GPUTexture  Usage = 1 << 8
	GPURender   Usage = 1 << 9
	// bit 10 is reserved (sensor direct); rejected unconditionally.
	Composite   Usage = 1 << 11
	Protected   Usage = 1 << 14
	ComposerOverlay Usage = 1 << 11
	ComposerClient  Usage = 1 << 12
	Camera      Usage = 1 << 20
	// bits 13, 19, 21 are reserved.
)

// reservedUsageBits lists the bit positions that must never be set
// (spec.md §4.1).
var reservedUsageBits = [...]uint{10, 13, 19, 21}

const cpuMask = CPURead | CPUReadOften | CPUWrite | CPUWriteOften
const gpuMask = GPUTexture | GPURender | ComposerOverlay | ComposerClient | Camera

// Component identifies one sub-component of a pixel (spec.md §3).
type Component uint8

const (
	CompY Component = iota
	CompCb
	CompCr
	CompR
	CompG
	CompB
	CompA
	CompRaw
)

// PlaneLayoutComponent describes one bit-exact component within a plane.
type PlaneLayoutComponent struct {
	Type         Component
	OffsetInBits int64
	SizeInBits   int64
}

// PlaneLayout describes the geometry of one contiguous image plane.
type PlaneLayout struct {
	OffsetInBytes              int64
	StrideInBytes              int64
	TotalSizeInBytes           int64
	SampleIncrementInBytes     int64
	HorizontalSubsamplingShift uint8 // 4 bits
	VerticalSubsamplingShift   uint8 // 4 bits
	ComponentsBase             int   // index into Components
	ComponentsSize             int
}

// Layout is the resolved, bit-exact description of an allocated image.
type Layout struct {
	DRMFourCC  uint32
	Planes     []PlaneLayout
	Components []PlaneLayoutComponent
	GLFormat   int32
	GLType     int32
	RCAllocFormat int32
	EmuFwkFormat  int32
	// Stride is planeLayout[0].strideInBytes / sampleIncrementInBytes for
	// single-plane formats, 0 otherwise (spec.md §4.1).
	Stride int32
	// BufferSize is the total logical image size in bytes (all planes).
	BufferSize int64
}

// descriptor is a format-table entry before resolving against a concrete
// width/height (spec.md §4.1 table).
type descriptor struct {
	planes        int
	align         [3]int64
	sampleInc     [3]int64
	hShift        [3]uint8
	vShift        [3]uint8
	components    [][]Component // per plane, in offset order
	drmFourCC     uint32
	glFormat      int32
	glType        int32
	rcAllocFormat int32
	emuFwkFormat  int32
	noGPU         bool // format cannot back a GPU color buffer at all
}

// DRM fourcc codes, reproduced from the table in spec.md §4.1.
var (
	fourccABGR8888      = fourcc('A', 'B', '2', '4')
	fourccXBGR8888      = fourcc('X', 'B', '2', '4')
	fourccARGB8888      = fourcc('A', 'R', '2', '4')
	fourccBGR888        = fourcc('B', 'G', '2', '4')
	fourccBGR565        = fourcc('B', 'G', '1', '6')
	fourccABGR16161616F = fourcc('A', 'B', '4', 'H')
	fourccABGR2101010   = fourcc('A', 'B', '3', '0')
	fourccR16           = fourcc('R', '1', '6', ' ')
	fourccYVU420        = fourcc('Y', 'V', '1', '2')
	fourccYUV420        = fourcc('Y', 'U', '1', '2')
	fourccYUV420_10BIT  = fourcc('Y', 'U', '1', '0')
)

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// GL format/type constants, mirrored from the GLES headers the spec names.
const (
	glRGBA            int32 = 0x1908
	glRGB             int32 = 0x1907
	glRGB565          int32 = 0x8D62
	glRGBA16F         int32 = 0x881A
	glRGB10A2         int32 = 0x8059
	glUnsignedByte    int32 = 0x1401
	glUnsignedShort565 int32 = 0x8363
	glHalfFloat       int32 = 0x140B
	glUint2101010Rev  int32 = 0x8368
	rcAllocRGBA8888   int32 = 1
	rcAllocRGB565     int32 = 4
	emuFwkFormatNone  int32 = 0
	emuFwkFormatYV12  int32 = 1
	emuFwkFormatYUV420_888 int32 = 2
)

var table = map[PixelFormat]descriptor{
	RGBA8888: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{4},
		components:    [][]Component{{CompR, CompG, CompB, CompA}},
		drmFourCC:     fourccABGR8888,
		glFormat:      glRGBA, glType: glUnsignedByte, rcAllocFormat: rcAllocRGBA8888,
	},
	RGBX8888: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{4},
		components:    [][]Component{{CompR, CompG, CompB}},
		drmFourCC:     fourccXBGR8888,
		glFormat:      glRGBA, glType: glUnsignedByte, rcAllocFormat: glRGB,
	},
	BGRA8888: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{4},
		components:    [][]Component{{CompB, CompG, CompR, CompA}},
		drmFourCC:     fourccARGB8888,
		glFormat:      glRGBA, glType: glUnsignedByte, rcAllocFormat: rcAllocRGBA8888,
	},
	RGB888: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{3},
		components: [][]Component{{CompR, CompG, CompB}},
		drmFourCC:  fourccBGR888,
		noGPU:      true,
	},
	RGB565: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{2},
		components:    [][]Component{{CompR, CompG, CompB}},
		drmFourCC:     fourccBGR565,
		glFormat:      glRGB565, glType: glUnsignedShort565, rcAllocFormat: rcAllocRGB565,
	},
	RGBAFP16: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{8},
		components:    [][]Component{{CompR, CompG, CompB, CompA}},
		drmFourCC:     fourccABGR16161616F,
		glFormat:      glRGBA, glType: glHalfFloat, rcAllocFormat: rcAllocRGBA8888,
	},
	RGBA1010102: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{4},
		components:    [][]Component{{CompR, CompG, CompB, CompA}},
		drmFourCC:     fourccABGR2101010,
		glFormat:      glRGB10A2, glType: glUint2101010Rev, rcAllocFormat: rcAllocRGBA8888,
	},
	RAW16: {
		planes: 1, align: [3]int64{16}, sampleInc: [3]int64{2},
		components: [][]Component{{CompRaw}},
		drmFourCC:  fourccR16,
		noGPU:      true,
	},
	Y16: {
		planes: 1, align: [3]int64{16}, sampleInc: [3]int64{2},
		components: [][]Component{{CompY}},
		drmFourCC:  fourccR16,
		noGPU:      true,
	},
	BLOB: {
		planes: 1, align: [3]int64{1}, sampleInc: [3]int64{1},
		components: [][]Component{{CompRaw}},
		noGPU:      true,
	},
	YCBCR420SP: {
		planes: 2, align: [3]int64{1, 1}, sampleInc: [3]int64{1, 2},
		hShift: [3]uint8{0, 1}, vShift: [3]uint8{0, 1},
		components: [][]Component{{CompY}, {CompCr, CompCb}},
		drmFourCC:  fourccYVU420,
		noGPU:      true,
	},
	YV12: {
		planes: 3, align: [3]int64{16, 16, 16}, sampleInc: [3]int64{1, 1, 1},
		hShift: [3]uint8{0, 1, 1}, vShift: [3]uint8{0, 1, 1},
		components:    [][]Component{{CompY}, {CompCr}, {CompCb}},
		drmFourCC:     fourccYVU420,
		glFormat:      glRGBA, glType: glUnsignedByte, rcAllocFormat: rcAllocRGBA8888,
		emuFwkFormat:  emuFwkFormatYV12,
	},
	YCBCR420888: {
		planes: 3, align: [3]int64{1, 1, 1}, sampleInc: [3]int64{1, 1, 1},
		hShift: [3]uint8{0, 1, 1}, vShift: [3]uint8{0, 1, 1},
		components:    [][]Component{{CompY}, {CompCb}, {CompCr}},
		drmFourCC:     fourccYUV420,
		glFormat:      glRGBA, glType: glUnsignedByte, rcAllocFormat: rcAllocRGBA8888,
		emuFwkFormat:  emuFwkFormatYUV420_888,
	},
	YCBCRP010: {
		planes: 2, align: [3]int64{1, 1}, sampleInc: [3]int64{2, 4},
		hShift: [3]uint8{0, 1}, vShift: [3]uint8{0, 1},
		components: [][]Component{{CompY}, {CompCb, CompCr}},
		drmFourCC:  fourccYUV420_10BIT,
		glFormat:   glRGBA, glType: glUnsignedByte, rcAllocFormat: rcAllocRGBA8888,
	},
}

// IsYUV reports whether a format is a multi-planar YUV layout, used to
// gate CHROMA_SITING metadata and the host readColorBufferYUV path.
func IsYUV(f PixelFormat) bool {
	switch f {
	case YCBCR420SP, YV12, YCBCR420888, YCBCRP010:
		return true
	default:
		return false
	}
}

func align(v, a int64) int64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

// Lookup resolves a pixel format + dimensions + GPU-usage request into a
// concrete Layout. Returns gcerr.Unsupported for unknown formats, or for
// CPU-only formats combined with GPU usage (spec.md §4.1).
func Lookup(f PixelFormat, width, height int32, usage Usage) (Layout, error) {
	d, ok := table[f]
	if !ok {
		return Layout{}, gcerr.New("isSupported", gcerr.Unsupported, "unknown pixel format")
	}
	if d.noGPU && usage&gpuMask != 0 {
		return Layout{}, gcerr.New("isSupported", gcerr.Unsupported, "format has no GPU-compatible layout")
	}

	var planes []PlaneLayout
	var components []PlaneLayoutComponent
	var offset int64
	for p := 0; p < d.planes; p++ {
		w := int64(width) >> d.hShift[p]
		h := int64(height) >> d.vShift[p]
		stride := align(w*d.sampleInc[p], d.align[p])
		total := stride * h

		base := len(components)
		bitOff := int64(0)
		for _, c := range d.components[p] {
			sz := int64(8)
			if f == RGB565 {
				sz = bitsForRGB565(c)
			} else if f == RGBA1010102 {
				sz = bitsFor1010102(c)
			} else if f == RGBAFP16 {
				sz = 16
			} else if f == RAW16 || f == Y16 || f == BLOB {
				sz = d.sampleInc[p] * 8
			}
			components = append(components, PlaneLayoutComponent{
				Type: c, OffsetInBits: bitOff, SizeInBits: sz,
			})
			bitOff += sz
		}

		planes = append(planes, PlaneLayout{
			OffsetInBytes:              offset,
			StrideInBytes:              stride,
			TotalSizeInBytes:           total,
			SampleIncrementInBytes:     d.sampleInc[p],
			HorizontalSubsamplingShift: d.hShift[p],
			VerticalSubsamplingShift:   d.vShift[p],
			ComponentsBase:             base,
			ComponentsSize:             len(d.components[p]),
		})
		offset += total
	}

	var stride int32
	if d.planes == 1 && planes[0].SampleIncrementInBytes > 0 {
		stride = int32(planes[0].StrideInBytes / planes[0].SampleIncrementInBytes)
	}

	glFormat, glType := int32(-1), int32(-1)
	if usage&gpuMask != 0 {
		glFormat, glType = d.glFormat, d.glType
	}

	return Layout{
		DRMFourCC:     d.drmFourCC,
		Planes:        planes,
		Components:    components,
		GLFormat:      glFormat,
		GLType:        glType,
		RCAllocFormat: d.rcAllocFormat,
		EmuFwkFormat:  d.emuFwkFormat,
		Stride:        stride,
		BufferSize:    offset,
	}, nil
}

func bitsForRGB565(c Component) int64 {
	switch c {
	case CompR, CompB:
		return 5
	case CompG:
		return 6
	default:
		return 0
	}
}

func bitsFor1010102(c Component) int64 {
	if c == CompA {
		return 2
	}
	return 10
}

// ReservedBitSet reports whether usage sets any of the reserved bits
// {10,13,19,21} that must always be rejected (spec.md §4.1).
func ReservedBitSet(usage Usage) bool {
	for _, b := range reservedUsageBits {
		if usage&(1<<b) != 0 {
			return true
		}
	}
	return false
}

// HasGPUUsage reports whether usage requests any GPU-side access.
func HasGPUUsage(usage Usage) bool {
	return usage&gpuMask != 0
}

// HasCPUUsage reports whether usage requests any CPU-side access.
func HasCPUUsage(usage Usage) bool {
	return usage&cpuMask != 0
}

// CPUReadWriteMask is the subset of usage bits that name CPU read/write
// access, used by lock() to compute the granted subset.
const CPUReadWriteMask = cpuMask
