package hostchannel

import (
	"sync"
	"sync/atomic"

	"github.com/snvd-io/device-generic-goldfish/gcerr"
)

// SimulatedEncoder is a self-contained Encoder with no real host: it
// backs every "GPU" color buffer with a plain byte slice, so
// readColorBufferDMA/updateColorBufferDMA act as a byte-for-byte copy
// between guest memory and the simulated color buffer. This lets the
// allocator/mapper be exercised and tested without an actual rendering
// agent, while presenting the exact operation set spec.md §4.3 names.
type SimulatedEncoder struct {
	mu      sync.Mutex
	buffers map[uint32][]byte
	nextID  atomic.Uint32

	features Features
}

// NewSimulatedEncoder creates an encoder with the given advertised
// feature set.
func NewSimulatedEncoder(features Features) *SimulatedEncoder {
	return &SimulatedEncoder{
		buffers: make(map[uint32][]byte),
		features: features,
	}
}

func (s *SimulatedEncoder) FeatureInfo() (Features, error) { return s.features, nil }

func (s *SimulatedEncoder) CreateColorBufferDMA(width, height, _, _ int32) (uint32, error) {
	if width <= 0 || height <= 0 {
		return 0, gcerr.New("createColorBufferDMA", gcerr.NoResources, "invalid dimensions")
	}
	id := s.nextID.Add(1)
	s.mu.Lock()
	s.buffers[id] = make([]byte, int64(width)*int64(height)*4)
	s.mu.Unlock()
	return id, nil
}

func (s *SimulatedEncoder) CloseColorBuffer(handle uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[handle]; !ok {
		return gcerr.New("closeColorBuffer", gcerr.BadBuffer, "unknown host handle")
	}
	delete(s.buffers, handle)
	return nil
}

func (s *SimulatedEncoder) ColorBufferCacheFlush(handle uint32) error {
	return s.mustExist(handle, "colorBufferCacheFlush")
}

func (s *SimulatedEncoder) ReadColorBufferYUV(handle uint32, _, _ int32, dst []byte) error {
	return s.copyOut(handle, dst)
}

func (s *SimulatedEncoder) ReadColorBufferDMA(handle uint32, _, _, _, _ int32, dst []byte) error {
	return s.copyOut(handle, dst)
}

func (s *SimulatedEncoder) UpdateColorBufferDMA(handle uint32, _, _, _, _ int32, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[handle]
	if !ok {
		return gcerr.New("updateColorBufferDMA", gcerr.BadBuffer, "unknown host handle")
	}
	n := copy(buf, src)
	_ = n
	return nil
}

func (s *SimulatedEncoder) BindDMADirectly([]byte, int64) error { return nil }

// simPhysAddrBase stands in for the fixed offset at which the host maps
// guest shared memory into its own physical address space.
const simPhysAddrBase = 0x100000000

func (s *SimulatedEncoder) QueryPhysAddr(offset int64) (int64, error) {
	return simPhysAddrBase + offset, nil
}

func (s *SimulatedEncoder) copyOut(handle uint32, dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[handle]
	if !ok {
		return gcerr.New("readColorBuffer", gcerr.BadBuffer, "unknown host handle")
	}
	copy(dst, buf)
	return nil
}

func (s *SimulatedEncoder) mustExist(handle uint32, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[handle]; !ok {
		return gcerr.New(op, gcerr.BadBuffer, "unknown host handle")
	}
	return nil
}
