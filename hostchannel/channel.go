// Package hostchannel implements the host-channel client (H): the session
// to the host rendering encoder that backs color-buffer creation, DMA
// upload/readback, and cache flush (spec.md §4.3).
package hostchannel

import (
	"github.com/snvd-io/device-generic-goldfish/internal/gcconfig"
	"github.com/snvd-io/device-generic-goldfish/internal/gclog"
	"github.com/snvd-io/device-generic-goldfish/internal/session"
)

// Features reports the host's optional capabilities, queried once per
// connection (spec.md §4.3 featureInfo).
type Features struct {
	HasSharedSlotsHostMemoryAllocator bool
	HasReadColorBufferDMA             bool
	HasYUVCache                       bool
}

// Encoder is the set of operations a host-channel session exposes. A
// single process-wide Connection serializes every call onto one session
// (spec.md §9: "every host-touching operation must acquire a session for
// its duration and release it before returning").
type Encoder interface {
	FeatureInfo() (Features, error)
	CreateColorBufferDMA(width, height int32, format, emuFwkFormat int32) (uint32, error)
	CloseColorBuffer(handle uint32) error
	ColorBufferCacheFlush(handle uint32) error
	ReadColorBufferYUV(handle uint32, w, h int32, dst []byte) error
	ReadColorBufferDMA(handle uint32, w, h, glFormat, glType int32, dst []byte) error
	UpdateColorBufferDMA(handle uint32, w, h, glFormat, glType int32, src []byte) error
	BindDMADirectly(guestPtr []byte, physAddr int64) error

	// QueryPhysAddr asks the host what physical DMA address a shared-arena
	// offset currently maps to, used once per mapper (on its first DMA
	// push or pull) to derive the physAddrToOffset bias (spec.md §4.2).
	QueryPhysAddr(offset int64) (int64, error)
}

// Connection is a process-wide handle on the host rendering encoder. Every
// operation runs inside a Session, acquired for the call's duration and
// released before the call returns — no session may span an external call
// that could re-enter the mapper (spec.md §9).
type Connection struct {
	enc  Encoder
	ser  *session.Serializer
}

// NewConnection wraps enc with the session serializer that gives every
// call its exclusive "HostConnectionSession" scope.
func NewConnection(enc Encoder) *Connection {
	return &Connection{enc: enc, ser: session.New()}
}

// Session is acquired for the duration of exactly one host-channel call.
type Session struct {
	enc Encoder
}

// Acquire runs fn with an exclusive session on the connection, returning
// fn's result. This is the sole entry point for host-touching code in the
// allocator and mapper.
func Acquire[T any](c *Connection, fn func(Session) (T, error)) (T, error) {
	return session.Do(c.ser, func() (T, error) {
		return fn(Session{enc: c.enc})
	})
}

// AcquireVoid is Acquire for calls with no return value.
func AcquireVoid(c *Connection, fn func(Session) error) error {
	return session.DoVoid(c.ser, func() error {
		return fn(Session{enc: c.enc})
	})
}

func (s Session) FeatureInfo() (Features, error) { return s.enc.FeatureInfo() }

func (s Session) CreateColorBufferDMA(width, height, format, emuFwkFormat int32) (uint32, error) {
	h, err := s.enc.CreateColorBufferDMA(width, height, format, emuFwkFormat)
	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelAlloc, "createColorBufferDMA: %dx%d format=%d emuFwkFormat=%d handle=%d err=%v", width, height, format, emuFwkFormat, h, err)
	return h, err
}

func (s Session) CloseColorBuffer(handle uint32) error {
	err := s.enc.CloseColorBuffer(handle)
	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelAlloc, "closeColorBuffer: handle=%d err=%v", handle, err)
	return err
}

func (s Session) ColorBufferCacheFlush(handle uint32) error {
	return s.enc.ColorBufferCacheFlush(handle)
}

func (s Session) ReadColorBufferYUV(handle uint32, w, h int32, dst []byte) error {
	return s.enc.ReadColorBufferYUV(handle, w, h, dst)
}

func (s Session) ReadColorBufferDMA(handle uint32, w, h, glFormat, glType int32, dst []byte) error {
	err := s.enc.ReadColorBufferDMA(handle, w, h, glFormat, glType, dst)
	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelLock, "readColorBufferDMA: handle=%d %dx%d glFormat=%d glType=%d err=%v", handle, w, h, glFormat, glType, err)
	return err
}

func (s Session) UpdateColorBufferDMA(handle uint32, w, h, glFormat, glType int32, src []byte) error {
	err := s.enc.UpdateColorBufferDMA(handle, w, h, glFormat, glType, src)
	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelFlush, "updateColorBufferDMA: handle=%d %dx%d glFormat=%d glType=%d err=%v", handle, w, h, glFormat, glType, err)
	return err
}

func (s Session) BindDMADirectly(guestPtr []byte, physAddr int64) error {
	return s.enc.BindDMADirectly(guestPtr, physAddr)
}

func (s Session) QueryPhysAddr(offset int64) (int64, error) {
	return s.enc.QueryPhysAddr(offset)
}

// Close releases the connection's serializer goroutine.
func (c *Connection) Close() { c.ser.Stop() }
