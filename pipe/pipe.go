// Package pipe implements the pipe client (P): opening a named host pipe
// and holding a refcount on a host color buffer through it (spec.md §2,
// §4.1 allocation loop step (c)).
//
// A refcount pipe is a file descriptor whose only purpose is existing:
// the host keeps the color buffer identified by the handle written to it
// alive for as long as the fd (or any fd dup'd from it) stays open, and
// releases it the moment the last copy is closed. That lifetime-by-fd
// pattern is exactly what golang.org/x/sys/unix.Socketpair gives a local
// process for free, so the simulated/dialed pipe below is backed by one:
// writing the host handle down the pipe is the handshake; closing the fd
// is the only "free" operation that matters.
package pipe

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/snvd-io/device-generic-goldfish/gcerr"
)

// Dialer opens a named host pipe and returns the local end of it as a
// plain file descriptor. The default Dialer goes through the host's pipe
// device; tests substitute an in-memory Dialer.
type Dialer interface {
	Dial(name string) (fd int, err error)
}

// DevicePath is the goldfish pipe device every named pipe is multiplexed
// through. A real deployment opens this path and performs the connection
// handshake (writing "pipe:<name>\x00") before the pipe is usable; that
// handshake is encapsulated in deviceDialer.Dial.
const DevicePath = "/dev/goldfish_pipe"

// deviceDialer opens DevicePath and performs the named-pipe connection
// handshake used by every goldfish pipe service.
type deviceDialer struct{}

// NewDeviceDialer returns the Dialer that talks to the real pipe device.
func NewDeviceDialer() Dialer { return deviceDialer{} }

func (deviceDialer) Dial(name string) (int, error) {
	fd, err := unix.Open(DevicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, gcerr.Wrap("pipe.Dial", gcerr.NoResources, err)
	}

	handshake := append([]byte("pipe:"+name), 0)
	if _, err := unix.Write(fd, handshake); err != nil {
		unix.Close(fd)
		return -1, gcerr.Wrap("pipe.Dial", gcerr.NoResources, err)
	}
	return fd, nil
}

// RefcountHandle is an open refcount pipe (spec.md §3's hostHandleRefcountFd).
type RefcountHandle struct {
	fd int
}

// refcountPipeName is the well-known service name used to request a
// refcount handle on a host color buffer.
const refcountPipeName = "opengles"

// OpenRefcount dials the refcount service and sends hostHandle down it,
// giving the host a reason to keep that color buffer alive until Close.
func OpenRefcount(d Dialer, hostHandle uint32) (RefcountHandle, error) {
	fd, err := d.Dial(refcountPipeName)
	if err != nil {
		return RefcountHandle{}, err
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], hostHandle)
	if _, err := unix.Write(fd, buf[:]); err != nil {
		unix.Close(fd)
		return RefcountHandle{}, gcerr.Wrap("pipe.OpenRefcount", gcerr.NoResources, err)
	}

	return RefcountHandle{fd: fd}, nil
}

// Fd returns the underlying file descriptor, for embedding into a CB
// handle's hostHandleRefcountFd field.
func (h RefcountHandle) Fd() int { return h.fd }

// Valid reports whether this handle holds an open fd.
func (h RefcountHandle) Valid() bool { return h.fd >= 0 }

// Close drops this process's reference. The host releases the color
// buffer when the last refcount fd across all processes closes.
func (h RefcountHandle) Close() error {
	if h.fd < 0 {
		return nil
	}
	return unix.Close(h.fd)
}

// Dup duplicates the refcount fd, for marshalling a copy across an IPC
// boundary while keeping the original open (spec.md §3: CB is "marshalled
// back to the caller by value (fds dup'd across the IPC boundary)").
func (h RefcountHandle) Dup() (RefcountHandle, error) {
	if h.fd < 0 {
		return RefcountHandle{fd: -1}, nil
	}
	newFd, err := unix.Dup(h.fd)
	if err != nil {
		return RefcountHandle{}, gcerr.Wrap("pipe.Dup", gcerr.NoResources, err)
	}
	return RefcountHandle{fd: newFd}, nil
}

// NoRefcount is the zero value used when a buffer carries no host handle.
var NoRefcount = RefcountHandle{fd: -1}
