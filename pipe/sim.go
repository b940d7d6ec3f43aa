package pipe

import "golang.org/x/sys/unix"

// SimDialer satisfies Dialer with a real socketpair instead of the
// goldfish pipe device, so refcount handles can be opened, written to,
// duped, and closed exactly like the real thing without a running
// emulator underneath. The remote end is drained by a background copy so
// writes never block.
type SimDialer struct{}

// NewSimDialer returns a Dialer usable in tests and by grallocd's
// -sim-refcounts mode.
func NewSimDialer() Dialer { return SimDialer{} }

func (SimDialer) Dial(name string) (int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	local, remote := fds[0], fds[1]

	go drain(remote)

	return local, nil
}

// drain reads and discards everything written to fd until it's closed,
// keeping a writer on the other end from blocking on a full socket buffer.
func drain(fd int) {
	defer unix.Close(fd)
	buf := make([]byte, 256)
	for {
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}
