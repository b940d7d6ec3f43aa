package mapper

import (
	"golang.org/x/sys/unix"

	"github.com/snvd-io/device-generic-goldfish/gcerr"
	"github.com/snvd-io/device-generic-goldfish/internal/gcconfig"
	"github.com/snvd-io/device-generic-goldfish/internal/gclog"
)

// fenceSoftTimeoutMillis is the "5-second soft warning" from spec.md §4.2:
// sync_wait waits this long, logs, then blocks indefinitely.
const fenceSoftTimeoutMillis = 5000

// waitFence blocks until fence is signaled, modeled as an Android-style
// sync fence fd pollable for POLLIN. A negative fence is never passed in
// (callers only invoke this for acquireFence >= 0).
func waitFence(fence int32) error {
	pfd := []unix.PollFd{{Fd: fence, Events: unix.POLLIN}}

	n, err := unix.Poll(pfd, fenceSoftTimeoutMillis)
	if err != nil {
		return gcerr.Wrap("lock", gcerr.NoResources, err)
	}
	if n > 0 {
		return nil
	}

	gclog.Logf(gcconfig.DebugLevel(), gclog.LevelLock, "fence %d not signaled after %dms, waiting indefinitely", fence, fenceSoftTimeoutMillis)

	if _, err := unix.Poll(pfd, -1); err != nil {
		return gcerr.Wrap("lock", gcerr.NoResources, err)
	}
	return nil
}
