package mapper

import (
	"sync"

	"github.com/snvd-io/device-generic-goldfish/hostchannel"
)

// global mirrors the teacher's core/global.go: a process-wide singleton,
// lazily built on first use and explicitly torn down by tests (spec.md
// §9: "Global singleton mapper... lazily initialized process-wide value
// with explicit teardown").
var (
	globalOnce sync.Once
	globalMu   sync.Mutex
	global     *Mapper
)

// GetGlobal returns the process-wide Mapper, creating it on first call
// with a connection dialed through dial. Later calls ignore dial and
// return the existing instance.
func GetGlobal(dial func() (*hostchannel.Connection, error)) (*Mapper, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	var err error
	globalOnce.Do(func() {
		var conn *hostchannel.Connection
		conn, err = dial()
		if err != nil {
			return
		}
		global = New(conn)
	})
	if err != nil {
		globalOnce = sync.Once{}
		return nil, err
	}
	return global, nil
}

// ResetGlobal discards the process-wide Mapper so the next GetGlobal call
// rebuilds it. Exported for tests; production code never needs it.
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
	globalOnce = sync.Once{}
}
