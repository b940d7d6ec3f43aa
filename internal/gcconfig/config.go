// Package gcconfig reads the runtime configuration for the allocator and
// mapper.
package gcconfig

import (
	"os"
	"strconv"
)

// debugLevelEnv stands in for the ro.boot.qemu.gralloc.debug_level system
// property: this pack carries no Android system-property client, so the
// value is read from the environment instead.
const debugLevelEnv = "GOLDFISH_GRALLOC_DEBUG_LEVEL"

// librarySuffix is the fixed string returned by getIMapperLibrarySuffix.
const librarySuffix = "ranchu"

// DebugLevel returns the configured log verbosity, clamped to [0,5].
// Unset or malformed values default to 0 (silent).
func DebugLevel() int {
	v, err := strconv.Atoi(os.Getenv(debugLevelEnv))
	if err != nil || v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// LibrarySuffix returns the fixed mapper library suffix reported by
// getIMapperLibrarySuffix.
func LibrarySuffix() string {
	return librarySuffix
}
