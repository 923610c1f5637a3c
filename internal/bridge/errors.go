package bridge

import (
	"fmt"

	"github.com/zeebo/errs"
)

// Bridge-internal failure classes. Domain failures (malformed keys, auth
// rejections, write failures) originate in the uplink client and are
// surfaced through the same error slot verbatim.
var (
	// ErrInvalidHandle marks a handle that was never issued or has been
	// released.
	ErrInvalidHandle = errs.Class("invalid handle")

	// ErrTypeMismatch marks an unpack whose tag does not match the value
	// registered behind the handle.
	ErrTypeMismatch = errs.Class("type mismatch")

	// ErrCrossSession marks an operation that mixes handles owned by
	// unrelated uplink sessions.
	ErrCrossSession = errs.Class("cross-session handle")
)

// writeError records err in the caller's error slot. The bridge allocates
// the diagnostic string and assigns it over whatever the slot held; callers
// are expected to pre-clear the slot before each operation and to check it
// before trusting the return value.
func writeError(errOut *string, err error) {
	if errOut == nil || err == nil {
		return
	}
	*errOut = err.Error()
}

// catchPanics converts a panic on the managed side into an error-slot
// write. No failure may unwind across the boundary as a fault; callers of
// the flat surface only ever observe the error slot.
func catchPanics(errOut *string) {
	if v := recover(); v != nil {
		writeError(errOut, fmt.Errorf("internal fault: %v", v))
	}
}
