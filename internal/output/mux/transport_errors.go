// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package mux

import (
	"errors"
	"syscall"
)

// isTransientWriteError reports whether err is a transient condition
// (EINTR, EAGAIN) worth a bounded retry rather than tearing down the
// transport (spec.md §4.6 "Transport I/O").
func isTransientWriteError(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}
