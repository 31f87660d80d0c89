// Package retry classifies errors as retryable or not, the way rclone's
// fs/fserrors distinguishes a fatal error from one worth trying again
// (Cause/ShouldRetry), adapted to the copytool's narrower timeout-class
// retry contract.
package retry

import (
	"errors"

	"github.com/coldtier/hsmcopytool/internal/nbio"
	"golang.org/x/sys/unix"
)

// Retryable reports whether err represents a transient condition the
// coordinator should reschedule rather than a permanent failure. The
// original (ct_is_retryable) treats exactly -ETIMEDOUT as retryable; this
// repo's equivalent is internal/nbio's ErrTimeout, which is what a timed
// out non-blocking read/write surfaces as, plus the underlying syscall
// errno for callers that see it directly.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, nbio.ErrTimeout) || errors.Is(err, unix.ETIMEDOUT)
}
