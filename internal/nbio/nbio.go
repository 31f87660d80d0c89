// Package nbio implements a single non-blocking read or write with a
// bounded wait for descriptor readiness, matching the retry contract a
// copytool needs when talking to filesystems that return EAGAIN under
// load rather than blocking indefinitely.
package nbio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Op selects which syscall Do issues.
type Op int

const (
	Read Op = iota
	Write
)

// ErrTimeout is returned when a descriptor is not ready for I/O within
// reportInterval. It plays the role the original's "-EAGAIN" return played:
// callers treat it as a retryable condition.
var ErrTimeout = errors.New("nbio: timed out waiting for descriptor readiness")

// Do issues a single read or write of buf against fd. If the syscall
// returns EAGAIN, Do waits for fd to become ready (via a select-style
// poll bounded by reportInterval) and retries exactly once; a second
// EAGAIN or a readiness-wait timeout yields ErrTimeout.
//
// ctx is checked before the syscall and again during the readiness wait;
// its cancellation unblocks the wait without altering the EAGAIN/retry
// contract itself. The original C implementation has no such path since
// process signals were its only way to interrupt a blocked thread.
func Do(ctx context.Context, op Op, fd int, buf []byte, reportInterval time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := doOnce(op, fd, buf)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, unix.EAGAIN) {
		return 0, err
	}

	if err := waitReady(ctx, op, fd, reportInterval); err != nil {
		return 0, err
	}

	n, err = doOnce(op, fd, buf)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, unix.EAGAIN) {
		return 0, ErrTimeout
	}
	return 0, err
}

func doOnce(op Op, fd int, buf []byte) (int, error) {
	switch op {
	case Read:
		n, err := unix.Read(fd, buf)
		if err != nil {
			return 0, fmt.Errorf("nbio: read: %w", err)
		}
		return n, nil
	case Write:
		n, err := unix.Write(fd, buf)
		if err != nil {
			return 0, fmt.Errorf("nbio: write: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("nbio: unknown op %d", op)
	}
}

// waitReady blocks until fd is ready for op, reportInterval elapses, or
// ctx is cancelled. A readiness timeout surfaces as ErrTimeout; ctx
// cancellation surfaces as ctx.Err().
func waitReady(ctx context.Context, op Op, fd int, reportInterval time.Duration) error {
	if reportInterval <= 0 {
		reportInterval = time.Second
	}

	done := make(chan error, 1)
	go func() {
		var rfds, wfds *unix.FdSet
		set := &unix.FdSet{}
		fdSet(set, fd)
		if op == Read {
			rfds = set
		} else {
			wfds = set
		}
		tv := unix.NsecToTimeval(reportInterval.Nanoseconds())
		n, err := unix.Select(fd+1, rfds, wfds, nil, &tv)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				done <- nil
				return
			}
			done <- fmt.Errorf("nbio: select: %w", err)
			return
		}
		if n == 0 {
			done <- ErrTimeout
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fdSet sets bit fd in set, replicating the FD_SET macro that
// golang.org/x/sys/unix does not expose directly.
func fdSet(set *unix.FdSet, fd int) {
	idx := fd / 64
	bit := uint(fd % 64)
	set.Bits[idx] |= int64(1) << bit
}
