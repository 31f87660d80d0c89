// Package copier implements the data-copy engine shared by the archive and
// restore handlers: a chunked, throttled, resumable-by-extent copy loop
// between two already-open regular files.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/coldtier/hsmcopytool/internal/coordinator"
	"github.com/coldtier/hsmcopytool/internal/nbio"
	"github.com/coldtier/hsmcopytool/internal/throttle"
)

// defaultChunkSize matches the original's default buffer size.
const defaultChunkSize = 1 << 20

// ErrCanceled is returned when progress reports that the action has been
// canceled (a non-nil return from ProgressFunc).
var ErrCanceled = errors.New("copier: canceled via progress callback")

// ErrNotRegular is returned when either endpoint is not a regular file.
var ErrNotRegular = errors.New("copier: not a regular file")

// ProgressFunc is called before the copy starts (with Length 0) and then
// roughly every ReportInterval during the copy, with Length set to bytes
// written so far. A non-nil return cancels the copy.
type ProgressFunc func(extent coordinator.Extent) error

// Options configures one Copy call.
type Options struct {
	ChunkSize      int64
	ReportInterval time.Duration
	BandwidthLimit int64 // bytes/sec, 0 = unlimited

	// readStep overrides the read primitive copyExtent uses; nil selects
	// the real nbio.Do-backed implementation below. Tests set this to
	// exercise a mid-copy EAGAIN-then-recover sequence that a plain temp
	// file's fd can't produce on its own (unix.Read on a regular file
	// never returns EAGAIN).
	readStep readStep
}

// readStep performs one attempted read of up to len(buf) bytes, matching
// the read half of nbio.Do's contract: a timed-out EAGAIN surfaces as
// nbio.ErrTimeout.
type readStep func(ctx context.Context, fd int, buf []byte, reportInterval time.Duration) (int, error)

func defaultReadStep(ctx context.Context, fd int, buf []byte, reportInterval time.Duration) (int, error) {
	return nbio.Do(ctx, nbio.Read, fd, buf, reportInterval)
}

// Result summarizes a completed or aborted copy.
type Result struct {
	BytesWritten int64
	// Retry indicates the caller should report this as a retryable
	// failure (coordinator-level HP_FLAG_RETRY), i.e. the source wasn't
	// ready within ReportInterval before any bytes were transferred.
	Retry bool
}

// Copy streams extent.Length bytes (or to EOF when Length == -1) from src to
// dst, starting at extent.Offset in both. kind selects restore-specific
// behavior (tail truncation). progress is called once before any I/O and
// then periodically. Truncate-on-restore is applied on every exit once src
// and dst have been stat'd and seeked, regardless of how the copy below
// finished; dst is fsynced only if the whole copy succeeded.
func Copy(ctx context.Context, src, dst *os.File, extent coordinator.Extent, kind coordinator.ActionKind, opt Options, progress ProgressFunc) (Result, error) {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = defaultChunkSize
	}
	if opt.ReportInterval <= 0 {
		opt.ReportInterval = time.Second
	}

	srcInfo, err := src.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("copier: stat src: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return Result{}, fmt.Errorf("copier: src: %w", ErrNotRegular)
	}
	if _, err := src.Seek(extent.Offset, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("copier: seek src: %w", err)
	}

	dstInfo, err := dst.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("copier: stat dst: %w", err)
	}
	if !dstInfo.Mode().IsRegular() {
		return Result{}, fmt.Errorf("copier: dst: %w", ErrNotRegular)
	}
	if _, err := dst.Seek(extent.Offset, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("copier: seek dst: %w", err)
	}

	res, copyErr := copyExtent(ctx, src, dst, extent, srcInfo, opt, progress)

	// Truncate-on-restore runs for every exit from copyExtent above —
	// pre-transfer cancel, a zero-bytes timeout, a read/write error, a
	// mid-copy cancel, or a clean finish — mirroring ct_copy_data's shared
	// `out:` label (original_source/lustre/utils/lhsmtool_posix.c), which
	// always runs this check and only gates fsync on rc==0. A prior forced
	// release can leave the restore destination sparser/larger than the
	// archive version even when the copy itself didn't finish, so the
	// archive stays authoritative regardless of how copyExtent exited.
	if kind == coordinator.ActionRestore && srcInfo.Size() < dstInfo.Size() {
		if err := dst.Truncate(srcInfo.Size()); err != nil && copyErr == nil {
			copyErr = fmt.Errorf("copier: truncate dst: %w", err)
		}
	}
	if copyErr != nil {
		return res, copyErr
	}

	if err := dst.Sync(); err != nil {
		return res, fmt.Errorf("copier: fsync dst: %w", err)
	}

	return res, nil
}

// copyExtent runs the pre-transfer progress callback and the chunked
// read/write/throttle/report loop. Copy applies truncate-on-restore and
// fsync after this returns, on every exit path, so copyExtent itself only
// needs to report bytes written and the first error encountered.
func copyExtent(ctx context.Context, src, dst *os.File, extent coordinator.Extent, srcInfo os.FileInfo, opt Options, progress ProgressFunc) (Result, error) {
	if err := progress(coordinator.Extent{Offset: extent.Offset, Length: 0}); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCanceled, err)
	}

	rlen := extent.Length
	if rlen == -1 {
		rlen = srcInfo.Size() - extent.Offset
	}

	read := opt.readStep
	if read == nil {
		read = defaultReadStep
	}

	limiter := throttle.NewLimiter(opt.BandwidthLimit)
	buf := make([]byte, opt.ChunkSize)

	var rpos, wpos int64
	var bufoff int64
	lastReport := time.Now()

	for wpos < rlen {
		if wpos == rpos {
			chunk := rlen - wpos
			if chunk > opt.ChunkSize {
				chunk = opt.ChunkSize
			}
			n, err := read(ctx, int(src.Fd()), buf[:chunk], opt.ReportInterval)
			if err != nil {
				if !errors.Is(err, nbio.ErrTimeout) {
					return Result{BytesWritten: wpos}, fmt.Errorf("copier: read: %w", err)
				}
				if rpos == 0 {
					return Result{Retry: true}, nbio.ErrTimeout
				}
				// Mid-copy timeout: treat as "read nothing this round"
				// and fall through to the write/throttle/report bullets
				// below instead of retrying the read immediately, so
				// progress (and with it cancellation) keeps firing even
				// while reads keep timing out.
			} else if n == 0 {
				break // EOF
			} else {
				rpos += int64(n)
				bufoff = 0
			}
		}

		wlen := bufoff + (rpos - wpos)
		n, err := nbio.Do(ctx, nbio.Write, int(dst.Fd()), buf[bufoff:wlen], opt.ReportInterval)
		if err != nil {
			if errors.Is(err, nbio.ErrTimeout) {
				n = 0
			} else {
				return Result{BytesWritten: wpos}, fmt.Errorf("copier: write: %w", err)
			}
		}
		wpos += int64(n)
		bufoff += int64(n)

		if opt.BandwidthLimit > 0 {
			sleep := limiter.Record(int64(n), time.Now())
			if sleep > 0 {
				t := time.NewTimer(sleep)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return Result{BytesWritten: wpos}, ctx.Err()
				}
			}
		}

		if time.Since(lastReport) >= opt.ReportInterval {
			lastReport = time.Now()
			if err := progress(coordinator.Extent{Offset: extent.Offset, Length: wpos}); err != nil {
				return Result{BytesWritten: wpos}, fmt.Errorf("%w: %v", ErrCanceled, err)
			}
		}
	}

	return Result{BytesWritten: wpos}, nil
}
