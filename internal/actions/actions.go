// Package actions implements the four HSM action handlers a copytool must
// answer: Archive, Restore, Remove and Cancel, plus the fallback path for
// an action kind the daemon doesn't recognize.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/coldtier/hsmcopytool/internal/attrs"
	"github.com/coldtier/hsmcopytool/internal/copier"
	"github.com/coldtier/hsmcopytool/internal/coordinator"
	"github.com/coldtier/hsmcopytool/internal/ctlog"
	"github.com/coldtier/hsmcopytool/internal/fid"
	"github.com/coldtier/hsmcopytool/internal/layout"
	"github.com/coldtier/hsmcopytool/internal/options"
	"github.com/coldtier/hsmcopytool/internal/retry"
	"golang.org/x/sys/unix"
)

// Counters replaces the original's two global err_major/err_minor ints
// with fields safe to update from concurrently running item workers.
type Counters struct {
	ErrMajor atomic.Int64
	ErrMinor atomic.Int64
}

func (c *Counters) major() { c.ErrMajor.Add(1) }
func (c *Counters) minor() { c.ErrMinor.Add(1) }

// filePerm matches the original's FILE_PERM (owner read/write only).
const filePerm = 0o600

// outcome accumulates what an action handler found while running, in
// place of the original's goto-based fini_major/fini_minor labels: a major
// error aborts further work and is reported fatal; a minor error is
// recorded but does not stop later best-effort steps.
type outcome struct {
	major error
	minor error
	flags int
}

func (o *outcome) setMajor(err error) {
	if o.major == nil {
		o.major = err
	}
	if retry.Retryable(err) {
		o.flags |= coordinator.FlagRetry
	}
}

func (o *outcome) setMinor(err error) {
	if o.minor == nil {
		o.minor = err
	}
}

// errno returns the positive errno to report to End: the one carried by the
// major (else minor) error, ETIMEDOUT for a timeout-class error that carries
// none, EIO for any other error without one, and 0 on success.
func (o *outcome) errno() int {
	err := o.major
	if err == nil {
		err = o.minor
	}
	if err == nil {
		return 0
	}
	var e unix.Errno
	if errors.As(err, &e) {
		return int(e)
	}
	if retry.Retryable(err) {
		return int(unix.ETIMEDOUT)
	}
	return int(unix.EIO)
}

// end closes out h against client, bumping counters and logging exactly
// once, mirroring ct_fini's single completion trace line.
func end(client coordinator.Client, h *coordinator.Handle, extent coordinator.Extent, o *outcome, counters *Counters, log *slog.Logger) {
	switch {
	case o.major != nil:
		counters.major()
		ctlog.Error(log, "action failed", "error", o.major)
	case o.minor != nil:
		counters.minor()
		ctlog.Warn(log, "action completed with a soft error", "error", o.minor)
	}
	if err := client.End(h, extent, o.flags, o.errno()); err != nil {
		ctlog.Error(log, "coordinator end failed", "error", err)
	}
}

// openNoFollow opens path with the non-blocking, no-atime-update,
// no-symlink-following flags the original uses for every archive/restore
// source and destination, returning an *os.File the caller owns and must
// close. The fd is opened directly via unix.Open rather than os.OpenFile
// since O_NOATIME has no portable os-package equivalent; os.NewFile here
// is safe because this handler owns the fd for its full lifetime and
// closes it itself, unlike the xattr fd-wrapping hazard described in
// internal/layout.
func openNoFollow(path string, extraFlags int, perm uint32) (*os.File, error) {
	flags := extraFlags | unix.O_NOFOLLOW | unix.O_NONBLOCK
	fd, err := unix.Open(path, flags, perm)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

func copyOptions(opt options.Options) copier.Options {
	return copier.Options{
		ChunkSize:      opt.ChunkSize,
		ReportInterval: opt.ReportInterval,
		BandwidthLimit: opt.BandwidthLimit,
	}
}

// progressFunc adapts coordinator.Client.Progress to copier.ProgressFunc.
func progressFunc(client coordinator.Client, h *coordinator.Handle) copier.ProgressFunc {
	return func(extent coordinator.Extent) error {
		return client.Progress(h, extent, 0)
	}
}

// Archive copies item's data FID into the archive at its hash-fanout path,
// saving striping info and attributes alongside it.
func Archive(ctx context.Context, client coordinator.Client, item *coordinator.ActionItem, opt options.Options, counters *Counters, log *slog.Logger) {
	h, err := client.Begin(item, false)
	if err != nil {
		counters.major()
		ctlog.Error(log, "archive: begin failed", "error", err)
		return
	}

	o := &outcome{}
	extent := item.Extent
	defer func() { end(client, h, extent, o, counters, log) }()

	srcPath := layout.LustrePath(opt.Mount, item.DataFID)
	dstPath := layout.ArchivePath(opt.HSMRoot, item.FID)
	wholeFile := item.Extent.Length == -1
	tmpPath := dstPath
	if wholeFile {
		tmpPath = dstPath + "_tmp"
	}

	ctlog.Trace(log, "archiving", "src", srcPath, "dst", tmpPath)

	if opt.DryRun {
		return
	}

	if err := layout.MkdirAll(filepath.Dir(tmpPath)); err != nil {
		o.setMajor(fmt.Errorf("archive: mkdir: %w", err))
		return
	}

	src, err := openNoFollow(srcPath, unix.O_RDONLY|unix.O_NOATIME, 0)
	if err != nil {
		o.setMajor(fmt.Errorf("archive: open src: %w", err))
		return
	}
	defer src.Close()

	dstFlags := unix.O_WRONLY | unix.O_CREAT
	if wholeFile {
		dstFlags |= unix.O_TRUNC
	}
	dst, err := openNoFollow(tmpPath, dstFlags, filePerm)
	if err != nil {
		o.setMajor(fmt.Errorf("archive: open dst: %w", err))
		os.Remove(tmpPath)
		return
	}
	defer dst.Close()

	if err := layout.SaveStripe(int(src.Fd()), tmpPath); err != nil {
		ctlog.Warn(log, "archive: save stripe failed", "error", err)
	}

	res, err := copier.Copy(ctx, src, dst, item.Extent, coordinator.ActionArchive, copyOptions(opt), progressFunc(client, h))
	extent = coordinator.Extent{Offset: item.Extent.Offset, Length: res.BytesWritten}
	if err != nil {
		o.setMajor(fmt.Errorf("archive: copy data: %w", err))
		os.Remove(tmpPath)
		return
	}
	ctlog.Trace(log, "archive: data copied", "bytes", res.BytesWritten)

	if opt.CopyAttrs {
		if err := attrs.CopyAttrs(int(src.Fd()), int(dst.Fd())); err != nil {
			o.setMinor(fmt.Errorf("archive: copy attrs: %w", err))
		}
	}
	if opt.CopyXattrs {
		if err := attrs.CopyXattrs(int(src.Fd()), int(dst.Fd()), false); err != nil {
			o.setMinor(fmt.Errorf("archive: copy xattrs: %w", err))
		}
	}

	if wholeFile {
		if err := os.Rename(tmpPath, dstPath); err != nil {
			o.setMajor(fmt.Errorf("archive: rename into place: %w", err))
			os.Remove(tmpPath)
			return
		}
		if err := os.Rename(tmpPath+".lov", dstPath+".lov"); err != nil && !os.IsNotExist(err) {
			ctlog.Error(log, "archive: rename stripe sidecar failed", "error", err)
		}
	}

	if opt.ShadowTree {
		if err := archiveShadowLink(client, opt, item.FID); err != nil {
			o.setMinor(fmt.Errorf("archive: shadow tree: %w", err))
		}
	}
}

// archiveShadowLink resolves f's filesystem path via the coordinator and
// hands off to layout.EnsureShadowLink to (idempotently) maintain the
// path-indexed symlink that shadows f's archive entry under
// <hsm_root>/shadow/<original path>.
func archiveShadowLink(client coordinator.Client, opt options.Options, f fid.FID) error {
	origPath, err := client.FID2Path(opt.Mount, f)
	if err != nil {
		return fmt.Errorf("fid2path: %w", err)
	}
	origPath = strings.TrimPrefix(strings.TrimPrefix(origPath, opt.Mount), "/")

	return layout.EnsureShadowLink(opt.HSMRoot, layout.ArchivePath("", f), origPath)
}

// Restore streams data from an archive entry into the volatile destination
// file the coordinator has already created for this restore.
func Restore(ctx context.Context, client coordinator.Client, item *coordinator.ActionItem, opt options.Options, counters *Counters, log *slog.Logger) {
	h, err := client.Begin(item, false)
	if err != nil {
		counters.major()
		ctlog.Error(log, "restore: begin failed", "error", err)
		return
	}

	o := &outcome{}
	extent := item.Extent
	defer func() { end(client, h, extent, o, counters, log) }()

	srcPath := layout.ArchivePath(opt.HSMRoot, item.FID)

	dfid, err := client.GetDFID(h)
	if err != nil {
		o.setMajor(fmt.Errorf("restore: get_dfid: %w", err))
		return
	}
	ctlog.Trace(log, "restoring", "src", srcPath, "dfid", dfid.String())

	if opt.DryRun {
		return
	}

	src, err := openNoFollow(srcPath, unix.O_RDONLY|unix.O_NOATIME, 0)
	if err != nil {
		o.setMajor(fmt.Errorf("restore: open src: %w", err))
		return
	}
	defer src.Close()

	// Note: the destination fd is owned by the coordinator; it must stay
	// open until End is called (the coordinator swaps volatile objects
	// at that point), so it is deliberately not closed here.
	dst, err := client.GetFD(h)
	if err != nil {
		o.setMajor(fmt.Errorf("restore: get_fd: %w", err))
		return
	}

	if err := layout.RestoreStripe(srcPath, int(dst.Fd())); err != nil {
		o.setMajor(fmt.Errorf("restore: restore stripe: %w", err))
		return
	}

	res, err := copier.Copy(ctx, src, dst, item.Extent, coordinator.ActionRestore, copyOptions(opt), progressFunc(client, h))
	extent = coordinator.Extent{Offset: item.Extent.Offset, Length: res.BytesWritten}
	if err != nil {
		o.setMajor(fmt.Errorf("restore: copy data: %w", err))
		return
	}
	ctlog.Trace(log, "restore: data copied", "bytes", res.BytesWritten)
}

// Remove deletes an archive entry. A missing file is still reported as an
// error (minor), matching the original's unconditional unlink-then-check.
func Remove(_ context.Context, client coordinator.Client, item *coordinator.ActionItem, opt options.Options, counters *Counters, log *slog.Logger) {
	h, err := client.Begin(item, false)
	if err != nil {
		counters.major()
		ctlog.Error(log, "remove: begin failed", "error", err)
		return
	}

	o := &outcome{}
	extent := item.Extent
	defer func() { end(client, h, extent, o, counters, log) }()

	dstPath := layout.ArchivePath(opt.HSMRoot, item.FID)
	ctlog.Trace(log, "removing", "dst", dstPath)

	if opt.DryRun {
		return
	}

	if err := os.Remove(dstPath); err != nil {
		o.setMinor(fmt.Errorf("remove: unlink: %w", err))
	}
}

// Cancel reports a processed-but-unactioned cancellation: the original
// copytool does not implement mid-copy cancellation lookup, relying
// instead on the copy loop's own progress callback to notice when the
// coordinator has canceled the action (a non-nil Progress return).
func Cancel(_ context.Context, _ coordinator.Client, _ *coordinator.ActionItem, counters *Counters, log *slog.Logger) {
	ctlog.Trace(log, "cancel not implemented")
	counters.minor()
}

// ReportUnknown answers an action list item whose Kind this daemon doesn't
// recognize, mirroring ct_report_error's begin(isError=true)-then-end
// fallback.
func ReportUnknown(client coordinator.Client, item *coordinator.ActionItem, counters *Counters, log *slog.Logger) {
	counters.minor()
	h, err := client.Begin(item, true)
	if err != nil {
		ctlog.Error(log, "report unknown: begin failed", "error", err)
		return
	}
	if err := client.End(h, item.Extent, 0, int(unix.EINVAL)); err != nil {
		ctlog.Error(log, "report unknown: end failed", "error", err)
	}
}
