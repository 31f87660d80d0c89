// Package setup implements the copytool's process-lifetime bracket: opening
// and pinning the archive root directory, resolving the filesystem name the
// daemon serves, and tearing both down cleanly on SIGINT/SIGTERM, mirroring
// ct_setup/ct_cleanup in the original.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coldtier/hsmcopytool/internal/ctlog"
	"golang.org/x/sys/unix"
)

// ArchiveRoot pins the configured archive root open for the daemon's
// lifetime: holding the directory fd open keeps the backing mount from
// being unmounted out from under a running copytool.
type ArchiveRoot struct {
	fd   int
	Path string
}

// Open opens path with directory semantics and keeps the fd for the
// caller's process lifetime. Close releases it.
func Open(path string) (*ArchiveRoot, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, fmt.Errorf("setup: open archive root %q: %w", path, err)
	}
	return &ArchiveRoot{fd: fd, Path: path}, nil
}

// Close releases the archive root's pinning fd. Only called at teardown.
func (r *ArchiveRoot) Close() error {
	if r == nil || r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}

// ResolveFSName derives the filesystem name the dispatch loop validates
// incoming action lists' FSName against. A real Lustre client resolves this
// via an ioctl against the mount (llapi_search_fsname); binding to that is
// out of scope here per the coordinator transport being an opaque external
// collaborator (see DESIGN.md), so this falls back to the mount directory's
// base name, which is how Lustre mount points are named by convention
// (e.g. mounting fsname "scratch" at /mnt/scratch).
func ResolveFSName(mount string) (string, error) {
	abs, err := filepath.Abs(mount)
	if err != nil {
		return "", fmt.Errorf("setup: resolve fsname: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("setup: resolve fsname: %w", err)
	}
	name := filepath.Base(abs)
	if name == "" || name == "." || name == string(os.PathSeparator) {
		return "", fmt.Errorf("setup: cannot derive a filesystem name from mount %q", mount)
	}
	return name, nil
}

// HandleSignals cancels the returned context on SIGINT/SIGTERM, mirroring
// the original's installed signal handler: teardown is immediate and any
// in-flight action-item workers are abandoned, not waited for, because the
// coordinator is expected to re-offer whatever was incomplete. Unregister
// itself is not called from here — it stays the sole responsibility of
// dispatch.Run's own deferred cleanup, which runs as soon as the cancellation
// unblocks Recv, so there is exactly one Unregister call per daemon run
// regardless of whether it exits via ShutDown or via a signal.
func HandleSignals(ctx context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			ctlog.Notice(log, "setup: received signal, tearing down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
