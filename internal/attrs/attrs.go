// Package attrs copies file metadata (mode, ownership, timestamps and
// extended attributes) between two already-open file descriptors, the way
// the archive and restore handlers finish up a data copy.
package attrs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// CopyAttrs copies mode, uid/gid and atime/mtime from srcFD to dstFD. Every
// step is attempted independently; failures are collected and returned as
// one wrapped error, but the caller treats any returned error as soft/minor
// per the action taxonomy, never aborting an archive or restore over it.
//
// The original C (ct_copy_attr) has a brace-scoping bug that makes its
// error branch for the chmod/chown/utime calls always fire, turning a
// best-effort step into one that always reports failure. This copies the
// intent (best-effort, independent steps) rather than that bug.
func CopyAttrs(srcFD, dstFD int) error {
	var st unix.Stat_t
	if err := unix.Fstat(srcFD, &st); err != nil {
		return fmt.Errorf("attrs: fstat src: %w", err)
	}

	var errs []error
	if err := unix.Fchmod(dstFD, st.Mode&0o7777); err != nil {
		errs = append(errs, fmt.Errorf("chmod: %w", err))
	}
	if err := unix.Fchown(dstFD, int(st.Uid), int(st.Gid)); err != nil {
		errs = append(errs, fmt.Errorf("chown: %w", err))
	}
	atime := unix.Timeval{Sec: st.Atim.Sec, Usec: st.Atim.Nsec / 1000}
	mtime := unix.Timeval{Sec: st.Mtim.Sec, Usec: st.Mtim.Nsec / 1000}
	if err := unix.Futimes(dstFD, []unix.Timeval{atime, mtime}); err != nil {
		errs = append(errs, fmt.Errorf("utime: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("attrs: copy attrs: %w", errors.Join(errs...))
	}
	return nil
}

// xattrBufSize bounds the enumerate/get buffers.
const xattrBufSize = 65536

// trustedPrefix is the xattr namespace restore never propagates, since it
// is reserved for filesystem internals and re-applying a saved "trusted."
// attribute to a volatile restore destination would stomp state the
// filesystem itself is responsible for managing.
const trustedPrefix = "trusted."

// CopyXattrs enumerates srcFD's extended attributes and sets each on dstFD.
// When isRestore is true, names under the "trusted." namespace are skipped;
// every other namespace is copied on both archive and restore. ENOTSUP on
// the destination is ignored for a given name (the filesystem backing dst
// simply doesn't support that namespace), matching the teacher's own
// xattrIsNotSupported classification; every other error aborts and is
// returned.
func CopyXattrs(srcFD, dstFD int, isRestore bool) error {
	nameBuf := make([]byte, xattrBufSize)
	n, err := unix.Flistxattr(srcFD, nameBuf)
	if err != nil {
		if errors.Is(err, unix.ENOTSUP) {
			return nil
		}
		return fmt.Errorf("attrs: list xattrs: %w", err)
	}

	for _, name := range splitNames(nameBuf[:n]) {
		if isRestore && hasPrefix(name, trustedPrefix) {
			continue
		}
		valBuf := make([]byte, xattrBufSize)
		vn, err := unix.Fgetxattr(srcFD, name, valBuf)
		if err != nil {
			return fmt.Errorf("attrs: get xattr %q: %w", name, err)
		}
		if err := unix.Fsetxattr(dstFD, name, valBuf[:vn], 0); err != nil {
			if errors.Is(err, unix.ENOTSUP) {
				continue
			}
			return fmt.Errorf("attrs: set xattr %q: %w", name, err)
		}
	}
	return nil
}

// splitNames splits a NUL-separated xattr name list as returned by
// flistxattr into individual names.
func splitNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
