package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// layoutXattr is the extended attribute name the filesystem stores its
// striping/layout hint under.
const layoutXattr = "trusted.lov"

// Recognized layout blob magic numbers. stripeOffset is only meaningful
// (and only patched) for these two; any other magic is saved verbatim.
const (
	magicV1 uint32 = 0x0bd10bd0
	magicV3 uint32 = 0x0bd30bd0
)

// stripeOffsetAt is the byte offset of the 2-byte little-endian
// stripe_offset field shared by the V1 and V3 layout blob layouts:
// magic(4) pattern(4) object_id(8) object_seq(8) stripe_size(4)
// stripe_count(2) stripe_offset(2) ...
const stripeOffsetAt = 30

const lovFilePerm = 0o600

// xattrSizeMax bounds the layout blob buffer, matching the original's
// XATTR_SIZE_MAX-sized stack buffer.
const xattrSizeMax = 65536

// SaveStripe reads the layout extended attribute off srcFD and writes it to
// "<dstPath>.lov". If the blob's magic is a recognized layout version, the
// stripe_offset field is forced to -1 before writing so that a later
// restore isn't pinned to whichever device happened to hold the original
// stripe. Saving is best-effort from the caller's point of view: any
// failure here is a soft/minor error, not a reason to abort the archive.
//
// The xattr is read by fd (golang.org/x/sys/unix.Fgetxattr), not by path:
// wrapping a caller-owned fd in an *os.File (as github.com/pkg/xattr's
// fd-oriented helpers require) would attach a GC finalizer that can close
// the descriptor out from under its owner, so the raw fd syscalls are used
// directly instead.
func SaveStripe(srcFD int, dstPath string) error {
	tmp := make([]byte, xattrSizeMax)
	n, err := unix.Fgetxattr(srcFD, layoutXattr, tmp)
	if err != nil {
		return fmt.Errorf("layout: read layout xattr: %w", err)
	}
	buf := tmp[:n]

	if len(buf) >= stripeOffsetAt+2 {
		magic := binary.LittleEndian.Uint32(buf[0:4])
		if magic == magicV1 || magic == magicV3 {
			binary.LittleEndian.PutUint16(buf[stripeOffsetAt:stripeOffsetAt+2], 0xffff)
		}
	}

	f, err := os.OpenFile(dstPath+".lov", os.O_TRUNC|os.O_CREATE|os.O_WRONLY, lovFilePerm)
	if err != nil {
		return fmt.Errorf("layout: open %s.lov: %w", dstPath, err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("layout: write %s.lov: %w", dstPath, err)
	}
	return nil
}

// LoadStripe reads "<srcPath>.lov" and returns its contents. A missing
// sidecar is reported via errors.Is(err, os.ErrNotExist) on the returned
// error (wrapped with %w, so os.IsNotExist itself won't recognize it) so
// callers can treat it as a soft failure and proceed with filesystem-
// default striping, per the archive entry invariant that a data file's
// .lov may be legitimately absent (pre-existing external import).
func LoadStripe(srcPath string) ([]byte, error) {
	buf, err := os.ReadFile(srcPath + ".lov")
	if err != nil {
		return nil, fmt.Errorf("layout: read %s.lov: %w", srcPath, err)
	}
	return buf, nil
}

// RestoreStripe loads the side-car for srcPath and applies it to dstFD as
// the layout xattr, using create-only semantics so an already-allocated
// layout on the destination is never silently clobbered. A missing side-car
// is not an error: RestoreStripe returns nil and leaves dstFD's layout as
// it is. Any other failure here is fatal to the caller's restore.
func RestoreStripe(srcPath string, dstFD int) error {
	buf, err := LoadStripe(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := unix.Fsetxattr(dstFD, layoutXattr, buf, unix.XATTR_CREATE); err != nil {
		return fmt.Errorf("layout: set layout xattr: %w", err)
	}
	return nil
}
