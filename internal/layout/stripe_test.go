package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// requireTrustedXattr skips the test when the caller can't set trusted.*
// xattrs, which on Linux requires CAP_SYS_ADMIN regardless of file
// ownership.
func requireTrustedXattr(t *testing.T, fd int) {
	t.Helper()
	if err := unix.Fsetxattr(fd, layoutXattr, []byte("probe"), 0); err != nil {
		t.Skipf("trusted xattrs unavailable in this environment: %v", err)
	}
}

func TestSaveStripeClearsStripeOffset(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(srcPath, []byte("data"), 0o600))
	src, err := os.OpenFile(srcPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer src.Close()

	requireTrustedXattr(t, int(src.Fd()))

	blob := make([]byte, 32)
	putUint32(blob[0:4], magicV1)
	putUint16(blob[stripeOffsetAt:stripeOffsetAt+2], 7)
	require.NoError(t, unix.Fsetxattr(int(src.Fd()), layoutXattr, blob, 0))

	dstPath := filepath.Join(dir, "dst")
	require.NoError(t, SaveStripe(int(src.Fd()), dstPath))

	saved, err := LoadStripe(dstPath)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xffff), getUint16(saved[stripeOffsetAt:stripeOffsetAt+2]))
}

func TestLoadStripeMissingIsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadStripe(filepath.Join(dir, "nope"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRestoreStripeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(srcPath, []byte("data"), 0o600))
	src, err := os.OpenFile(srcPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer src.Close()
	requireTrustedXattr(t, int(src.Fd()))

	blob := make([]byte, 32)
	putUint32(blob[0:4], magicV3)
	require.NoError(t, unix.Fsetxattr(int(src.Fd()), layoutXattr, blob, 0))
	sidecarBase := filepath.Join(dir, "archived")
	require.NoError(t, SaveStripe(int(src.Fd()), sidecarBase))

	dstPath := filepath.Join(dir, "restored")
	require.NoError(t, os.WriteFile(dstPath, []byte("data"), 0o600))
	dst, err := os.OpenFile(dstPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, RestoreStripe(sidecarBase, int(dst.Fd())))

	got := make([]byte, xattrSizeMax)
	n, err := unix.Fgetxattr(int(dst.Fd()), layoutXattr, got)
	require.NoError(t, err)
	assert.Equal(t, len(blob), n)
}

func TestRestoreStripeMissingSidecarIsNoop(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "restored")
	require.NoError(t, os.WriteFile(dstPath, []byte("data"), 0o600))
	dst, err := os.OpenFile(dstPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer dst.Close()

	assert.NoError(t, RestoreStripe(filepath.Join(dir, "missing"), int(dst.Fd())))
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
