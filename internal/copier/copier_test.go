package copier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldtier/hsmcopytool/internal/coordinator"
	"github.com/coldtier/hsmcopytool/internal/nbio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRW(t *testing.T, path string, content []byte) *os.File {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0o600))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func noopProgress(coordinator.Extent) error { return nil }

func TestCopyWholeFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte("the quick brown fox jumps over the lazy dog")
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), nil)

	res, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionArchive, Options{ChunkSize: 4, ReportInterval: 10 * time.Millisecond}, noopProgress)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), res.BytesWritten)

	got, err := os.ReadFile(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCopyPartialExtent(t *testing.T) {
	dir := t.TempDir()
	data := []byte("0123456789abcdef")
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), make([]byte, len(data)))

	res, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 4, Length: 6},
		coordinator.ActionArchive, Options{ChunkSize: 3, ReportInterval: 10 * time.Millisecond}, noopProgress)
	require.NoError(t, err)
	assert.EqualValues(t, 6, res.BytesWritten)

	got, err := os.ReadFile(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), got[4:10])
}

func TestCopyRestoreTruncatesTail(t *testing.T) {
	dir := t.TempDir()
	data := []byte("short")
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), []byte("much longer original content"))

	res, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionRestore, Options{ChunkSize: 2, ReportInterval: 10 * time.Millisecond}, noopProgress)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), res.BytesWritten)

	info, err := os.Stat(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.EqualValues(t, len(data), info.Size())
}

func TestCopyRestoreTruncatesTailOnPreTransferCancel(t *testing.T) {
	dir := t.TempDir()
	data := []byte("short")
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), []byte("much longer original content"))

	_, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionRestore, Options{ChunkSize: 2, ReportInterval: 10 * time.Millisecond},
		func(coordinator.Extent) error { return assert.AnError })
	require.ErrorIs(t, err, ErrCanceled)

	// Truncate-on-restore must still run even though the cancel happened
	// before any bytes were transferred.
	info, err := os.Stat(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.EqualValues(t, len(data), info.Size())
}

func TestCopyRestoreTruncatesTailOnMidCopyCancel(t *testing.T) {
	dir := t.TempDir()
	data := []byte("short source data")
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), []byte("much longer original destination content"))

	var calls int
	progress := func(coordinator.Extent) error {
		calls++
		if calls >= 2 {
			return assert.AnError
		}
		return nil
	}

	_, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionRestore, Options{ChunkSize: 1, ReportInterval: time.Nanosecond}, progress)
	require.ErrorIs(t, err, ErrCanceled)
	require.GreaterOrEqual(t, calls, 2)

	// Truncate-on-restore must still run even though the copy was
	// cancelled partway through.
	info, err := os.Stat(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.EqualValues(t, len(data), info.Size())
}

func TestCopyCancelsOnProgressError(t *testing.T) {
	dir := t.TempDir()
	data := []byte("abc")
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), nil)

	_, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionArchive, Options{ChunkSize: 1, ReportInterval: time.Millisecond},
		func(coordinator.Extent) error { return assert.AnError })
	require.ErrorIs(t, err, ErrCanceled)
}

func TestCopyBandwidthCapBoundsDuration(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 200_000)
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), nil)

	start := time.Now()
	_, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionArchive,
		Options{ChunkSize: 20_000, ReportInterval: time.Second, BandwidthLimit: 100_000},
		noopProgress)
	require.NoError(t, err)
	elapsed := time.Since(start)
	// at 100kB/s, 200kB should take at least ~1s (minus slack for the
	// first free window and the throttle's cap/approximation).
	assert.Greater(t, elapsed, 400*time.Millisecond)
}

// TestCopyMidTransferReadTimeoutStillReportsProgress exercises §4.D's "timeout
// mid-transfer -> treat as wrote nothing this iteration" bullet: a read that
// times out after some bytes have already been transferred must not skip
// the write/throttle/report bullets that follow it in the loop body, or
// cancellation latency would stop being bounded by ReportInterval. A plain
// temp file's fd never returns EAGAIN, so the read step is faked here to
// time out once, after which the real data is still there to read.
func TestCopyMidTransferReadTimeoutStillReportsProgress(t *testing.T) {
	dir := t.TempDir()
	data := []byte("0123456789")
	src := openRW(t, filepath.Join(dir, "src"), data)
	dst := openRW(t, filepath.Join(dir, "dst"), nil)

	var reads int
	fakeRead := func(ctx context.Context, fd int, buf []byte, reportInterval time.Duration) (int, error) {
		reads++
		if reads == 2 {
			// Second read (the first mid-copy one, after the initial
			// chunk has already been written) times out once.
			return 0, nbio.ErrTimeout
		}
		return defaultReadStep(ctx, fd, buf, reportInterval)
	}

	var progressCalls []int64
	progress := func(extent coordinator.Extent) error {
		progressCalls = append(progressCalls, extent.Length)
		return nil
	}

	opt := Options{ChunkSize: 2, ReportInterval: time.Nanosecond, readStep: fakeRead}
	res, err := Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionArchive, opt, progress)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), res.BytesWritten)

	got, err := os.ReadFile(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The timed-out round must still have produced a progress report (the
	// zero-byte write that round still reaches the report bullet), not just
	// the pre-transfer call and the rounds with real data: 1 pre-transfer +
	// 5 two-byte rounds + 1 timed-out round = 7.
	require.GreaterOrEqual(t, len(progressCalls), 7)
}

func TestCopyRejectsNonRegularSrc(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir"), 0o700))
	src, err := os.Open(filepath.Join(dir, "adir"))
	require.NoError(t, err)
	defer src.Close()
	dst := openRW(t, filepath.Join(dir, "dst"), nil)

	_, err = Copy(context.Background(), src, dst, coordinator.Extent{Offset: 0, Length: -1},
		coordinator.ActionArchive, Options{}, noopProgress)
	require.ErrorIs(t, err, ErrNotRegular)
}
