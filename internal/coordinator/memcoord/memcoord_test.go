package memcoord

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coldtier/hsmcopytool/internal/coordinator"
	"github.com/coldtier/hsmcopytool/internal/fid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndFSName(t *testing.T) {
	c := New("")
	require.NoError(t, c.Register(context.Background(), "testfs", []int{1, 2}))
	assert.Equal(t, "testfs", c.FSName())
}

func TestRecvDrainsQueueThenShutsDown(t *testing.T) {
	c := New("testfs")
	list := &coordinator.ActionList{FSName: "testfs", Items: []coordinator.ActionItem{{Kind: coordinator.ActionArchive}}}
	c.Enqueue(list)

	got, err := c.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, list, got)

	_, err = c.Recv(context.Background())
	assert.ErrorIs(t, err, coordinator.ErrShutdown)
}

func TestBeginEndRoundTrip(t *testing.T) {
	c := New("testfs")
	item := &coordinator.ActionItem{Kind: coordinator.ActionRemove, FID: fid.FID{Sequence: 1, OID: 2}}
	h, err := c.Begin(item, false)
	require.NoError(t, err)

	require.NoError(t, c.End(h, coordinator.Extent{}, 0, 0))
	assert.Len(t, c.Ends, 1)
	assert.Equal(t, *item, c.Ends[0].Item)

	assert.Error(t, c.End(h, coordinator.Extent{}, 0, 0), "ending an already-ended handle should fail")
}

func TestProgressHookCanCancel(t *testing.T) {
	c := New("testfs")
	c.OnProgress = func(coordinator.Extent) error { return assert.AnError }
	item := &coordinator.ActionItem{Kind: coordinator.ActionArchive}
	h, err := c.Begin(item, false)
	require.NoError(t, err)

	err = c.Progress(h, coordinator.Extent{Offset: 10}, 0)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, c.ProgressCalls, 1)
}

func TestGetDFIDAndGetFD(t *testing.T) {
	dir := t.TempDir()
	c := New("testfs")
	itemFID := fid.FID{Sequence: 1, OID: 1}
	dfid := fid.FID{Sequence: 2, OID: 2}
	f, err := os.Create(filepath.Join(dir, "volatile"))
	require.NoError(t, err)
	defer f.Close()
	c.SetRestoreTarget(itemFID, dfid, f)

	item := &coordinator.ActionItem{Kind: coordinator.ActionRestore, FID: itemFID}
	h, err := c.Begin(item, false)
	require.NoError(t, err)

	gotDFID, err := c.GetDFID(h)
	require.NoError(t, err)
	assert.Equal(t, dfid, gotDFID)

	gotFD, err := c.GetFD(h)
	require.NoError(t, err)
	assert.Equal(t, f, gotFD)
}

func TestImportAllocatesDistinctFIDs(t *testing.T) {
	c := New("testfs")
	info, err := os.Stat(t.TempDir())
	require.NoError(t, err)

	f1, err := c.Import("/archive/a", 1, info)
	require.NoError(t, err)
	f2, err := c.Import("/archive/b", 1, info)
	require.NoError(t, err)

	assert.NotEqual(t, f1, f2)
	assert.Len(t, c.Imports, 2)
}

func TestFID2Path(t *testing.T) {
	c := New("testfs")
	p, err := c.FID2Path("/mnt", fid.FID{Sequence: 1, OID: 2, Version: 3})
	require.NoError(t, err)
	assert.Contains(t, p, "/mnt")
}
