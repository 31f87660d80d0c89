// Package memcoord is an in-memory implementation of coordinator.Client,
// standing in for a running Lustre coordinator so internal/actions and
// internal/dispatch can be driven and asserted against in tests without a
// real mounted filesystem.
package memcoord

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/coldtier/hsmcopytool/internal/coordinator"
	"github.com/coldtier/hsmcopytool/internal/fid"
)

// EndCall records one call to End, for test assertions.
type EndCall struct {
	Item   coordinator.ActionItem
	Extent coordinator.Extent
	Flags  int
	Errno  int
}

// ImportCall records one call to Import.
type ImportCall struct {
	DstAbs    string
	ArchiveID int
	FID       fid.FID
}

type handleState struct {
	item coordinator.ActionItem
	dfid fid.FID
}

// Client is a single-process, single-filesystem in-memory coordinator.
type Client struct {
	mu sync.Mutex

	fsName     string
	archiveIDs []int
	registered bool

	queue []*coordinator.ActionList

	nextHandleID uint64
	handles      map[uint64]*handleState

	restoreFDs   map[fid.FID]*os.File
	restoreDFIDs map[fid.FID]fid.FID

	nextAllocSeq uint64

	Ends          []EndCall
	Imports       []ImportCall
	ProgressCalls []coordinator.Extent

	// OnProgress, if set, is called by Progress and its return value is
	// propagated to the caller; used to simulate a mid-copy cancellation.
	OnProgress func(extent coordinator.Extent) error
}

// New returns a Client that will report fsName as its filesystem when
// asked, with no pending work.
func New(fsName string) *Client {
	return &Client{
		fsName:       fsName,
		handles:      make(map[uint64]*handleState),
		restoreFDs:   make(map[fid.FID]*os.File),
		restoreDFIDs: make(map[fid.FID]fid.FID),
		nextAllocSeq: 0x200000400,
	}
}

// FSName returns the filesystem name this client is registered under.
func (c *Client) FSName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fsName
}

// Enqueue makes list available to a future Recv call.
func (c *Client) Enqueue(list *coordinator.ActionList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, list)
}

// SetRestoreTarget configures what GetFD/GetDFID return for a future
// restore of itemFID, as a real coordinator would have already allocated a
// volatile destination object before delivering the action.
func (c *Client) SetRestoreTarget(itemFID fid.FID, dfid fid.FID, dst *os.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreDFIDs[itemFID] = dfid
	c.restoreFDs[itemFID] = dst
}

func (c *Client) Register(_ context.Context, mount string, archiveIDs []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mount != "" && c.fsName == "" {
		c.fsName = mount
	}
	c.archiveIDs = archiveIDs
	c.registered = true
	return nil
}

func (c *Client) Unregister() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = false
	return nil
}

// Recv returns the next enqueued ActionList, or coordinator.ErrShutdown
// once the queue has been drained — there is no real coordinator behind
// this implementation to block waiting for more work from, so "queue
// empty" and "told to shut down" are the same event here.
func (c *Client) Recv(ctx context.Context) (*coordinator.ActionList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.queue) == 0 {
		return nil, coordinator.ErrShutdown
	}
	list := c.queue[0]
	c.queue = c.queue[1:]
	return list, nil
}

func (c *Client) Begin(item *coordinator.ActionItem, isError bool) (*coordinator.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandleID++
	id := c.nextHandleID
	c.handles[id] = &handleState{
		item: *item,
		dfid: c.restoreDFIDs[item.FID],
	}
	return coordinator.NewHandle(item, id), nil
}

func (c *Client) End(h *coordinator.Handle, extent coordinator.Extent, flags int, errno int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.handles[h.ID()]
	if !ok {
		return fmt.Errorf("memcoord: end: unknown handle")
	}
	c.Ends = append(c.Ends, EndCall{Item: st.item, Extent: extent, Flags: flags, Errno: errno})
	delete(c.handles, h.ID())
	return nil
}

func (c *Client) Progress(_ *coordinator.Handle, extent coordinator.Extent, _ int) error {
	c.mu.Lock()
	hook := c.OnProgress
	c.ProgressCalls = append(c.ProgressCalls, extent)
	c.mu.Unlock()
	if hook != nil {
		return hook(extent)
	}
	return nil
}

func (c *Client) GetDFID(h *coordinator.Handle) (fid.FID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.handles[h.ID()]
	if !ok {
		return fid.FID{}, fmt.Errorf("memcoord: get_dfid: unknown handle")
	}
	return st.dfid, nil
}

func (c *Client) GetFD(h *coordinator.Handle) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.handles[h.ID()]
	if !ok {
		return nil, fmt.Errorf("memcoord: get_fd: unknown handle")
	}
	f, ok := c.restoreFDs[st.item.FID]
	if !ok {
		return nil, fmt.Errorf("memcoord: no restore target configured for %s", st.item.FID)
	}
	return f, nil
}

func (c *Client) FID2Path(mount string, f fid.FID) (string, error) {
	return mount + "/" + f.String(), nil
}

func (c *Client) Import(dstAbs string, archiveID int, info os.FileInfo) (fid.FID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextAllocSeq++
	f := fid.FID{Sequence: c.nextAllocSeq, OID: uint32(len(c.Imports) + 1), Version: 0}
	c.Imports = append(c.Imports, ImportCall{DstAbs: dstAbs, ArchiveID: archiveID, FID: f})
	_ = info
	return f, nil
}
