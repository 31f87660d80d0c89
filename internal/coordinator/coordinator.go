// Package coordinator defines the contract between this copytool and the
// external agent that feeds it work: action lists to process, and the
// handle/progress/completion calls a handler makes while processing one.
//
// The transport behind Client (netlink, ioctl, whatever a real coordinator
// speaks) is out of scope here; this package only fixes the Go-idiomatic
// shape of the interaction so internal/actions and internal/dispatch can be
// written and tested against it.
package coordinator

import (
	"context"
	"errors"
	"os"

	"github.com/coldtier/hsmcopytool/internal/fid"
)

// ActionKind identifies what a handler should do with an ActionItem.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionArchive
	ActionRestore
	ActionRemove
	ActionCancel
)

func (k ActionKind) String() string {
	switch k {
	case ActionArchive:
		return "ARCHIVE"
	case ActionRestore:
		return "RESTORE"
	case ActionRemove:
		return "REMOVE"
	case ActionCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Extent describes a byte range of a file. Length of -1 means "to EOF".
type Extent struct {
	Offset int64
	Length int64
}

// ActionItem is one unit of work out of an ActionList: an action kind
// against one file, identified both by its own FID and by the FID of the
// filesystem object holding its data.
type ActionItem struct {
	Kind      ActionKind
	FID       fid.FID
	DataFID   fid.FID // filesystem object Archive reads the data from; Restore and Remove use FID only
	Extent    Extent
	Cookie    uint64 // opaque coordinator-assigned id, echoed back on End
	ArchiveID int
}

// ActionList is a batch of work delivered by a single Recv call, covering
// one filesystem by name.
type ActionList struct {
	FSName string
	Items  []ActionItem
}

// Handle is an opaque per-item token obtained from Begin and required by
// every other per-item coordinator call. Client implementations construct
// it via NewHandle; callers outside a Client implementation only ever pass
// it back through, never inspect it.
type Handle struct {
	item *ActionItem
	id   uint64
}

// NewHandle constructs a Handle; only Client implementations should call
// this.
func NewHandle(item *ActionItem, id uint64) *Handle {
	return &Handle{item: item, id: id}
}

// ID returns the opaque identifier a Client implementation gave h.
func (h *Handle) ID() uint64 { return h.id }

// Item returns the ActionItem h was opened for.
func (h *Handle) Item() *ActionItem { return h.item }

// End-call flag bits, mirroring the original's HP_FLAG_* bitmask.
const (
	FlagRetry = 1 << iota
)

// ErrShutdown is returned by Recv when the coordinator is asking the
// daemon to stop accepting new work and exit cleanly.
var ErrShutdown = errors.New("coordinator: shutdown requested")

// ErrRetry is returned by Recv when the current receive should be retried,
// e.g. after a transient transport error.
var ErrRetry = errors.New("coordinator: transient receive error, retry")

// Client is the set of calls a dispatch loop and its handlers make against
// the external coordinator.
type Client interface {
	// Register announces this copytool to the coordinator for mount,
	// advertising archiveIDs as the backends it services.
	Register(ctx context.Context, mount string, archiveIDs []int) error

	// Unregister withdraws the registration made by Register. Called on
	// clean shutdown and on SIGINT/SIGTERM.
	Unregister() error

	// Recv blocks until an ActionList is available, the coordinator signals
	// shutdown (ErrShutdown), or a transient error occurs (ErrRetry).
	Recv(ctx context.Context) (*ActionList, error)

	// Begin opens a handle for processing item. isError begins a handle
	// purely to report a failure (e.g. an unrecognized action kind) without
	// intending to do any I/O.
	Begin(item *ActionItem, isError bool) (*Handle, error)

	// End closes out h, reporting the final extent processed, flags (see
	// Flag* constants) and an errno (0 on success).
	End(h *Handle, extent Extent, flags int, errno int) error

	// Progress reports incremental progress on h. A non-nil return means
	// the coordinator is asking for cancellation.
	Progress(h *Handle, extent Extent, flags int) error

	// GetDFID returns the FID restore should write into.
	GetDFID(h *Handle) (fid.FID, error)

	// GetFD returns an already-open destination file for a restore. The
	// caller must not close it before calling End.
	GetFD(h *Handle) (*os.File, error)

	// FID2Path resolves f to a human-readable path under mount; Archive
	// uses it to name the entry's shadow-tree symlink.
	FID2Path(mount string, f fid.FID) (string, error)

	// Import registers a pre-existing file at dstAbs under archiveID,
	// returning the FID assigned to it.
	Import(dstAbs string, archiveID int, info os.FileInfo) (fid.FID, error)
}
