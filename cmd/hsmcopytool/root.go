package main

import (
	"fmt"
	"os"
	"time"

	"github.com/coldtier/hsmcopytool/internal/options"
	"github.com/spf13/cobra"
)

// rootFlags backs the persistent flags every subcommand reads from, the way
// the original's single getopt_long table (ct_parseopts) is shared by every
// mode dispatched out of main().
type rootFlags struct {
	archiveIDs   []int
	hsmRoot      string
	chunkSize    options.Size
	bandwidth    options.Size
	report       int
	noAttr       bool
	noShadow     bool
	noXattr      bool
	abortOnError bool
	dryRun       bool
	maxWorkers   int
	verboseCount int
	quietCount   int
}

var flags = &rootFlags{
	chunkSize: options.Size(options.DefaultChunkSize),
	report:    30,
}

// buildOptions assembles an options.Options snapshot for mount from the
// parsed persistent flags, validating the archive-id ceiling the same way
// ct_parseopts's case 'A' does.
func buildOptions(mount string) (options.Options, error) {
	if len(flags.archiveIDs) == 0 {
		return options.Options{}, fmt.Errorf("at least one --archive is required")
	}
	for _, id := range flags.archiveIDs {
		if id < 1 || id > options.MaxArchiveCount {
			return options.Options{}, fmt.Errorf("--archive %d out of range [1,%d]", id, options.MaxArchiveCount)
		}
	}
	if flags.hsmRoot == "" && !flags.dryRun {
		return options.Options{}, fmt.Errorf("--hsm-root is required")
	}

	opt := options.Default()
	opt.Mount = mount
	opt.HSMRoot = flags.hsmRoot
	opt.ArchiveIDs = flags.archiveIDs
	opt.ChunkSize = int64(flags.chunkSize)
	opt.BandwidthLimit = int64(flags.bandwidth)
	opt.ReportInterval = time.Duration(flags.report) * time.Second
	opt.CopyAttrs = !flags.noAttr
	opt.CopyXattrs = !flags.noXattr
	opt.ShadowTree = !flags.noShadow
	opt.AbortOnError = flags.abortOnError
	opt.DryRun = flags.dryRun
	opt.MaxWorkers = flags.maxWorkers
	opt.Verbosity = flags.verboseCount - flags.quietCount
	return opt, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hsmcopytool",
		Short:         "HSM copy agent between a distributed filesystem and a POSIX archive backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.IntSliceVarP(&flags.archiveIDs, "archive", "A", nil, fmt.Sprintf("archive backend number to register for, 1-%d (repeatable)", options.MaxArchiveCount))
	pf.StringVar(&flags.hsmRoot, "hsm-root", "", "archive backend root directory (required except --dry-run)")
	pf.Var(&flags.chunkSize, "chunk-size", "copy engine buffer size, <N>[B|K|M|G] (default 1M)")
	pf.Var(&flags.bandwidth, "bandwidth", "bandwidth cap, <N>[B|K|M|G] (default unlimited)")
	pf.IntVar(&flags.report, "report", flags.report, "progress-report / readiness-wait interval, in seconds")
	pf.BoolVar(&flags.noAttr, "no-attr", false, "don't propagate mode/uid/gid/atime/mtime")
	pf.BoolVar(&flags.noShadow, "no-shadow", false, "don't maintain the path-indexed shadow symlink tree")
	pf.BoolVar(&flags.noXattr, "no-xattr", false, "don't propagate extended attributes")
	pf.BoolVar(&flags.abortOnError, "abort-on-error", false, "stop after the first major error instead of continuing")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "log intended actions without mutating the filesystem")
	pf.IntVar(&flags.maxWorkers, "max-workers", 0, "bound the dispatch loop's concurrent action-item workers (0 = unbounded)")
	pf.CountVarP(&flags.verboseCount, "verbose", "v", "increase log verbosity (repeatable)")
	pf.CountVarP(&flags.quietCount, "quiet", "q", "decrease log verbosity (repeatable)")

	root.AddCommand(newDaemonCmd(), newImportCmd(), newRebindCmd(), newMaxSequenceCmd())
	return root
}

// Execute runs the root command, exiting with status 1 on any returned
// error (the CLI surface's "-rc on failure" contract, minus the
// negated-errno detail that only the coordinator-facing per-item flow uses).
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
