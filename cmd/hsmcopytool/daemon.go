package main

import (
	"fmt"
	"os"

	"github.com/coldtier/hsmcopytool/internal/actions"
	"github.com/coldtier/hsmcopytool/internal/coordinator/memcoord"
	"github.com/coldtier/hsmcopytool/internal/ctlog"
	"github.com/coldtier/hsmcopytool/internal/dispatch"
	"github.com/coldtier/hsmcopytool/internal/setup"
	"github.com/spf13/cobra"
)

// newDaemonCmd builds the "daemon" subcommand: ct_run's for(;;) loop, wired
// to this process's archive root fd, signal handling and coordinator
// client.
func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon <mount>",
		Short: "run the action-dispatch loop until shutdown or a terminating signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mount := args[0]
			opt, err := buildOptions(mount)
			if err != nil {
				return err
			}
			log := ctlog.New(os.Stderr, opt.Verbosity)

			root, err := setup.Open(opt.HSMRoot)
			if err != nil {
				return err
			}
			defer func() {
				if err := root.Close(); err != nil {
					ctlog.Error(log, "daemon: close archive root failed", "error", err)
				}
			}()

			fsName, err := setup.ResolveFSName(mount)
			if err != nil {
				return err
			}
			opt.FSName = fsName
			ctlog.Notice(log, "daemon: starting", "mount", mount, "fsname", fsName, "hsm_root", opt.HSMRoot, "archives", opt.ArchiveIDs)

			ctx, cancel := setup.HandleSignals(cmd.Context(), log)
			defer cancel()

			// The coordinator transport is an opaque external collaborator
			// per the core's scope (see internal/coordinator): no cgo
			// binding to a real distributed-filesystem client ships in
			// this repo. memcoord stands in here so "daemon" is a
			// complete, runnable binary end to end; swapping in a real
			// coordinator.Client implementation requires no change to
			// dispatch, actions, or anything below them. See DESIGN.md.
			client := memcoord.New(fsName)

			counters := &actions.Counters{}
			runErr := dispatch.Run(ctx, client, opt, counters, log)

			// Mirrors main()'s final CT_TRACE summary line, skipped only
			// for max-sequence per the original.
			ctlog.Notice(log, "daemon: exiting", "err_major", counters.ErrMajor.Load(), "err_minor", counters.ErrMinor.Load())
			if runErr != nil {
				return fmt.Errorf("daemon: %w", runErr)
			}
			return nil
		},
	}
}
