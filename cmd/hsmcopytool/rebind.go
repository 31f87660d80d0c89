package main

import (
	"fmt"
	"os"

	"github.com/coldtier/hsmcopytool/internal/admin"
	"github.com/coldtier/hsmcopytool/internal/ctlog"
	"github.com/coldtier/hsmcopytool/internal/fid"
	"github.com/spf13/cobra"
)

// newRebindCmd builds the "rebind" admin mode. It accepts either
// "rebind <old-fid> <new-fid> <mount>" for a single pair, or
// "rebind <listfile> <mount>" for a whitespace-delimited list of pairs,
// mirroring ct_rebind's two call shapes off the same archive-layout rename.
func newRebindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebind (<old-fid> <new-fid> | <listfile>) <mount>",
		Short: "rename archive entries (and their stripe sidecars) from one FID to another",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mount := args[len(args)-1]
			opt, err := buildOptions(mount)
			if err != nil {
				return err
			}
			log := ctlog.New(os.Stderr, opt.Verbosity)

			if len(args) == 3 {
				oldFID, err := fid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("rebind: old fid: %w", err)
				}
				newFID, err := fid.Parse(args[1])
				if err != nil {
					return fmt.Errorf("rebind: new fid: %w", err)
				}
				if err := admin.Rebind(opt.HSMRoot, oldFID, newFID, opt.DryRun); err != nil {
					return err
				}
				ctlog.Notice(log, "rebind: done", "old", oldFID.String(), "new", newFID.String())
				return nil
			}

			listFile := args[0]
			if err := admin.RebindList(opt.HSMRoot, listFile, opt.DryRun, log); err != nil {
				return err
			}
			ctlog.Notice(log, "rebind: list done", "file", listFile)
			return nil
		},
	}
}
