package main

import (
	"fmt"
	"os"

	"github.com/coldtier/hsmcopytool/internal/admin"
	"github.com/coldtier/hsmcopytool/internal/coordinator/memcoord"
	"github.com/coldtier/hsmcopytool/internal/ctlog"
	"github.com/coldtier/hsmcopytool/internal/setup"
	"github.com/spf13/cobra"
)

// newImportCmd builds the "import" admin mode: ct_import_recurse/
// ct_import_one, bulk-registering a pre-existing archive subtree.
func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <src> <dst> <mount>",
		Short: "register a pre-existing file or directory tree as archived entries",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst, mount := args[0], args[1], args[2]
			opt, err := buildOptions(mount)
			if err != nil {
				return err
			}
			log := ctlog.New(os.Stderr, opt.Verbosity)

			if len(opt.ArchiveIDs) != 1 {
				return fmt.Errorf("import: exactly one --archive is required, got %d", len(opt.ArchiveIDs))
			}

			fsName, err := setup.ResolveFSName(mount)
			if err != nil {
				return err
			}
			client := memcoord.New(fsName)

			if err := admin.Import(cmd.Context(), client, opt.HSMRoot, src, dst, opt.ArchiveIDs[0], opt, log); err != nil {
				return err
			}
			ctlog.Notice(log, "import: done", "src", src, "dst", dst)
			return nil
		},
	}
}
