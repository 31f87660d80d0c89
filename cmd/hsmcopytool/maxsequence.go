package main

import (
	"fmt"

	"github.com/coldtier/hsmcopytool/internal/admin"
	"github.com/spf13/cobra"
)

// newMaxSequenceCmd builds the "max-sequence" admin mode: scan the archive
// root and print the highest FID sequence number in use as 16 hex digits,
// mirroring ct_max_sequence. Unlike every other mode it skips the
// daemon/import/rebind completion log line (the original only emits that
// summary for non-CA_MAXSEQ actions).
func newMaxSequenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "max-sequence <mount>",
		Short: "print the highest FID sequence number represented in the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mount := args[0]
			opt, err := buildOptions(mount)
			if err != nil {
				return err
			}
			seq, err := admin.MaxSequence(opt.HSMRoot)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%016x\n", seq)
			return nil
		},
	}
}
