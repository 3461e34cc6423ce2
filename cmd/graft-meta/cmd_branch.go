package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBranchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branch [<name> [<commit>]]",
		Short: "List branches, or create one at a commit such as a merge-bare result",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				names, err := r.ListBranches()
				if err != nil {
					return err
				}
				current, err := r.CurrentBranch()
				if err != nil {
					return err
				}
				for _, name := range names {
					marker := "  "
					if name == current {
						marker = "* "
					}
					fmt.Fprintf(out, "%s%s\n", marker, name)
				}
				return nil
			}

			target := "HEAD"
			if len(args) == 2 {
				target = args[1]
			}
			h, err := r.ResolveCommitish(target)
			if err != nil {
				return err
			}
			if err := r.CreateBranch(args[0], h); err != nil {
				return err
			}
			fmt.Fprintf(out, "created branch %s at %s\n", args[0], h.Short())
			return nil
		},
	}
}
