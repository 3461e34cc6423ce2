package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/metagraft/pkg/object"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <commit>",
		Short: "Check the SSH signature of a commit, such as a merge result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			h, err := r.ResolveCommitish(args[0])
			if err != nil {
				return err
			}
			c, err := r.Store.ReadCommit(h)
			if err != nil {
				return err
			}
			if c.Signature == "" {
				return fmt.Errorf("commit %s is not signed", h.Short())
			}
			if err := verifySSHSignature(object.CommitSigningPayload(c), c.Signature); err != nil {
				return fmt.Errorf("commit %s: bad signature: %w", h.Short(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "good signature on %s\n", h.Short())
			return nil
		},
	}
}
