package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/metagraft/pkg/hook"
	"github.com/odvcencio/metagraft/pkg/metamerge"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

func newMergeBareCmd(g *globalFlags) *cobra.Command {
	var message, author string
	var noFF bool

	cmd := &cobra.Command{
		Use:   "merge-bare <ours> <theirs>",
		Short: "Merge two commits without touching the working tree",
		Long: "Merge two meta commits, merging changed submodules recursively, and print the\n" +
			"resulting commit id. No branch or working tree is updated.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("merge message required (-m)")
			}
			s, err := openSession(g)
			if err != nil {
				return err
			}
			defer s.close()

			signer, err := s.signer()
			if err != nil {
				return err
			}
			req := metamerge.Request{
				Ours:       args[0],
				Theirs:     args[1],
				Message:    message,
				Author:     s.author(author),
				OpenOption: submodule.ForceBare,
			}
			if noFF {
				req.Mode = metamerge.ModeForceCommit
			}
			if s.cfg.Merge.OpenSubmodules {
				req.OpenOption = submodule.ForceOpen
			}

			engine := &metamerge.Engine{
				Opener: s.opener,
				Hooks:  &hook.Runner{Logger: s.logger},
				Logger: s.logger,
				Signer: signer,
			}
			res := engine.Merge(cmd.Context(), req)
			if res.Err != nil {
				return res.Err
			}
			if res.FastForward {
				s.logger.Info("fast-forward, no commit created", zap.String("commit", string(res.Commit)))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Commit)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	cmd.Flags().StringVar(&author, "author", "", "override author")
	cmd.Flags().BoolVar(&noFF, "no-ff", false, "create a merge commit even when a fast-forward is possible")
	return cmd
}
