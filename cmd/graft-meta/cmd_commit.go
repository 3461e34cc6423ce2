package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCommitCmd(g *globalFlags) *cobra.Command {
	var message, author string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record staged changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("commit message required (-m)")
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
			h, err := s.meta.CommitWithSigner(message, s.author(author), signer)
			if err != nil {
				return err
			}
			s.logger.Debug("committed", zap.String("commit", string(h)))
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", h.Short(), message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "override author")
	return cmd
}
