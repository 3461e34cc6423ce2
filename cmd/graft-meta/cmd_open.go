package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/metagraft/pkg/submodule"
)

func newOpenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open <names...>",
		Short: "Materialize submodule working trees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(g)
			if err != nil {
				return err
			}
			defer s.close()

			for _, name := range args {
				h, err := s.opener.Get(cmd.Context(), name, submodule.ForceOpen)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "opened %s at %s\n", name, h.RootDir)
			}
			return nil
		},
	}
}

func newCloseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "close <names...>",
		Short: "Remove clean submodule working trees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(g)
			if err != nil {
				return err
			}
			defer s.close()

			var errs []error
			for _, name := range args {
				if err := s.opener.Close(name); err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", name)
			}
			return errors.Join(errs...)
		},
	}
}
