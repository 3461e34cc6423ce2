package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/metagraft/pkg/submodule"
)

func newIncludeCmd() *cobra.Command {
	var name, url string

	cmd := &cobra.Command{
		Use:   "include <path>",
		Short: "Register a new empty submodule at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			path := args[0]
			if name == "" {
				name = path
			}
			if _, err := submodule.Add(r, name, path, url); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "included submodule %s at %s\n", name, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "submodule name (defaults to its path)")
	cmd.Flags().StringVar(&url, "url", "", "upstream location recorded in the configuration")
	return cmd
}
