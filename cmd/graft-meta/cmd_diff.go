package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/metagraft/pkg/metadiff"
)

func newDiffCmd(g *globalFlags) *cobra.Command {
	var (
		cached     bool
		noIndex    bool
		nameOnly   bool
		nameStatus bool
		raw        bool
		renames    bool
		unified    int
	)

	cmd := &cobra.Command{
		Use:   "diff [<commit> [<commit>]] [--] [paths...]",
		Short: "Show changes across the meta repository and its submodules",
		RunE: func(cmd *cobra.Command, args []string) error {
			rd := metadiff.Renderer{
				Format:      metadiff.Patch,
				Context:     unified,
				FuncContext: true,
			}
			switch {
			case nameOnly:
				rd.Format = metadiff.NameOnly
			case nameStatus:
				rd.Format = metadiff.NameStatus
			case raw:
				rd.Format = metadiff.Raw
			}

			if noIndex {
				return diffNoIndex(cmd, rd, args)
			}

			s, err := openSession(g)
			if err != nil {
				return err
			}
			defer s.close()

			t, err := metadiff.ResolveTargets(s.meta, withDash(args, cmd.ArgsLenAtDash()))
			if err != nil {
				return err
			}
			t.Cached = cached
			t.Renames = renames
			if !cmd.Flags().Changed("unified") {
				rd.Context = s.cfg.Diff.Context
			}

			agg := &metadiff.Aggregator{
				Opener:   s.opener,
				Renderer: rd,
				Workers:  s.cfg.Diff.Workers,
				Logger:   s.logger,
			}
			report, err := agg.Run(cmd.Context(), t, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return report.Err()
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "compare the index instead of the working tree")
	cmd.Flags().BoolVar(&cached, "staged", false, "synonym for --cached")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "compare two paths on disk")
	cmd.Flags().BoolVar(&nameOnly, "name-only", false, "show only names of changed files")
	cmd.Flags().BoolVar(&nameStatus, "name-status", false, "show names and status of changed files")
	cmd.Flags().BoolVar(&raw, "raw", false, "show modes and object ids")
	cmd.Flags().BoolVarP(&renames, "find-renames", "M", false, "detect renames")
	cmd.Flags().IntVarP(&unified, "unified", "U", metadiff.DefaultContext, "lines of context")
	cmd.MarkFlagsMutuallyExclusive("name-only", "name-status", "raw")
	return cmd
}

// diffNoIndex compares two files outside any repository.
func diffNoIndex(cmd *cobra.Command, rd metadiff.Renderer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("--no-index requires exactly two paths")
	}
	before, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	after, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	return rd.RenderContent(cmd.OutOrStdout(), args[0], args[1], before, after)
}

// withDash restores the "--" separator cobra strips from args.
func withDash(args []string, dash int) []string {
	if dash < 0 {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[:dash]...)
	out = append(out, "--")
	return append(out, args[dash:]...)
}
