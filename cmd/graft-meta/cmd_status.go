package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/metagraft/pkg/status"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	var ignoreIndex, allUntracked bool

	cmd := &cobra.Command{
		Use:   "status [paths...]",
		Short: "Show meta and submodule working tree status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(g)
			if err != nil {
				return err
			}
			defer s.close()

			report, err := status.MetaStatus(cmd.Context(), s.opener, status.Options{
				Paths:               args,
				IgnoreIndex:         ignoreIndex,
				IncludeAllUntracked: allUntracked,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeShortStatus(out, "", report.Meta)
			for _, sub := range report.Submodules {
				if sub.Err != nil {
					s.logger.Warn("submodule status failed", zap.String("submodule", sub.Name), zap.Error(sub.Err))
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", sub.Path, sub.Err)
					continue
				}
				if sub.Staged != status.Unmodified || sub.Workdir != status.Unmodified {
					fmt.Fprintf(out, "%s%s %s (submodule %s, %s)\n",
						sub.Staged.Letter(), sub.Workdir.Letter(), sub.Path, sub.Name, sub.State)
				}
				writeShortStatus(out, sub.Path+"/", sub.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ignoreIndex, "ignore-index", false, "compare the working tree directly with HEAD")
	cmd.Flags().BoolVarP(&allUntracked, "untracked-files", "u", false, "list every untracked file")
	return cmd
}

// writeShortStatus prints "XY path" lines, X for staged and Y for workdir.
func writeShortStatus(w io.Writer, prefix string, st *status.RepoStatus) {
	if st == nil {
		return
	}
	for _, p := range st.Paths() {
		fmt.Fprintf(w, "%s%s %s%s\n", st.Staged[p].Letter(), st.Workdir[p].Letter(), prefix, p)
	}
}
