package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/metagraft/pkg/logging"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

const version = "0.1.0-dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	dir       string
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "graft-meta",
		Short:         "Keep a meta repository and its submodules consistent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.dir == "" {
				return nil
			}
			if err := os.Chdir(g.dir); err != nil {
				return fmt.Errorf("change directory: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&g.dir, "directory", "C", "", "run as if started in this directory")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format (console, json)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newCommitCmd(g))
	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newIncludeCmd())
	root.AddCommand(newOpenCmd(g))
	root.AddCommand(newCloseCmd(g))
	root.AddCommand(newDiffCmd(g))
	root.AddCommand(newMergeBareCmd(g))
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newBranchCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "graft-meta", version)
		},
	}
}

// session is an opened meta repository with its config and logger.
type session struct {
	meta   *repo.Repo
	cfg    *repo.Config
	logger *zap.Logger
	opener *submodule.Opener
}

// openRepo opens the meta repository around the working directory. A
// directory holding a control directory's HEAD opens bare.
func openRepo() (*repo.Repo, error) {
	r, err := repo.Open(".")
	if err == nil {
		return r, nil
	}
	if _, statErr := os.Stat(filepath.Join(".", "HEAD")); statErr != nil {
		return nil, err
	}
	return repo.OpenBare(".")
}

// openSession opens the meta repository and builds a logger from its config,
// with command-line flags taking precedence.
func openSession(g *globalFlags) (*session, error) {
	r, err := openRepo()
	if err != nil {
		return nil, err
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, err
	}
	level, format := cfg.Log.Level, cfg.Log.Format
	if g.logLevel != "" {
		level = g.logLevel
	}
	if g.logFormat != "" {
		format = g.logFormat
	}
	logger, err := logging.NewLogger(level, format)
	if err != nil {
		return nil, err
	}
	return &session{
		meta:   r,
		cfg:    cfg,
		logger: logger,
		opener: submodule.NewOpener(r, submodule.WithLogger(logger)),
	}, nil
}

func (s *session) close() {
	_ = s.logger.Sync()
}

// author returns the configured identity, falling back to $USER.
func (s *session) author(override string) string {
	if override != "" {
		return override
	}
	if a := s.cfg.Author(); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// signer returns a commit signer when signing.key is configured.
func (s *session) signer() (repo.CommitSigner, error) {
	if s.cfg.Signing.Key == "" {
		return nil, nil
	}
	signer, keyPath, err := newSSHCommitSigner(s.cfg.Signing.Key)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("signing commits", zap.String("key", keyPath))
	return signer, nil
}
