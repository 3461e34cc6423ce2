// Package hook runs repository hook scripts stored under <control>/hooks.
package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/metagraft/pkg/logging"
	"github.com/odvcencio/metagraft/pkg/repo"
)

// PostMerge fires after the merge engine creates a new meta commit. Its
// single argument is the new commit id.
const PostMerge = "post-merge"

// Runner executes hooks. The zero value is usable and logs nothing.
type Runner struct {
	Logger *zap.Logger
}

// Path returns where the named hook lives for r.
func Path(r *repo.Repo, name string) string {
	return filepath.Join(r.ControlDir, "hooks", name)
}

// Exec runs the named hook with args if it exists and is executable. A
// missing hook is not an error. The hook runs in the working tree root (the
// control directory for bare repositories) with GRAFT_DIR set. Failures are
// logged and returned; they never undo work the caller already completed.
func (h *Runner) Exec(ctx context.Context, r *repo.Repo, name string, args ...string) error {
	log := logging.OrNop(h.logger()).With(zap.String("hook", name))

	path := Path(r, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("hook %s: %w", name, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		log.Debug("hook present but not executable", zap.String("path", path))
		return nil
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = r.ControlDir
	if !r.IsBare() {
		cmd.Dir = r.RootDir
	}
	cmd.Env = append(os.Environ(), "GRAFT_DIR="+r.ControlDir)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(output.String())
		log.Warn("hook failed", zap.Error(err), zap.String("output", out))
		if out != "" {
			return fmt.Errorf("hook %s: %w: %s", name, err, out)
		}
		return fmt.Errorf("hook %s: %w", name, err)
	}
	log.Debug("hook ran", zap.Strings("args", args))
	return nil
}

func (h *Runner) logger() *zap.Logger {
	if h == nil {
		return nil
	}
	return h.Logger
}
