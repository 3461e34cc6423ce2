package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/object"
)

const branchPrefix = "refs/heads/"

// CreateBranch points a new branch at target. It never moves an existing
// branch, so merge results can be named without touching HEAD.
func (r *Repo) CreateBranch(name string, target object.Hash) error {
	if !validRefName(name) {
		return errdefs.Userf("invalid branch name %q", name)
	}
	err := r.UpdateRef(branchPrefix+name, target, "")
	switch {
	case errors.Is(err, ErrRefCASMismatch):
		return errdefs.Userf("branch %q already exists", name)
	case err != nil:
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	return nil
}

// ListBranches returns every branch name, including slash-separated ones,
// in sorted order.
func (r *Repo) ListBranches() ([]string, error) {
	root := filepath.Join(r.ControlDir, "refs", "heads")
	var names []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// CurrentBranch returns the branch HEAD points at, or "" when detached.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	name, ok := strings.CutPrefix(head, branchPrefix)
	if !ok {
		return "", nil
	}
	return name, nil
}
