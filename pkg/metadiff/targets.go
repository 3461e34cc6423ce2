// Package metadiff aggregates diffs across a meta repository and the
// submodules its pointer entries reference.
package metadiff

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
)

// Treeish is a resolved revision argument.
type Treeish struct {
	Arg  string      // literal argument as typed
	Tree object.Hash // root tree it resolved to
}

// Targets is the parsed form of a diff invocation: which arguments named
// trees and which were path filters. It is produced once by the command
// line parser and passed down unchanged.
type Targets struct {
	Trees []Treeish
	Paths []string
	// Cached compares against the index instead of the working tree.
	Cached bool
	// Renames pairs identical removed/added files and moved submodules.
	Renames bool
}

// WorkdirInvolved reports whether the new side of the comparison is the
// working tree.
func (t Targets) WorkdirInvolved() bool {
	return len(t.Trees) < 2 && !t.Cached
}

// ResolveTargets splits args into up to two tree-ish targets followed by
// path filters. Leading arguments are resolved in order; "--" or the first
// argument that does not resolve starts the path list. Without "--", an
// unresolvable argument must name an existing path. With "--", everything
// before it must resolve.
func ResolveTargets(r *repo.Repo, args []string) (Targets, error) {
	var t Targets
	sep := -1
	for i, a := range args {
		if a == "--" {
			sep = i
			break
		}
	}

	revs := args
	var paths []string
	if sep >= 0 {
		revs, paths = args[:sep], args[sep+1:]
	}

	for i, arg := range revs {
		tree, err := r.ResolveTreeish(arg)
		if err == nil {
			if len(t.Trees) == 2 {
				return Targets{}, errdefs.Userf("too many revisions: %q", arg)
			}
			t.Trees = append(t.Trees, Treeish{Arg: arg, Tree: tree})
			continue
		}
		if !errors.Is(err, repo.ErrUnknownRevision) && !errors.Is(err, object.ErrAmbiguousPrefix) {
			return Targets{}, fmt.Errorf("resolve %q: %w", arg, err)
		}
		if sep >= 0 {
			return Targets{}, &errdefs.UserError{Msg: fmt.Sprintf("bad revision %q", arg), Err: err}
		}
		if !pathExists(r, arg) {
			return Targets{}, &errdefs.UserError{
				Msg: fmt.Sprintf("ambiguous argument %q: unknown revision or path not in the working tree", arg),
				Err: err,
			}
		}
		paths = revs[i:]
		break
	}

	for _, p := range paths {
		t.Paths = append(t.Paths, cleanFilter(p))
	}
	return t, nil
}

func pathExists(r *repo.Repo, arg string) bool {
	if r.IsBare() {
		return false
	}
	if _, err := os.Lstat(filepath.Join(r.RootDir, filepath.FromSlash(arg))); err == nil {
		return true
	}
	_, err := os.Lstat(arg)
	return err == nil
}

func cleanFilter(p string) string {
	p = strings.Trim(path.Clean(filepath.ToSlash(p)), "/")
	if p == "." {
		return ""
	}
	return p
}

// GetDiff runs the diff primitive selected by the targets: no tree compares
// the index with the working tree (or HEAD with the index when Cached), one
// tree compares it with the working tree and index (or the index alone when
// Cached), two trees are compared directly.
func GetDiff(r *repo.Repo, t Targets) (*repo.Diff, error) {
	opts := repo.DiffOptions{Paths: t.Paths, DetectRenames: t.Renames}
	switch len(t.Trees) {
	case 0:
		if t.Cached {
			head, err := headTree(r)
			if err != nil {
				return nil, err
			}
			return r.DiffTreeToIndex(head, opts)
		}
		return r.DiffIndexToWorkdir(opts)
	case 1:
		if t.Cached {
			return r.DiffTreeToIndex(t.Trees[0].Tree, opts)
		}
		return r.DiffTreeToWorkdirWithIndex(t.Trees[0].Tree, opts)
	case 2:
		return r.DiffTreeToTree(t.Trees[0].Tree, t.Trees[1].Tree, opts)
	default:
		return nil, errdefs.Userf("too many revisions")
	}
}

func headTree(r *repo.Repo) (object.Hash, error) {
	head, err := r.HeadCommit()
	if err != nil || head == "" {
		return "", err
	}
	return r.CommitTree(head)
}
