// Package repo implements single-repository primitives: object access,
// refs, the staging index, tree construction, diffs and merge bases.
//
// A Repo is either open (RootDir names a working tree) or bare (RootDir is
// empty and only the control directory is available).
package repo

import (
	"errors"
	"sync"

	"github.com/odvcencio/metagraft/pkg/object"
)

// ControlDirName is the name of the per-repository control directory, or of
// the link file that points a linked working tree at its control directory.
const ControlDirName = ".graft"

// ErrBareRepository is returned by operations that need a working tree.
var ErrBareRepository = errors.New("repository has no working tree")

// Repo represents an opened repository.
type Repo struct {
	RootDir    string        // working directory root, empty when bare
	ControlDir string        // .graft/ directory (or a modules/<name> store)
	Store      *object.Store // content-addressed object store

	mergeBaseOnce  sync.Once
	mergeBaseState *mergeBaseState
}

func newRepo(root, controlDir string) *Repo {
	return &Repo{RootDir: root, ControlDir: controlDir, Store: object.NewStore(controlDir)}
}

// IsBare reports whether the repository lacks a working tree.
func (r *Repo) IsBare() bool { return r.RootDir == "" }

// Workdir returns the working tree root.
func (r *Repo) Workdir() (string, error) {
	if r.IsBare() {
		return "", ErrBareRepository
	}
	return r.RootDir, nil
}

func (r *Repo) getMergeBaseState() *mergeBaseState {
	r.mergeBaseOnce.Do(func() {
		r.mergeBaseState = newMergeBaseState()
	})
	return r.mergeBaseState
}
