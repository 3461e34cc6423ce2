// Package status reconciles a reference tree, the index and the working
// tree of one repository into a normalized status map.
package status

import (
	"fmt"
	"sort"

	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// FileStatus tags one changed path. The zero value means unchanged.
type FileStatus int

const (
	Unmodified FileStatus = iota
	Added
	Modified
	Removed
	Renamed
	TypeChanged
)

func (s FileStatus) String() string {
	switch s {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	case TypeChanged:
		return "typechange"
	default:
		return "unmodified"
	}
}

// Letter returns the short-format code.
func (s FileStatus) Letter() string {
	switch s {
	case Added:
		return "A"
	case Modified:
		return "M"
	case Removed:
		return "D"
	case Renamed:
		return "R"
	case TypeChanged:
		return "T"
	default:
		return " "
	}
}

// RepoStatus maps repository-relative paths to their status, split into
// staged (reference tree vs index) and workdir changes.
type RepoStatus struct {
	Staged  map[string]FileStatus
	Workdir map[string]FileStatus
}

func newRepoStatus() *RepoStatus {
	return &RepoStatus{Staged: map[string]FileStatus{}, Workdir: map[string]FileStatus{}}
}

// Empty reports whether nothing changed.
func (s *RepoStatus) Empty() bool {
	return len(s.Staged) == 0 && len(s.Workdir) == 0
}

// Paths returns every path with a change, sorted and deduplicated.
func (s *RepoStatus) Paths() []string {
	seen := make(map[string]bool, len(s.Staged)+len(s.Workdir))
	var out []string
	for _, m := range []map[string]FileStatus{s.Staged, s.Workdir} {
		for p := range m {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Options restricts and tunes Compute.
type Options struct {
	// Paths limits the comparison to these path prefixes. Empty means the
	// whole repository.
	Paths []string
	// IgnoreIndex compares the working tree directly with the reference
	// tree and leaves Staged empty.
	IgnoreIndex bool
	// IncludeAllUntracked lists untracked files individually instead of
	// collapsing them to their top-most untracked directory.
	IncludeAllUntracked bool
}

// Compute returns the status of r relative to referenceTree. Conflicted
// entries are dropped. The submodule configuration file and submodule
// pointer entries never appear; their changes are reported by the
// aggregating callers. r must have a working tree.
func Compute(r *repo.Repo, referenceTree object.Hash, opts Options) (*RepoStatus, error) {
	if r.IsBare() {
		return nil, fmt.Errorf("status: %w", repo.ErrBareRepository)
	}
	diffOpts := repo.DiffOptions{
		Paths:                opts.Paths,
		IncludeUntracked:     true,
		RecurseUntrackedDirs: opts.IncludeAllUntracked,
		DetectRenames:        true,
	}
	st := newRepoStatus()

	if opts.IgnoreIndex {
		d, err := r.DiffTreeToWorkdirWithIndex(referenceTree, diffOpts)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		collect(st.Workdir, d)
		return st, nil
	}

	work, err := r.DiffIndexToWorkdir(diffOpts)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	collect(st.Workdir, work)

	diffOpts.IncludeUntracked = false
	staged, err := r.DiffTreeToIndex(referenceTree, diffOpts)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	collect(st.Staged, staged)
	return st, nil
}

func collect(into map[string]FileStatus, d *repo.Diff) {
	for _, delta := range d.Deltas {
		if delta.IsSubmodule() || delta.Path() == submodule.ConfigPath || delta.Old.Path == submodule.ConfigPath {
			continue
		}
		if s, ok := fromDelta(delta.Status); ok {
			into[delta.Path()] = s
		}
	}
}

func fromDelta(s repo.DeltaStatus) (FileStatus, bool) {
	switch s {
	case repo.DeltaAdded, repo.DeltaUntracked:
		return Added, true
	case repo.DeltaModified:
		return Modified, true
	case repo.DeltaDeleted:
		return Removed, true
	case repo.DeltaRenamed:
		return Renamed, true
	case repo.DeltaTypeChanged:
		return TypeChanged, true
	default:
		return Unmodified, false
	}
}
