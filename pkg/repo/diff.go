package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/metagraft/pkg/object"
)

// DeltaStatus classifies one path-level change.
type DeltaStatus int

const (
	DeltaAdded DeltaStatus = iota + 1
	DeltaModified
	DeltaDeleted
	DeltaRenamed
	DeltaTypeChanged
	DeltaConflicted
	DeltaUntracked
)

// Letter returns the one-character code used by name-status output.
func (s DeltaStatus) Letter() string {
	switch s {
	case DeltaAdded:
		return "A"
	case DeltaModified:
		return "M"
	case DeltaDeleted:
		return "D"
	case DeltaRenamed:
		return "R"
	case DeltaTypeChanged:
		return "T"
	case DeltaConflicted:
		return "U"
	case DeltaUntracked:
		return "?"
	default:
		return "X"
	}
}

func (s DeltaStatus) String() string {
	switch s {
	case DeltaAdded:
		return "added"
	case DeltaModified:
		return "modified"
	case DeltaDeleted:
		return "deleted"
	case DeltaRenamed:
		return "renamed"
	case DeltaTypeChanged:
		return "typechange"
	case DeltaConflicted:
		return "conflicted"
	case DeltaUntracked:
		return "untracked"
	default:
		return "unknown"
	}
}

// DiffFile is one side of a delta. An empty Path means the side is absent.
type DiffFile struct {
	Path    string
	Mode    string
	Hash    object.Hash
	Workdir bool // read content from the working tree, not the store
}

// Delta is a single path-level change.
type Delta struct {
	Status DeltaStatus
	Old    DiffFile
	New    DiffFile
}

// Path returns the path the delta is reported under.
func (d Delta) Path() string {
	if d.New.Path != "" {
		return d.New.Path
	}
	return d.Old.Path
}

// IsSubmodule reports whether either side is a submodule pointer.
func (d Delta) IsSubmodule() bool {
	return d.Old.Mode == object.TreeModeSubmodule || d.New.Mode == object.TreeModeSubmodule
}

// Diff is an ordered list of deltas, sorted by path.
type Diff struct {
	Deltas []Delta
}

// DiffOptions tunes the diff primitives.
type DiffOptions struct {
	// Paths restricts the comparison to these path prefixes.
	Paths []string
	// IncludeUntracked reports working-tree files missing from the index.
	IncludeUntracked bool
	// RecurseUntrackedDirs lists untracked files individually instead of
	// collapsing them to their top-most untracked directory.
	RecurseUntrackedDirs bool
	// DetectRenames pairs identical deleted/added content as renames.
	DetectRenames bool
}

// DiffTreeToTree compares two trees. Either hash may be empty (the empty
// tree).
func (r *Repo) DiffTreeToTree(oldTree, newTree object.Hash, opts DiffOptions) (*Diff, error) {
	filter := newPathFilter(opts.Paths)
	oldSnap, err := r.treeSnapshot(oldTree, filter)
	if err != nil {
		return nil, fmt.Errorf("diff tree to tree: %w", err)
	}
	newSnap, err := r.treeSnapshot(newTree, filter)
	if err != nil {
		return nil, fmt.Errorf("diff tree to tree: %w", err)
	}
	return compareSnapshots(oldSnap, newSnap, nil, opts), nil
}

// DiffTreeToIndex compares a tree against the staging index.
func (r *Repo) DiffTreeToIndex(tree object.Hash, opts DiffOptions) (*Diff, error) {
	filter := newPathFilter(opts.Paths)
	stg, err := r.ReadStaging()
	if err != nil {
		return nil, fmt.Errorf("diff tree to index: %w", err)
	}
	oldSnap, err := r.treeSnapshot(tree, filter)
	if err != nil {
		return nil, fmt.Errorf("diff tree to index: %w", err)
	}
	return compareSnapshots(oldSnap, indexSnapshot(stg, filter), nil, opts), nil
}

// DiffIndexToWorkdir compares the staging index against the working tree.
func (r *Repo) DiffIndexToWorkdir(opts DiffOptions) (*Diff, error) {
	filter := newPathFilter(opts.Paths)
	stg, err := r.ReadStaging()
	if err != nil {
		return nil, fmt.Errorf("diff index to workdir: %w", err)
	}
	workSnap, err := r.workdirSnapshot(stg, filter)
	if err != nil {
		return nil, fmt.Errorf("diff index to workdir: %w", err)
	}
	untracked, err := r.untrackedFor(stg, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("diff index to workdir: %w", err)
	}
	return compareSnapshots(indexSnapshot(stg, filter), workSnap, untracked, opts), nil
}

// DiffTreeToWorkdirWithIndex compares a tree against the working tree,
// using the index to decide which working files are tracked.
func (r *Repo) DiffTreeToWorkdirWithIndex(tree object.Hash, opts DiffOptions) (*Diff, error) {
	filter := newPathFilter(opts.Paths)
	stg, err := r.ReadStaging()
	if err != nil {
		return nil, fmt.Errorf("diff tree to workdir: %w", err)
	}
	oldSnap, err := r.treeSnapshot(tree, filter)
	if err != nil {
		return nil, fmt.Errorf("diff tree to workdir: %w", err)
	}
	workSnap, err := r.workdirSnapshot(stg, filter)
	if err != nil {
		return nil, fmt.Errorf("diff tree to workdir: %w", err)
	}
	untracked, err := r.untrackedFor(stg, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("diff tree to workdir: %w", err)
	}
	return compareSnapshots(oldSnap, workSnap, untracked, opts), nil
}

func (r *Repo) untrackedFor(stg *Staging, filter pathFilter, opts DiffOptions) ([]string, error) {
	if !opts.IncludeUntracked {
		return nil, nil
	}
	files, err := r.untrackedFiles(stg, filter)
	if err != nil {
		return nil, err
	}
	if !opts.RecurseUntrackedDirs {
		files = collapseUntracked(files, stg)
	}
	return files, nil
}

func compareSnapshots(oldSnap, newSnap snapshot, untracked []string, opts DiffOptions) *Diff {
	paths := make(map[string]struct{}, len(oldSnap)+len(newSnap))
	for p := range oldSnap {
		paths[p] = struct{}{}
	}
	for p := range newSnap {
		paths[p] = struct{}{}
	}

	var deltas []Delta
	for p := range paths {
		o, inOld := oldSnap[p]
		n, inNew := newSnap[p]
		oldFile := DiffFile{Path: p, Mode: o.Mode, Hash: o.Hash, Workdir: o.Workdir}
		newFile := DiffFile{Path: p, Mode: n.Mode, Hash: n.Hash, Workdir: n.Workdir}

		switch {
		case (inOld && o.Conflict) || (inNew && n.Conflict):
			if !inOld {
				oldFile = DiffFile{}
			}
			if !inNew {
				newFile = DiffFile{}
			}
			deltas = append(deltas, Delta{Status: DeltaConflicted, Old: oldFile, New: newFile})
		case inOld && inNew:
			if o.Hash == n.Hash && o.Mode == n.Mode {
				continue
			}
			status := DeltaModified
			if modeKind(o.Mode) != modeKind(n.Mode) {
				status = DeltaTypeChanged
			}
			deltas = append(deltas, Delta{Status: status, Old: oldFile, New: newFile})
		case inOld:
			deltas = append(deltas, Delta{Status: DeltaDeleted, Old: oldFile})
		default:
			deltas = append(deltas, Delta{Status: DeltaAdded, New: newFile})
		}
	}

	for _, p := range untracked {
		deltas = append(deltas, Delta{Status: DeltaUntracked, New: DiffFile{Path: p, Workdir: true}})
	}
	if opts.DetectRenames {
		deltas = pairRenames(deltas)
	}
	sort.SliceStable(deltas, func(i, j int) bool { return deltas[i].Path() < deltas[j].Path() })
	return &Diff{Deltas: deltas}
}

// pairRenames folds a deleted and an added file with identical content and
// mode kind into one rename. Pairing is by path order so results are stable.
func pairRenames(deltas []Delta) []Delta {
	sort.SliceStable(deltas, func(i, j int) bool { return deltas[i].Path() < deltas[j].Path() })

	deletedByHash := make(map[object.Hash][]int)
	for i, d := range deltas {
		if d.Status == DeltaDeleted && !d.IsSubmodule() {
			deletedByHash[d.Old.Hash] = append(deletedByHash[d.Old.Hash], i)
		}
	}
	consumed := make(map[int]bool)
	for i, d := range deltas {
		if d.Status != DeltaAdded || d.IsSubmodule() {
			continue
		}
		candidates := deletedByHash[d.New.Hash]
		for len(candidates) > 0 && consumed[candidates[0]] {
			candidates = candidates[1:]
		}
		if len(candidates) == 0 {
			continue
		}
		src := candidates[0]
		deletedByHash[d.New.Hash] = candidates[1:]
		consumed[src] = true
		deltas[i] = Delta{Status: DeltaRenamed, Old: deltas[src].Old, New: d.New}
	}

	out := deltas[:0]
	for i, d := range deltas {
		if !consumed[i] {
			out = append(out, d)
		}
	}
	return out
}

// ReadDiffFile returns the content of one side of a delta. Absent sides and
// submodule pointers read as empty.
func (r *Repo) ReadDiffFile(f DiffFile) ([]byte, error) {
	if f.Path == "" || f.Mode == object.TreeModeSubmodule {
		return nil, nil
	}
	if f.Workdir {
		if r.IsBare() {
			return nil, ErrBareRepository
		}
		data, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(f.Path)))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", f.Path, err)
		}
		return data, nil
	}
	if f.Hash == "" {
		return nil, nil
	}
	blob, err := r.Store.ReadBlob(f.Hash)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", f.Path, err)
	}
	return blob.Data, nil
}

// pathFilter matches slash-separated repo-relative paths against prefixes.
type pathFilter []string

func newPathFilter(paths []string) pathFilter {
	var out pathFilter
	for _, p := range paths {
		p = strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
		if p == "" || p == "." {
			return nil
		}
		out = append(out, p)
	}
	return out
}

func (f pathFilter) match(p string) bool {
	if len(f) == 0 {
		return true
	}
	for _, prefix := range f {
		if underPath(p, prefix) {
			return true
		}
	}
	return false
}

// mayContain reports whether a directory could hold matching paths.
func (f pathFilter) mayContain(dir string) bool {
	if len(f) == 0 {
		return true
	}
	for _, prefix := range f {
		if underPath(dir, prefix) || strings.HasPrefix(prefix, dir+"/") {
			return true
		}
	}
	return false
}
