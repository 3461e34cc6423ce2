package status

import (
	"context"
	"fmt"

	"github.com/odvcencio/metagraft/pkg/metadiff"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// SubmoduleStatus is one submodule's part of a meta status report. Staged
// and Workdir describe the pointer entry itself; Status holds the open
// submodule's own file status.
type SubmoduleStatus struct {
	Name    string
	Path    string
	State   submodule.State
	Staged  FileStatus
	Workdir FileStatus
	Status  *RepoStatus
	Err     error
}

// MetaReport is the status of a meta repository and its submodules.
type MetaReport struct {
	Meta       *RepoStatus
	Submodules []SubmoduleStatus
}

// MetaStatus computes the meta repository's own status against HEAD and,
// for each submodule, its pointer changes plus, when open, its file status
// against its own HEAD. Submodules are reported in name order. A failure
// inside one submodule is recorded on its entry and does not stop the
// others.
func MetaStatus(ctx context.Context, o *submodule.Opener, opts Options) (*MetaReport, error) {
	meta := o.Meta()
	headTree, err := headTree(meta)
	if err != nil {
		return nil, fmt.Errorf("meta status: %w", err)
	}
	own, err := Compute(meta, headTree, opts)
	if err != nil {
		return nil, fmt.Errorf("meta status: %w", err)
	}
	staged, work, err := pointerChanges(meta, headTree, opts)
	if err != nil {
		return nil, fmt.Errorf("meta status: %w", err)
	}
	cfg, err := submodule.ReadWorktreeConfig(meta)
	if err != nil {
		return nil, fmt.Errorf("meta status: %w", err)
	}

	report := &MetaReport{Meta: own}
	for _, name := range cfg.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := cfg.Records[name]
		subPaths, skip := metadiff.TranslatePaths(rec.Path, opts.Paths)
		entry := SubmoduleStatus{
			Name:    name,
			Path:    rec.Path,
			Staged:  staged[rec.Path],
			Workdir: work[rec.Path],
		}
		if skip && entry.Staged == Unmodified && entry.Workdir == Unmodified {
			continue
		}

		entry.State, entry.Err = o.State(name)
		if entry.Err == nil && entry.State == submodule.StateOpen && !skip {
			entry.Status, entry.Err = submoduleStatus(ctx, o, name, Options{
				Paths:               subPaths,
				IgnoreIndex:         opts.IgnoreIndex,
				IncludeAllUntracked: opts.IncludeAllUntracked,
			})
		}
		if entry.Err == nil && entry.Staged == Unmodified && entry.Workdir == Unmodified &&
			(entry.Status == nil || entry.Status.Empty()) {
			continue
		}
		report.Submodules = append(report.Submodules, entry)
	}
	return report, nil
}

func submoduleStatus(ctx context.Context, o *submodule.Opener, name string, opts Options) (*RepoStatus, error) {
	h, err := o.Get(ctx, name, submodule.PreferCached)
	if err != nil {
		return nil, err
	}
	ref, err := headTree(h)
	if err != nil {
		return nil, err
	}
	return Compute(h, ref, opts)
}

// pointerChanges returns the staged and working-tree status of every
// submodule pointer entry, keyed by path.
func pointerChanges(meta *repo.Repo, headTree object.Hash, opts Options) (map[string]FileStatus, map[string]FileStatus, error) {
	staged := map[string]FileStatus{}
	work := map[string]FileStatus{}
	diffOpts := repo.DiffOptions{Paths: opts.Paths}

	if opts.IgnoreIndex {
		d, err := meta.DiffTreeToWorkdirWithIndex(headTree, diffOpts)
		if err != nil {
			return nil, nil, err
		}
		collectPointers(work, d)
		return staged, work, nil
	}
	d, err := meta.DiffTreeToIndex(headTree, diffOpts)
	if err != nil {
		return nil, nil, err
	}
	collectPointers(staged, d)
	d, err = meta.DiffIndexToWorkdir(diffOpts)
	if err != nil {
		return nil, nil, err
	}
	collectPointers(work, d)
	return staged, work, nil
}

func collectPointers(into map[string]FileStatus, d *repo.Diff) {
	for _, delta := range d.Deltas {
		if !delta.IsSubmodule() {
			continue
		}
		if s, ok := fromDelta(delta.Status); ok {
			into[delta.Path()] = s
		}
	}
}

func headTree(r *repo.Repo) (object.Hash, error) {
	head, err := r.HeadCommit()
	if err != nil || head == "" {
		return "", err
	}
	return r.CommitTree(head)
}
