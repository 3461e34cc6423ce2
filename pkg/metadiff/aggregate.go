package metadiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/logging"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// Aggregator renders a meta repository diff followed by the diffs of the
// submodules it touches.
type Aggregator struct {
	Opener   *submodule.Opener
	Renderer Renderer
	// Workers bounds concurrent submodule diffs. Values below one mean one.
	Workers int
	Logger  *zap.Logger
}

// SubmoduleReport is the outcome for one visited submodule.
type SubmoduleReport struct {
	Change SubmoduleChange
	// Workdir is set when the submodule's working tree was compared.
	Workdir bool
	Err     error
}

// Report lists the changed submodules in output order. An open submodule
// whose pointer did not move is listed only if it produced output or failed.
type Report struct {
	Submodules []SubmoduleReport
}

// Err joins every per-submodule failure.
func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Submodules {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

type subJob struct {
	change  SubmoduleChange
	paths   []string
	workdir bool
	out     bytes.Buffer
	err     error
}

// Run writes the meta repository's own file changes to w, then each changed
// submodule's diff in its own path space. Submodules are processed
// concurrently but written in path order. A submodule that fails is
// recorded in the report and skipped; the returned error covers only
// meta-level failures and write errors.
func (a *Aggregator) Run(ctx context.Context, t Targets, w io.Writer) (*Report, error) {
	meta := a.Opener.Meta()
	logger := logging.OrNop(a.Logger)

	// Pointer discovery needs the unfiltered diff: a filter naming a path
	// inside a submodule does not match the pointer entry itself.
	all := t
	all.Paths = nil
	d, err := GetDiff(meta, all)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	own := &repo.Diff{}
	for _, delta := range d.Deltas {
		if matchPaths(delta.Path(), t.Paths) || (delta.Old.Path != "" && matchPaths(delta.Old.Path, t.Paths)) {
			own.Deltas = append(own.Deltas, delta)
		}
	}
	if err := a.Renderer.Render(w, meta, own); err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	jobs, err := a.jobs(ctx, meta, t, d)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	workers := a.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			job.err = a.diffSubmodule(gctx, t, job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{}
	for _, job := range jobs {
		if job.err == nil && job.change.Old == job.change.New && job.out.Len() == 0 {
			continue
		}
		if job.err != nil {
			logger.Warn("submodule diff failed",
				zap.String("submodule", job.change.Name),
				zap.String("path", job.change.Path),
				zap.Error(job.err))
		}
		report.Submodules = append(report.Submodules, SubmoduleReport{
			Change:  job.change,
			Workdir: job.workdir,
			Err:     job.err,
		})
		if _, err := w.Write(job.out.Bytes()); err != nil {
			return report, fmt.Errorf("diff: %w", err)
		}
	}
	return report, nil
}

// jobs lists the submodules to visit: every pointer change, plus open
// submodules whose working tree is part of the comparison even though
// their pointer did not move. Filters outside a submodule drop it.
func (a *Aggregator) jobs(ctx context.Context, meta *repo.Repo, t Targets, d *repo.Diff) ([]*subJob, error) {
	oldCfg, newCfg, err := sideConfigs(meta, t)
	if err != nil {
		return nil, err
	}
	changes := SubmoduleChanges(d, oldCfg, newCfg, t.Renames)

	var jobs []*subJob
	seen := make(map[string]bool)
	for _, c := range changes {
		seen[c.Path] = true
		open := false
		if t.WorkdirInvolved() && c.Kind != Removed {
			open = a.isOpen(c.Name)
		}
		jobs = append(jobs, &subJob{change: c, workdir: open})
	}

	if t.WorkdirInvolved() {
		for _, name := range newCfg.Names() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec := newCfg.Records[name]
			if seen[rec.Path] || !a.isOpen(name) {
				continue
			}
			recorded, err := recordedPointer(meta, t, rec.Path)
			if err != nil {
				return nil, err
			}
			if recorded == "" {
				continue
			}
			jobs = append(jobs, &subJob{
				change:  SubmoduleChange{Name: name, Path: rec.Path, OldPath: rec.Path, Kind: Modified, Old: recorded, New: recorded},
				workdir: true,
			})
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].change.Path < jobs[j].change.Path })

	out := jobs[:0]
	for _, job := range jobs {
		paths, skip := TranslatePaths(job.change.Path, t.Paths)
		if skip {
			continue
		}
		job.paths = paths
		out = append(out, job)
	}
	return out, nil
}

func (a *Aggregator) isOpen(name string) bool {
	state, err := a.Opener.State(name)
	return err == nil && state == submodule.StateOpen
}

// diffSubmodule renders one submodule into job.out.
func (a *Aggregator) diffSubmodule(ctx context.Context, t Targets, job *subJob) error {
	c := job.change
	opt := submodule.ForceBare
	if job.workdir {
		opt = submodule.PreferCached
	}
	h, err := a.Opener.Get(ctx, c.Name, opt)
	if err != nil {
		if errors.Is(err, errdefs.ErrConsistency) || errors.Is(err, context.Canceled) {
			return err
		}
		return &errdefs.ConsistencyError{Submodule: c.Name, Msg: "changed submodule cannot be opened", Err: err}
	}

	oldTree, err := commitTree(h, c.Name, c.Old)
	if err != nil {
		return err
	}
	opts := repo.DiffOptions{Paths: job.paths, DetectRenames: t.Renames}
	var d *repo.Diff
	if job.workdir && !h.IsBare() {
		d, err = h.DiffTreeToWorkdirWithIndex(oldTree, opts)
	} else {
		newTree, terr := commitTree(h, c.Name, c.New)
		if terr != nil {
			return terr
		}
		d, err = h.DiffTreeToTree(oldTree, newTree, opts)
	}
	if err != nil {
		return fmt.Errorf("submodule %q: %w", c.Name, err)
	}

	rd := a.Renderer
	rd.Prefix = rd.Prefix + c.Path + "/"
	if err := rd.Render(&job.out, h, d); err != nil {
		return fmt.Errorf("submodule %q: %w", c.Name, err)
	}
	return nil
}

// commitTree maps a pointer commit to its root tree in the submodule store.
// An empty commit is the empty tree.
func commitTree(h *repo.Repo, name string, commit object.Hash) (object.Hash, error) {
	if commit == "" {
		return "", nil
	}
	tree, err := h.CommitTree(commit)
	if err != nil {
		return "", &errdefs.ConsistencyError{
			Submodule: name,
			Msg:       fmt.Sprintf("recorded commit %s is not in the submodule store", commit.Short()),
			Err:       err,
		}
	}
	return tree, nil
}

// sideConfigs returns the submodule configuration on each side of the
// comparison. The working tree's file stands in for the index.
func sideConfigs(meta *repo.Repo, t Targets) (*submodule.Config, *submodule.Config, error) {
	if len(t.Trees) == 2 {
		oldCfg, err := submodule.ReadConfigAt(meta, t.Trees[0].Tree)
		if err != nil {
			return nil, nil, err
		}
		newCfg, err := submodule.ReadConfigAt(meta, t.Trees[1].Tree)
		if err != nil {
			return nil, nil, err
		}
		return oldCfg, newCfg, nil
	}

	var oldTree object.Hash
	if len(t.Trees) == 1 {
		oldTree = t.Trees[0].Tree
	} else {
		h, err := headTree(meta)
		if err != nil {
			return nil, nil, err
		}
		oldTree = h
	}
	oldCfg, err := submodule.ReadConfigAt(meta, oldTree)
	if err != nil {
		return nil, nil, err
	}
	newCfg, err := submodule.ReadWorktreeConfig(meta)
	if err != nil {
		return nil, nil, err
	}
	return oldCfg, newCfg, nil
}

// recordedPointer returns the pointer at p on the old side of a working
// tree comparison: the given tree, or the index when no tree was named.
func recordedPointer(meta *repo.Repo, t Targets, p string) (object.Hash, error) {
	if len(t.Trees) == 1 {
		entry, ok, err := meta.TreeEntryAtPath(t.Trees[0].Tree, p)
		if err != nil || !ok || !entry.IsSubmodule() {
			return "", err
		}
		return entry.Hash, nil
	}
	stg, err := meta.ReadStaging()
	if err != nil {
		return "", err
	}
	e, ok := stg.Entries[p]
	if !ok || e.Mode != object.TreeModeSubmodule {
		return "", nil
	}
	return e.Hash, nil
}
