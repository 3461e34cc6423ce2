// Package metamerge merges meta repository commits, recursing into the
// submodules whose pointers diverged.
package metamerge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/hook"
	"github.com/odvcencio/metagraft/pkg/logging"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// Mode controls fast-forward handling.
type Mode int

const (
	// ModeNormal fast-forwards when ours is an ancestor of theirs.
	ModeNormal Mode = iota
	// ModeForceCommit always records a two-parent commit when theirs adds
	// history.
	ModeForceCommit
)

// Request describes one merge.
type Request struct {
	Ours    string
	Theirs  string
	Message string
	Author  string
	Mode    Mode
	// OpenOption is used to obtain submodule handles for nested merges.
	// Zero means ForceBare.
	OpenOption submodule.OpenOption
}

// Result holds either a commit or an error, never both. FastForward is set
// when no new commit was created.
type Result struct {
	Commit      object.Hash
	FastForward bool
	Err         error
}

// Message returns the error text, or "" on success.
func (r *Result) Message() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Engine merges commits of the meta repository behind Opener.
type Engine struct {
	Opener *submodule.Opener
	Hooks  *hook.Runner
	Logger *zap.Logger
	// Signer, when set, signs every commit the engine creates.
	Signer repo.CommitSigner
}

// Merge runs a merge request. The returned commit is not referenced by any
// branch. The post-merge hook runs once when a new meta commit was created.
func (e *Engine) Merge(ctx context.Context, req Request) *Result {
	meta := e.Opener.Meta()
	ours, err := resolve(meta, req.Ours)
	if err != nil {
		return &Result{Err: err}
	}
	theirs, err := resolve(meta, req.Theirs)
	if err != nil {
		return &Result{Err: err}
	}

	opt := req.OpenOption
	if opt == 0 {
		opt = submodule.ForceBare
	}
	m := &merger{
		logger:  logging.OrNop(e.Logger),
		signer:  e.Signer,
		message: req.Message,
		author:  req.Author,
		openOpt: opt,
	}
	commit, ff, err := m.mergeCommits(ctx, meta, e.Opener, ours, theirs, req.Mode)
	if err != nil {
		return &Result{Err: err}
	}
	if !ff {
		// Hook failures are logged by the runner and do not affect the result.
		_ = e.Hooks.Exec(ctx, meta, hook.PostMerge, string(commit))
	}
	return &Result{Commit: commit, FastForward: ff}
}

func resolve(r *repo.Repo, name string) (object.Hash, error) {
	h, err := r.ResolveCommitish(name)
	if err != nil {
		if errors.Is(err, repo.ErrUnknownRevision) || errors.Is(err, object.ErrAmbiguousPrefix) {
			return "", &errdefs.UserError{Msg: fmt.Sprintf("Could not resolve %s to a commit", name), Err: err}
		}
		return "", fmt.Errorf("merge: resolve %q: %w", name, err)
	}
	return h, nil
}

// merger carries the settings shared by a merge and its nested merges.
type merger struct {
	logger  *zap.Logger
	signer  repo.CommitSigner
	message string
	author  string
	openOpt submodule.OpenOption
}

// mergeCommits merges theirs into ours inside r. Submodules of r are
// reached through opener; a nil opener resolves them by the merged
// .gitmodules, which nested merges rely on. It returns the resulting commit and whether it
// already existed.
func (m *merger) mergeCommits(ctx context.Context, r *repo.Repo, opener *submodule.Opener, ours, theirs object.Hash, mode Mode) (object.Hash, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if ours == theirs {
		return ours, true, nil
	}
	contained, err := r.IsAncestor(theirs, ours)
	if err != nil {
		return "", false, fmt.Errorf("merge: %w", err)
	}
	if contained {
		return ours, true, nil
	}
	ahead, err := r.IsAncestor(ours, theirs)
	if err != nil {
		return "", false, fmt.Errorf("merge: %w", err)
	}
	if ahead {
		if mode == ModeNormal {
			return theirs, true, nil
		}
		tree, err := r.CommitTree(theirs)
		if err != nil {
			return "", false, fmt.Errorf("merge: %w", err)
		}
		commit, err := m.commit(r, tree, ours, theirs)
		return commit, false, err
	}

	base, err := r.FindMergeBase(ours, theirs)
	if err != nil {
		return "", false, fmt.Errorf("merge: %w", err)
	}
	plan, err := m.plan(r, base, ours, theirs)
	if err != nil {
		return "", false, err
	}
	if opener == nil {
		opener = submodule.NewOpener(r, submodule.WithLogger(m.logger), submodule.WithConfig(plan.config))
	}
	if err := m.mergeSubmodules(ctx, r, opener, plan); err != nil {
		return "", false, err
	}
	tree, err := plan.write(r)
	if err != nil {
		return "", false, err
	}
	commit, err := m.commit(r, tree, ours, theirs)
	return commit, false, err
}

func (m *merger) commit(r *repo.Repo, tree, ours, theirs object.Hash) (object.Hash, error) {
	msg := m.message
	if msg == "" {
		msg = fmt.Sprintf("Merge %s into %s", theirs.Short(), ours.Short())
	}
	h, err := r.CreateCommit(repo.CommitRequest{
		Tree:    tree,
		Parents: []object.Hash{ours, theirs},
		Author:  m.author,
		Message: msg,
		Signer:  m.signer,
	})
	if err != nil {
		return "", fmt.Errorf("merge: %w", err)
	}
	return h, nil
}

// mergeSubmodules resolves every pointer both sides moved apart, one
// submodule at a time in path order.
func (m *merger) mergeSubmodules(ctx context.Context, r *repo.Repo, opener *submodule.Opener, p *plan) error {
	for _, sm := range p.subMerges {
		log := m.logger.With(zap.String("submodule", sm.name), zap.String("ours", sm.ours.Short()), zap.String("theirs", sm.theirs.Short()))
		h, err := opener.Get(ctx, sm.name, m.openOpt)
		if err != nil {
			if errors.Is(err, errdefs.ErrConsistency) || errors.Is(err, context.Canceled) {
				return err
			}
			return &errdefs.ConsistencyError{Submodule: sm.name, Msg: "changed submodule cannot be opened", Err: err}
		}
		for _, c := range []object.Hash{sm.ours, sm.theirs} {
			if !h.Store.Has(c) {
				return errdefs.Consistencyf(sm.name, "recorded commit %s is not in the submodule store", c.Short())
			}
		}

		commit, ff, err := m.mergeCommits(ctx, h, nil, sm.ours, sm.theirs, ModeNormal)
		if err != nil {
			var conflict *errdefs.ConflictError
			if errors.As(err, &conflict) {
				log.Info("submodule merge conflicted", zap.Error(err))
				return &errdefs.ConflictError{Submodule: sm.name, Reason: "submodule merge failed", Err: err}
			}
			return fmt.Errorf("merge submodule %q: %w", sm.name, err)
		}
		log.Info("merged submodule", zap.String("result", commit.Short()), zap.Bool("fast_forward", ff))
		p.setPointer(sm.path, commit)
	}
	return nil
}
