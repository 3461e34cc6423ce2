// Package submodule manages the sub-repositories of a meta repository:
// their configuration records, their stores under .graft/modules, and the
// open/bare lifecycle of their working trees.
package submodule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/logging"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
)

// OpenOption selects how Get treats the submodule's working tree.
type OpenOption int

const (
	// ForceOpen returns a handle with a working tree, materializing one
	// from the recorded pointer commit if needed.
	ForceOpen OpenOption = iota + 1
	// ForceBare returns a handle bound only to the submodule's store.
	ForceBare
	// PreferCached returns whatever is cheapest: a cached handle, an
	// already materialized working tree, or the bare store.
	PreferCached
)

func (o OpenOption) String() string {
	switch o {
	case ForceOpen:
		return "force-open"
	case ForceBare:
		return "force-bare"
	case PreferCached:
		return "prefer-cached"
	default:
		return fmt.Sprintf("OpenOption(%d)", int(o))
	}
}

// State is a submodule's materialization state.
type State int

const (
	StateBare State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "bare"
}

// Opener resolves submodule names to repository handles and caches them for
// the lifetime of one command. It is safe for concurrent use; concurrent
// ForceOpen calls for one name materialize the working tree once.
type Opener struct {
	meta    *repo.Repo
	logger  *zap.Logger
	records *Config

	mu    sync.Mutex
	open  map[string]*repo.Repo
	bare  map[string]*repo.Repo
	group singleflight.Group
}

// OpenerOption configures an Opener.
type OpenerOption func(*Opener)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *zap.Logger) OpenerOption {
	return func(o *Opener) { o.logger = l }
}

// WithConfig resolves names from cfg instead of the configuration on disk.
// Nested merges use it so names come from the merged .gitmodules.
func WithConfig(cfg *Config) OpenerOption {
	return func(o *Opener) { o.records = cfg }
}

// NewOpener returns an Opener for the submodules of meta.
func NewOpener(meta *repo.Repo, opts ...OpenerOption) *Opener {
	o := &Opener{
		meta: meta,
		open: make(map[string]*repo.Repo),
		bare: make(map[string]*repo.Repo),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.logger)
	return o
}

// Meta returns the meta repository.
func (o *Opener) Meta() *repo.Repo { return o.meta }

// StoreDir returns the control directory holding the named submodule's
// objects and refs.
func StoreDir(meta *repo.Repo, name string) string {
	return filepath.Join(meta.ControlDir, "modules", filepath.FromSlash(name))
}

// Get returns a handle for the named submodule.
func (o *Opener) Get(ctx context.Context, name string, opt OpenOption) (*repo.Repo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if validName(name) != nil {
		return nil, &errdefs.NotFoundError{Name: name}
	}
	switch opt {
	case ForceBare:
		return o.getBare(name)
	case ForceOpen:
		return o.getOpen(ctx, name)
	case PreferCached:
		return o.getCached(ctx, name)
	default:
		return nil, fmt.Errorf("get submodule %q: unknown open option %d", name, int(opt))
	}
}

// State reports whether the named submodule is materialized.
func (o *Opener) State(name string) (State, error) {
	if validName(name) != nil {
		return StateBare, &errdefs.NotFoundError{Name: name}
	}
	o.mu.Lock()
	_, cached := o.open[name]
	o.mu.Unlock()
	if cached {
		return StateOpen, nil
	}
	rec, err := o.lookup(name)
	if err != nil {
		return StateBare, err
	}
	if rec != nil && o.materialized(rec) {
		return StateOpen, nil
	}
	return StateBare, nil
}

func (o *Opener) getBare(name string) (*repo.Repo, error) {
	o.mu.Lock()
	if h, ok := o.bare[name]; ok {
		o.mu.Unlock()
		return h, nil
	}
	o.mu.Unlock()

	if _, err := o.lookup(name); err != nil {
		return nil, err
	}
	h, err := repo.OpenBare(StoreDir(o.meta, name))
	if err != nil {
		return nil, &errdefs.ConsistencyError{Submodule: name, Msg: "store is missing", Err: err}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.bare[name]; ok {
		return existing, nil
	}
	o.bare[name] = h
	return h, nil
}

func (o *Opener) getCached(ctx context.Context, name string) (*repo.Repo, error) {
	o.mu.Lock()
	if h, ok := o.open[name]; ok {
		o.mu.Unlock()
		return h, nil
	}
	if h, ok := o.bare[name]; ok {
		o.mu.Unlock()
		return h, nil
	}
	o.mu.Unlock()

	rec, err := o.lookup(name)
	if err != nil {
		return nil, err
	}
	if rec != nil && o.materialized(rec) {
		return o.getOpen(ctx, name)
	}
	return o.getBare(name)
}

func (o *Opener) getOpen(ctx context.Context, name string) (*repo.Repo, error) {
	o.mu.Lock()
	if h, ok := o.open[name]; ok {
		o.mu.Unlock()
		return h, nil
	}
	o.mu.Unlock()

	ch := o.group.DoChan(name, func() (any, error) {
		o.mu.Lock()
		if h, ok := o.open[name]; ok {
			o.mu.Unlock()
			return h, nil
		}
		o.mu.Unlock()

		h, err := o.materialize(name)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.open[name] = h
		o.mu.Unlock()
		return h, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*repo.Repo), nil
	}
}

// materialize returns an open handle for name, checking out the recorded
// pointer commit when no working tree exists yet.
func (o *Opener) materialize(name string) (*repo.Repo, error) {
	if o.meta.IsBare() {
		return nil, fmt.Errorf("open submodule %q: %w", name, repo.ErrBareRepository)
	}
	rec, err := o.lookup(name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errdefs.Consistencyf(name, "store exists but no configuration record gives its path")
	}
	storeDir := StoreDir(o.meta, name)
	if _, err := repo.OpenBare(storeDir); err != nil {
		return nil, &errdefs.ConsistencyError{Submodule: name, Msg: "store is missing", Err: err}
	}

	worktree := filepath.Join(o.meta.RootDir, filepath.FromSlash(rec.Path))
	if o.materialized(rec) {
		h, err := repo.OpenAt(worktree)
		if err != nil {
			return nil, fmt.Errorf("open submodule %q: %w", name, err)
		}
		return h, nil
	}

	entries, err := os.ReadDir(worktree)
	existed := err == nil
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("open submodule %q: %w", name, err)
	}
	if len(entries) > 0 {
		return nil, errdefs.Userf("cannot open submodule %q: %s exists and is not empty", name, rec.Path)
	}

	pointer, err := o.recordedPointer(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("open submodule %q: %w", name, err)
	}
	// The directory was empty or missing, so a failure resets it to that.
	reset := func() {
		if err := os.RemoveAll(worktree); err != nil {
			o.logger.Warn("cannot remove partial working tree", zap.String("name", name), zap.Error(err))
			return
		}
		if existed {
			_ = os.MkdirAll(worktree, 0o755)
		}
	}
	if err := repo.WriteLink(worktree, storeDir); err != nil {
		reset()
		return nil, fmt.Errorf("open submodule %q: %w", name, err)
	}
	h, err := repo.OpenAt(worktree)
	if err != nil {
		reset()
		return nil, fmt.Errorf("open submodule %q: %w", name, err)
	}
	if pointer != "" {
		if err := h.CheckoutDetached(pointer); err != nil {
			reset()
			return nil, &errdefs.ConsistencyError{Submodule: name, Msg: "cannot check out recorded pointer " + pointer.Short(), Err: err}
		}
	}
	o.logger.Info("materialized submodule",
		zap.String("name", name),
		zap.String("path", rec.Path),
		zap.String("commit", pointer.Short()))
	return h, nil
}

// recordedPointer returns the commit the meta repository records for path:
// the staged pointer, falling back to HEAD's tree.
func (o *Opener) recordedPointer(p string) (object.Hash, error) {
	stg, err := o.meta.ReadStaging()
	if err != nil {
		return "", err
	}
	if e, ok := stg.Entries[p]; ok && e.Mode == object.TreeModeSubmodule {
		return e.Hash, nil
	}
	head, err := o.meta.HeadCommit()
	if err != nil || head == "" {
		return "", err
	}
	tree, err := o.meta.CommitTree(head)
	if err != nil {
		return "", err
	}
	entry, ok, err := o.meta.TreeEntryAtPath(tree, p)
	if err != nil || !ok || !entry.IsSubmodule() {
		return "", err
	}
	return entry.Hash, nil
}

func (o *Opener) materialized(rec *Record) bool {
	if o.meta.IsBare() {
		return false
	}
	return repo.IsRepoRoot(filepath.Join(o.meta.RootDir, filepath.FromSlash(rec.Path)))
}

// lookup returns the configuration record for name. A name with a store but
// no record yields a nil record; a name with neither is not found.
func (o *Opener) lookup(name string) (*Record, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	if rec, ok := cfg.Records[name]; ok {
		return rec, nil
	}
	if _, err := os.Stat(filepath.Join(StoreDir(o.meta, name), "HEAD")); err == nil {
		return nil, nil
	}
	return nil, &errdefs.NotFoundError{Name: name}
}

// config returns the WithConfig records if set, else the working-tree
// configuration of an open meta repository, or the one committed at HEAD for
// a bare one.
func (o *Opener) config() (*Config, error) {
	if o.records != nil {
		return o.records, nil
	}
	if !o.meta.IsBare() {
		return ReadWorktreeConfig(o.meta)
	}
	head, err := o.meta.HeadCommit()
	if err != nil {
		return nil, err
	}
	if head == "" {
		return NewConfig(), nil
	}
	tree, err := o.meta.CommitTree(head)
	if err != nil {
		return nil, err
	}
	return ReadConfigAt(o.meta, tree)
}

// ErrDirty is returned by Close for a working tree with uncommitted work.
var ErrDirty = errors.New("submodule has uncommitted changes")

// Close removes the materialized working tree of the named submodule,
// leaving an empty directory in its place. It refuses when the working tree
// has uncommitted changes or a HEAD the meta index does not record.
func (o *Opener) Close(name string) error {
	rec, err := o.lookup(name)
	if err != nil {
		return err
	}
	if rec == nil || !o.materialized(rec) {
		return nil
	}
	worktree := filepath.Join(o.meta.RootDir, filepath.FromSlash(rec.Path))
	h, err := repo.OpenAt(worktree)
	if err != nil {
		return fmt.Errorf("close submodule %q: %w", name, err)
	}

	head, err := h.HeadCommit()
	if err != nil {
		return fmt.Errorf("close submodule %q: %w", name, err)
	}
	var headTree object.Hash
	if head != "" {
		if headTree, err = h.CommitTree(head); err != nil {
			return fmt.Errorf("close submodule %q: %w", name, err)
		}
	}
	d, err := h.DiffTreeToWorkdirWithIndex(headTree, repo.DiffOptions{IncludeUntracked: true})
	if err != nil {
		return fmt.Errorf("close submodule %q: %w", name, err)
	}
	if len(d.Deltas) > 0 {
		return errdefs.Userf("cannot close submodule %q: %v", name, ErrDirty)
	}
	recorded, err := o.recordedPointer(rec.Path)
	if err != nil {
		return fmt.Errorf("close submodule %q: %w", name, err)
	}
	if head != "" && head != recorded {
		return errdefs.Userf("cannot close submodule %q: HEAD %s is not recorded in the meta index; add %s first", name, head.Short(), rec.Path)
	}

	if err := os.RemoveAll(worktree); err != nil {
		return fmt.Errorf("close submodule %q: %w", name, err)
	}
	if err := os.MkdirAll(worktree, 0o755); err != nil {
		return fmt.Errorf("close submodule %q: %w", name, err)
	}
	o.mu.Lock()
	delete(o.open, name)
	o.mu.Unlock()
	o.logger.Info("closed submodule", zap.String("name", name), zap.String("path", rec.Path))
	return nil
}

// Add registers a new, empty submodule called name at path: it creates the
// store, an open working tree linked to it, and a configuration record, and
// stages the updated configuration file. The pointer entry is staged once
// the submodule has a commit (repo.Add on its path). An empty url records
// "./<path>".
func Add(meta *repo.Repo, name, path, url string) (*repo.Repo, error) {
	if meta.IsBare() {
		return nil, fmt.Errorf("add submodule: %w", repo.ErrBareRepository)
	}
	cfg, err := ReadWorktreeConfig(meta)
	if err != nil {
		return nil, fmt.Errorf("add submodule: %w", err)
	}
	if _, exists := cfg.Records[name]; exists {
		return nil, errdefs.Userf("submodule %q already exists", name)
	}
	if rec, exists := cfg.ByPath(path); exists {
		return nil, errdefs.Userf("path %q already belongs to submodule %q", path, rec.Name)
	}
	if url == "" {
		url = "./" + cleanPath(path)
	}
	if err := cfg.Set(Record{Name: name, Path: path, URL: url}); err != nil {
		return nil, err
	}
	rec := cfg.Records[name]

	worktree := filepath.Join(meta.RootDir, filepath.FromSlash(rec.Path))
	if entries, err := os.ReadDir(worktree); err == nil && len(entries) > 0 {
		return nil, errdefs.Userf("cannot add submodule %q: %s exists and is not empty", name, rec.Path)
	}
	storeDir := StoreDir(meta, name)
	if _, err := repo.InitBare(storeDir); err != nil {
		return nil, fmt.Errorf("add submodule %q: %w", name, err)
	}
	if err := repo.WriteLink(worktree, storeDir); err != nil {
		return nil, fmt.Errorf("add submodule %q: %w", name, err)
	}
	if err := WriteWorktreeConfig(meta, cfg); err != nil {
		return nil, fmt.Errorf("add submodule %q: %w", name, err)
	}
	if err := meta.Add([]string{filepath.Join(meta.RootDir, ConfigPath)}); err != nil {
		return nil, fmt.Errorf("add submodule %q: %w", name, err)
	}
	return repo.OpenAt(worktree)
}
