package submodule_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/odvcencio/metagraft/internal/fixture"
	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// closedMeta returns a meta repo with one committed submodule "x" whose
// working tree has been removed.
func closedMeta(t *testing.T) (*fixture.Meta, *submodule.Opener, *observer.ObservedLogs) {
	t.Helper()
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "sub", map[string]string{"foo": "foo\n"})
	m.Commit("meta", map[string]string{"README": "meta\n"})

	core, logs := observer.New(zapcore.InfoLevel)
	o := submodule.NewOpener(m.Repo, submodule.WithLogger(zap.New(core)))
	if err := o.Close("x"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return m, o, logs
}

func TestGetUnknownIsNotFound(t *testing.T) {
	m := fixture.NewMeta(t)
	o := submodule.NewOpener(m.Repo)
	for _, opt := range []submodule.OpenOption{submodule.ForceOpen, submodule.ForceBare, submodule.PreferCached} {
		_, err := o.Get(context.Background(), "nope", opt)
		if !errors.Is(err, errdefs.ErrNotFound) {
			t.Errorf("Get(nope, %v) err = %v, want not found", opt, err)
		}
	}
	if _, err := o.Get(context.Background(), "../escape", submodule.ForceBare); !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("traversal name err = %v", err)
	}
}

func TestForceBareWithoutWorkingTree(t *testing.T) {
	m, o, _ := closedMeta(t)

	state, err := o.State("x")
	if err != nil || state != submodule.StateBare {
		t.Fatalf("State after close = %v, %v", state, err)
	}
	h, err := o.Get(context.Background(), "x", submodule.ForceBare)
	if err != nil {
		t.Fatalf("Get ForceBare: %v", err)
	}
	if !h.IsBare() {
		t.Fatal("ForceBare returned a handle with a working tree")
	}
	if _, err := os.Stat(filepath.Join(m.Repo.RootDir, "x", "foo")); !os.IsNotExist(err) {
		t.Fatal("ForceBare materialized files")
	}
	head, err := h.HeadCommit()
	if err != nil || head == "" {
		t.Fatalf("bare handle HEAD = %q, %v", head, err)
	}

	cached, err := o.Get(context.Background(), "x", submodule.PreferCached)
	if err != nil || cached != h {
		t.Fatalf("PreferCached = %p, %v; want cached bare handle %p", cached, err, h)
	}
}

func TestForceOpenMaterializesOnce(t *testing.T) {
	m, o, logs := closedMeta(t)

	const callers = 8
	handles := make([]*repo.Repo, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = o.Get(context.Background(), "x", submodule.ForceOpen)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Get ForceOpen #%d: %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
	if handles[0].IsBare() {
		t.Fatal("ForceOpen returned a bare handle")
	}
	data, err := os.ReadFile(filepath.Join(m.Repo.RootDir, "x", "foo"))
	if err != nil || string(data) != "foo\n" {
		t.Fatalf("materialized foo = %q, %v", data, err)
	}
	if n := logs.FilterMessage("materialized submodule").Len(); n != 1 {
		t.Fatalf("materialized %d times, want 1", n)
	}

	again, err := o.Get(context.Background(), "x", submodule.ForceOpen)
	if err != nil || again != handles[0] {
		t.Fatalf("repeated ForceOpen = %p, %v", again, err)
	}
	state, err := o.State("x")
	if err != nil || state != submodule.StateOpen {
		t.Fatalf("State = %v, %v", state, err)
	}
}

func TestPreferCachedUsesWorkingTreeOnDisk(t *testing.T) {
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "sub", map[string]string{"foo": "foo\n"})
	m.Commit("meta", nil)

	o := submodule.NewOpener(m.Repo)
	h, err := o.Get(context.Background(), "x", submodule.PreferCached)
	if err != nil {
		t.Fatalf("PreferCached: %v", err)
	}
	if h.IsBare() {
		t.Fatal("PreferCached ignored the materialized working tree")
	}
}

func TestCloseRefusesDirtyWorkingTree(t *testing.T) {
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "sub", map[string]string{"foo": "foo\n"})
	m.Commit("meta", nil)
	fixture.WriteFiles(t, m.Subs["x"], map[string]string{"foo": "edited\n"})

	o := submodule.NewOpener(m.Repo)
	err := o.Close("x")
	if !errors.Is(err, errdefs.ErrUser) {
		t.Fatalf("Close dirty err = %v, want user error", err)
	}
	if !repo.IsRepoRoot(filepath.Join(m.Repo.RootDir, "x")) {
		t.Fatal("dirty working tree was removed")
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	m := fixture.NewMeta(t, "x")
	if _, err := submodule.Add(m.Repo, "x", "other", "u"); !errors.Is(err, errdefs.ErrUser) {
		t.Fatalf("duplicate name err = %v", err)
	}
	if _, err := submodule.Add(m.Repo, "y", "x", "u"); !errors.Is(err, errdefs.ErrUser) {
		t.Fatalf("duplicate path err = %v", err)
	}

	stg, err := m.Repo.ReadStaging()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := stg.Entries[submodule.ConfigPath]; !ok {
		t.Fatal("configuration file not staged by Add")
	}
}

func TestCheckConsistencyOfCommittedTree(t *testing.T) {
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "sub", map[string]string{"foo": "foo\n"})
	c := m.Commit("meta", nil)
	tree, err := m.Repo.CommitTree(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := submodule.CheckConsistency(m.Repo, tree); err != nil {
		t.Fatalf("CheckConsistency: %v", err)
	}

	files, err := m.Repo.FlattenTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	var withoutConfig []repo.TreeFileEntry
	for _, f := range files {
		if f.Path != submodule.ConfigPath {
			withoutConfig = append(withoutConfig, f)
		}
	}
	broken, err := m.Repo.BuildTreeFromFiles(withoutConfig)
	if err != nil {
		t.Fatal(err)
	}
	if err := submodule.CheckConsistency(m.Repo, broken); !errors.Is(err, errdefs.ErrConsistency) {
		t.Fatalf("CheckConsistency(broken) = %v", err)
	}
}

func TestAddDefaultsURLToPath(t *testing.T) {
	m := fixture.NewMeta(t)
	if _, err := submodule.Add(m.Repo, "libs/x", "libs/x", ""); err != nil {
		t.Fatalf("Add without url: %v", err)
	}
	cfg, err := submodule.ReadWorktreeConfig(m.Repo)
	if err != nil {
		t.Fatalf("ReadWorktreeConfig: %v", err)
	}
	rec, ok := cfg.Records["libs/x"]
	if !ok || rec.URL != "./libs/x" || rec.Path != "libs/x" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestFailedOpenLeavesEmptyDirectory(t *testing.T) {
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "sub", map[string]string{"a": "a\n", "z": "z\n"})
	m.Commit("meta", nil)
	store := m.Subs["x"].Store.Root()

	o := submodule.NewOpener(m.Repo)
	if err := o.Close("x"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	blob := object.HashObject(object.TypeBlob, []byte("z\n"))
	if err := os.Remove(filepath.Join(store, "objects", string(blob[:2]), string(blob[2:]))); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	worktree := filepath.Join(m.Repo.RootDir, "x")
	for attempt := 1; attempt <= 2; attempt++ {
		_, err := submodule.NewOpener(m.Repo).Get(context.Background(), "x", submodule.ForceOpen)
		if !errors.Is(err, errdefs.ErrConsistency) || errors.Is(err, errdefs.ErrUser) {
			t.Fatalf("attempt %d: err = %v, want consistency error", attempt, err)
		}
		entries, err := os.ReadDir(worktree)
		if err != nil {
			t.Fatalf("attempt %d: ReadDir: %v", attempt, err)
		}
		if len(entries) != 0 {
			t.Fatalf("attempt %d: partial working tree left behind: %v", attempt, entries)
		}
	}
}

func TestWithConfigResolvesNamesMissingOnDisk(t *testing.T) {
	m, _, _ := closedMeta(t)
	merged, err := submodule.ReadWorktreeConfig(m.Repo)
	if err != nil {
		t.Fatalf("ReadWorktreeConfig: %v", err)
	}
	onDisk := merged.Clone()
	onDisk.Delete("x")
	if err := submodule.WriteWorktreeConfig(m.Repo, onDisk); err != nil {
		t.Fatalf("WriteWorktreeConfig: %v", err)
	}

	if _, err := submodule.NewOpener(m.Repo).Get(context.Background(), "x", submodule.ForceOpen); !errors.Is(err, errdefs.ErrConsistency) {
		t.Fatalf("open without record err = %v", err)
	}
	h, err := submodule.NewOpener(m.Repo, submodule.WithConfig(merged)).Get(context.Background(), "x", submodule.ForceOpen)
	if err != nil {
		t.Fatalf("open with merged config: %v", err)
	}
	if h.IsBare() {
		t.Fatal("ForceOpen returned a bare handle")
	}
	if _, err := os.Stat(filepath.Join(m.Repo.RootDir, "x", "foo")); err != nil {
		t.Fatalf("x/foo not materialized: %v", err)
	}
}
