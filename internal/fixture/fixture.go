// Package fixture builds meta repositories with submodules for tests.
package fixture

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// Author is the identity every fixture commit uses.
const Author = "Fixture <fixture@example.com>"

// Meta is a meta repository under construction.
type Meta struct {
	t    testing.TB
	Repo *repo.Repo
	Subs map[string]*repo.Repo
}

// NewMeta initializes a meta repository in a temp dir with one open, empty
// submodule per name, each at a path equal to its name.
func NewMeta(t testing.TB, names ...string) *Meta {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m := &Meta{t: t, Repo: r, Subs: make(map[string]*repo.Repo)}
	for _, name := range names {
		sub, err := submodule.Add(r, name, name, "https://example.invalid/"+name)
		if err != nil {
			t.Fatalf("submodule.Add(%s): %v", name, err)
		}
		m.Subs[name] = sub
	}
	return m
}

// WriteFiles writes files relative to r's working tree.
func WriteFiles(t testing.TB, r *repo.Repo, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(r.RootDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// Commit writes and stages files, then commits on r's current branch.
func Commit(t testing.TB, r *repo.Repo, msg string, files map[string]string) object.Hash {
	t.Helper()
	WriteFiles(t, r, files)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, filepath.Join(r.RootDir, filepath.FromSlash(name)))
	}
	sort.Strings(names)
	if len(names) > 0 {
		if err := r.Add(names); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	h, err := r.Commit(msg, Author)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return h
}

// CommitSub commits files in the named submodule and stages the new pointer
// in the meta index. It returns the submodule commit.
func (m *Meta) CommitSub(name, msg string, files map[string]string) object.Hash {
	m.t.Helper()
	sub, ok := m.Subs[name]
	if !ok {
		m.t.Fatalf("unknown fixture submodule %q", name)
	}
	h := Commit(m.t, sub, msg, files)
	m.Stage(name)
	return h
}

// Stage records the named submodule's current HEAD in the meta index.
func (m *Meta) Stage(name string) {
	m.t.Helper()
	if err := m.Repo.Add([]string{filepath.Join(m.Repo.RootDir, name)}); err != nil {
		m.t.Fatalf("stage submodule %s: %v", name, err)
	}
}

// Commit commits meta-level files (and whatever is already staged).
func (m *Meta) Commit(msg string, files map[string]string) object.Hash {
	m.t.Helper()
	return Commit(m.t, m.Repo, msg, files)
}

// Checkout moves the meta repository and every fixture submodule to the
// given meta commit, detaching HEADs.
func (m *Meta) Checkout(commit object.Hash) {
	m.t.Helper()
	if err := m.Repo.CheckoutDetached(commit); err != nil {
		m.t.Fatalf("checkout meta %s: %v", commit.Short(), err)
	}
	tree, err := m.Repo.CommitTree(commit)
	if err != nil {
		m.t.Fatalf("CommitTree: %v", err)
	}
	for name, sub := range m.Subs {
		entry, ok, err := m.Repo.TreeEntryAtPath(tree, name)
		if err != nil {
			m.t.Fatalf("TreeEntryAtPath(%s): %v", name, err)
		}
		if !ok {
			continue
		}
		if err := sub.CheckoutDetached(entry.Hash); err != nil {
			m.t.Fatalf("checkout submodule %s: %v", name, err)
		}
	}
}

// Branch points refs/heads/<name> at commit and makes it current, without
// touching the working tree.
func Branch(t testing.TB, r *repo.Repo, name string, commit object.Hash) {
	t.Helper()
	if err := r.UpdateRef("refs/heads/"+name, commit); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}
	if err := r.SetSymbolicHead("refs/heads/" + name); err != nil {
		t.Fatalf("SetSymbolicHead: %v", err)
	}
}
