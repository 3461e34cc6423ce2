package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/odvcencio/metagraft/internal/fixture"
	"github.com/odvcencio/metagraft/pkg/object"
)

// runRoot executes the root command in dir and returns its combined output.
func runRoot(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(dir)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func newSubMeta(t *testing.T) *fixture.Meta {
	t.Helper()
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "sub base", map[string]string{"foo": "foo\n"})
	m.Commit("base", map[string]string{"README": "readme\n"})
	return m
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, t.TempDir(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "graft-meta ") {
		t.Fatalf("version output = %q", out)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	if _, err := runRoot(t, dir, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".graft", "HEAD")); err != nil {
		t.Fatalf("HEAD not created: %v", err)
	}
	if _, err := runRoot(t, dir, "init"); err == nil {
		t.Fatal("second init succeeded")
	}
}

func TestDiffCommandShowsSubmoduleWorkdir(t *testing.T) {
	m := newSubMeta(t)
	fixture.WriteFiles(t, m.Subs["x"], map[string]string{"foo": "foo\nbar\n"})

	out, err := runRoot(t, m.Repo.RootDir, "diff")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !strings.HasPrefix(out, "diff --graft a/x/foo b/x/foo\n") {
		t.Fatalf("diff output:\n%s", out)
	}
	if !strings.Contains(out, " foo\n+bar\n") {
		t.Fatalf("diff output missing added line:\n%s", out)
	}

	out, err = runRoot(t, m.Repo.RootDir, "diff", "--name-only", "--", "README")
	if err != nil {
		t.Fatalf("diff README: %v", err)
	}
	if out != "" {
		t.Fatalf("filtered diff should be empty, got:\n%s", out)
	}
}

func TestDiffCommandNoIndex(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("one\n"), 0o644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("two\n"), 0o644); err != nil {
		t.Fatalf("write b: %v", err)
	}
	out, err := runRoot(t, dir, "diff", "--no-index", a, b)
	if err != nil {
		t.Fatalf("diff --no-index: %v", err)
	}
	if !strings.Contains(out, "-one\n+two\n") {
		t.Fatalf("no-index output:\n%s", out)
	}
}

func TestDiffCommandRejectsBadRevision(t *testing.T) {
	m := newSubMeta(t)
	if _, err := runRoot(t, m.Repo.RootDir, "diff", "nope", "--"); err == nil || !strings.Contains(err.Error(), `bad revision "nope"`) {
		t.Fatalf("diff nope: %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	m := newSubMeta(t)
	fixture.WriteFiles(t, m.Subs["x"], map[string]string{"foo": "changed\n"})
	fixture.WriteFiles(t, m.Repo, map[string]string{"README": "edited\n"})

	out, err := runRoot(t, m.Repo.RootDir, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{" M README\n", " M x/foo\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestMergeBareCommand(t *testing.T) {
	m := newSubMeta(t)
	base, err := m.Repo.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	next := m.Commit("next", map[string]string{"README": "next\n"})

	out, err := runRoot(t, m.Repo.RootDir, "merge-bare", "-m", "merge", string(base), string(next))
	if err != nil {
		t.Fatalf("merge-bare: %v", err)
	}
	if out != "" {
		t.Fatalf("fast-forward should print nothing, got %q", out)
	}

	out, err = runRoot(t, m.Repo.RootDir, "merge-bare", "-m", "merge", "--no-ff", string(base), string(next))
	if err != nil {
		t.Fatalf("merge-bare --no-ff: %v", err)
	}
	commit := object.Hash(strings.TrimSpace(out))
	c, err := m.Repo.Store.ReadCommit(commit)
	if err != nil {
		t.Fatalf("ReadCommit(%q): %v", commit, err)
	}
	if !reflect.DeepEqual(c.Parents, []object.Hash{base, next}) {
		t.Fatalf("parents = %v", c.Parents)
	}
	if head, _ := m.Repo.HeadCommit(); head != next {
		t.Fatalf("HEAD moved to %s", head)
	}
}

func TestMergeBareCommandErrors(t *testing.T) {
	m := newSubMeta(t)
	if _, err := runRoot(t, m.Repo.RootDir, "merge-bare", "HEAD", "HEAD"); err == nil || !strings.Contains(err.Error(), "-m") {
		t.Fatalf("missing message: %v", err)
	}
	_, err := runRoot(t, m.Repo.RootDir, "merge-bare", "-m", "merge", "HEAD", "nope")
	if err == nil || err.Error() != "Could not resolve nope to a commit" {
		t.Fatalf("unresolvable: %v", err)
	}
}

func TestCloseAndOpenCommands(t *testing.T) {
	m := newSubMeta(t)
	if _, err := runRoot(t, m.Repo.RootDir, "close", "x"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.Repo.RootDir, "x", "foo")); !os.IsNotExist(err) {
		t.Fatalf("x/foo after close: %v", err)
	}
	if _, err := runRoot(t, m.Repo.RootDir, "open", "x"); err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(m.Repo.RootDir, "x", "foo"))
	if err != nil || string(data) != "foo\n" {
		t.Fatalf("x/foo after open = %q, %v", data, err)
	}
}

func TestBranchCommandNamesMergeResult(t *testing.T) {
	m := newSubMeta(t)
	base, err := m.Repo.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	next := m.Commit("next", map[string]string{"README": "next\n"})
	out, err := runRoot(t, m.Repo.RootDir, "merge-bare", "-m", "merge", "--no-ff", string(base), string(next))
	if err != nil {
		t.Fatalf("merge-bare: %v", err)
	}
	merged := object.Hash(strings.TrimSpace(out))

	if _, err := runRoot(t, m.Repo.RootDir, "branch", "release/merged", string(merged)); err != nil {
		t.Fatalf("branch: %v", err)
	}
	if h, err := m.Repo.ResolveRef("refs/heads/release/merged"); err != nil || h != merged {
		t.Fatalf("release/merged = %s, %v; want %s", h, err, merged)
	}
	if _, err := runRoot(t, m.Repo.RootDir, "branch", "release/merged"); err == nil {
		t.Fatal("creating an existing branch succeeded")
	}

	out, err = runRoot(t, m.Repo.RootDir, "branch")
	if err != nil {
		t.Fatalf("branch list: %v", err)
	}
	if out != "* main\n  release/merged\n" {
		t.Fatalf("branch list = %q", out)
	}
}

func TestIncludeCommandWithoutURL(t *testing.T) {
	dir := t.TempDir()
	if _, err := runRoot(t, dir, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := runRoot(t, dir, "include", "libs/x")
	if err != nil {
		t.Fatalf("include: %v", err)
	}
	if out != "included submodule libs/x at libs/x\n" {
		t.Fatalf("include output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".gitmodules"))
	if err != nil {
		t.Fatalf("read .gitmodules: %v", err)
	}
	if !strings.Contains(string(data), "./libs/x") {
		t.Fatalf(".gitmodules lacks default url:\n%s", data)
	}
	if _, err := runRoot(t, dir, "include", "libs/x"); err == nil {
		t.Fatal("including the same path twice succeeded")
	}
}
