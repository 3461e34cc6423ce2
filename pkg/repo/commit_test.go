package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/metagraft/pkg/object"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// commitFiles writes files, stages them and commits.
func commitFiles(t *testing.T, r *Repo, msg string, files map[string]string) object.Hash {
	t.Helper()
	var names []string
	for name, content := range files {
		writeFile(t, r.RootDir, name, content)
		names = append(names, name)
	}
	if err := r.Add(names); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h, err := r.Commit(msg, "tester")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return h
}

func initRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func TestInitAndOpen(t *testing.T) {
	r := initRepo(t)
	if r.IsBare() {
		t.Fatal("fresh repository should have a working tree")
	}
	if _, err := Init(r.RootDir); err == nil {
		t.Fatal("Init over an existing repository should fail")
	}

	sub := filepath.Join(r.RootDir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	opened, err := Open(sub)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.RootDir != r.RootDir {
		t.Fatalf("Open found root %q, want %q", opened.RootDir, r.RootDir)
	}

	head, err := r.HeadCommit()
	if err != nil || head != "" {
		t.Fatalf("HeadCommit on unborn branch = %q, %v", head, err)
	}
}

func TestOpenFollowsLinkFile(t *testing.T) {
	store := filepath.Join(t.TempDir(), "modules", "lib")
	bare, err := InitBare(store)
	if err != nil {
		t.Fatalf("InitBare: %v", err)
	}
	if !bare.IsBare() {
		t.Fatal("InitBare should produce a bare repository")
	}
	if _, err := bare.Workdir(); !errors.Is(err, ErrBareRepository) {
		t.Fatalf("Workdir on bare = %v, want ErrBareRepository", err)
	}

	wt := filepath.Join(t.TempDir(), "lib")
	if err := WriteLink(wt, store); err != nil {
		t.Fatalf("WriteLink: %v", err)
	}
	r, err := OpenAt(wt)
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	if r.ControlDir != bare.ControlDir {
		t.Fatalf("linked control dir = %q, want %q", r.ControlDir, bare.ControlDir)
	}
	if r.IsBare() {
		t.Fatal("linked working tree should not be bare")
	}
}

func TestCommitAdvancesBranch(t *testing.T) {
	r := initRepo(t)
	c1 := commitFiles(t, r, "first", map[string]string{"a.txt": "a\n"})
	c2 := commitFiles(t, r, "second", map[string]string{"a.txt": "b\n"})

	head, err := r.ResolveRef("HEAD")
	if err != nil {
		t.Fatalf("ResolveRef: %v", err)
	}
	if head != c2 {
		t.Fatalf("HEAD = %s, want %s", head, c2)
	}
	c, err := r.Store.ReadCommit(c2)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(c.Parents) != 1 || c.Parents[0] != c1 {
		t.Fatalf("parents = %v, want [%s]", c.Parents, c1)
	}
}

func TestCreateCommitLeavesRefsAlone(t *testing.T) {
	r := initRepo(t)
	c1 := commitFiles(t, r, "first", map[string]string{"a.txt": "a\n"})
	tree, err := r.CommitTree(c1)
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}

	merge, err := r.CreateCommit(CommitRequest{Tree: tree, Parents: []object.Hash{c1, c1}, Author: "x", Message: "m"})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	head, _ := r.HeadCommit()
	if head != c1 {
		t.Fatalf("HEAD moved to %s", head)
	}
	if !r.Store.Has(merge) {
		t.Fatal("commit object not written")
	}
}

func TestCreateCommitSigns(t *testing.T) {
	r := initRepo(t)
	tree, err := r.EmptyTree()
	if err != nil {
		t.Fatalf("EmptyTree: %v", err)
	}
	var payload []byte
	h, err := r.CreateCommit(CommitRequest{
		Tree:    tree,
		Message: "signed",
		Signer: func(p []byte) (string, error) {
			payload = p
			return "sig-value", nil
		},
	})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if c.Signature != "sig-value" || len(payload) == 0 {
		t.Fatalf("signature = %q, payload %d bytes", c.Signature, len(payload))
	}
}

func TestBuildTreeWithSubmodulePointer(t *testing.T) {
	r := initRepo(t)
	pointer := object.Hash("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	tree, err := r.BuildTreeFromFiles([]TreeFileEntry{
		{Path: "libs/x", Mode: object.TreeModeSubmodule, Hash: pointer},
		{Path: "README", Mode: object.TreeModeFile, Hash: object.HashObject(object.TypeBlob, nil)},
	})
	if err != nil {
		t.Fatalf("BuildTreeFromFiles: %v", err)
	}
	files, err := r.FlattenTree(tree)
	if err != nil {
		t.Fatalf("FlattenTree: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("flattened %d entries, want 2", len(files))
	}
	entry, ok, err := r.TreeEntryAtPath(tree, "libs/x")
	if err != nil || !ok {
		t.Fatalf("TreeEntryAtPath: ok=%v err=%v", ok, err)
	}
	if !entry.IsSubmodule() || entry.Hash != pointer {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestBuildTreeRejectsFileDirectoryClash(t *testing.T) {
	r := initRepo(t)
	_, err := r.BuildTreeFromFiles([]TreeFileEntry{
		{Path: "a", Mode: object.TreeModeFile, Hash: "h1"},
		{Path: "a/b", Mode: object.TreeModeFile, Hash: "h2"},
	})
	if err == nil {
		t.Fatal("expected an error for a path that is both file and directory")
	}
}

func TestUpdateRefCAS(t *testing.T) {
	r := initRepo(t)
	if err := r.UpdateRef("refs/heads/topic", "aaaa", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.UpdateRef("refs/heads/topic", "bbbb", "cccc"); !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("mismatched CAS err = %v", err)
	}
	if err := r.UpdateRef("refs/heads/topic", "bbbb", "aaaa"); err != nil {
		t.Fatalf("matching CAS: %v", err)
	}
	if err := r.CreateBranch("topic", "dddd"); err == nil {
		t.Fatal("CreateBranch over an existing branch should fail")
	}
}

func TestConfigDefaultsAndRoundTrip(t *testing.T) {
	r := initRepo(t)
	cfg, err := r.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if cfg.Diff.Workers != 4 || cfg.Diff.Context != 3 {
		t.Fatalf("defaults = %+v", cfg.Diff)
	}

	cfg.User = UserConfig{Name: "Ada", Email: "ada@example.com"}
	cfg.Diff.Workers = 8
	if err := r.WriteConfig(cfg); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	got, err := r.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if got.Author() != "Ada <ada@example.com>" || got.Diff.Workers != 8 {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestConfigPartialFileKeepsDefaults(t *testing.T) {
	r := initRepo(t)
	if err := os.WriteFile(filepath.Join(r.ControlDir, ConfigFileName), []byte("[merge]\nopen_submodules = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if !cfg.Merge.OpenSubmodules || cfg.Diff.Workers != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
}
