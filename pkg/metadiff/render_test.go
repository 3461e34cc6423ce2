package metadiff

import (
	"bytes"
	"strings"
	"testing"

	"github.com/odvcencio/metagraft/pkg/diff3"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

func TestBuildHunksMergesNearbyChanges(t *testing.T) {
	before := []byte("1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13\n14\n15\n16\n17\n18\n19\n20\n")
	after := []byte("1\nTWO\n3\n4\n5\nSIX\n7\n8\n9\n10\n11\n12\n13\n14\n15\n16\n17\n18\nNINETEEN\n20\n")
	lines := diff3.LineDiff(before, after)

	hunks := buildHunks(lines, 3)
	if len(hunks) != 2 {
		t.Fatalf("got %d hunks, want 2", len(hunks))
	}
	oldStart, oldCount, newStart, newCount := hunks[0].lineRange(lines)
	if oldStart != 1 || oldCount != 9 || newStart != 1 || newCount != 9 {
		t.Fatalf("first hunk = -%d,%d +%d,%d", oldStart, oldCount, newStart, newCount)
	}
	oldStart, oldCount, newStart, newCount = hunks[1].lineRange(lines)
	if oldStart != 16 || oldCount != 5 || newStart != 16 || newCount != 5 {
		t.Fatalf("second hunk = -%d,%d +%d,%d", oldStart, oldCount, newStart, newCount)
	}
}

func TestLineRangeForPureInsertion(t *testing.T) {
	lines := diff3.LineDiff(nil, []byte("a\nb\n"))
	hunks := buildHunks(lines, 3)
	if len(hunks) != 1 {
		t.Fatalf("got %d hunks", len(hunks))
	}
	oldStart, oldCount, newStart, newCount := hunks[0].lineRange(lines)
	if oldStart != 0 || oldCount != 0 || newStart != 1 || newCount != 2 {
		t.Fatalf("range = -%d,%d +%d,%d", oldStart, oldCount, newStart, newCount)
	}
}

func TestRenderContentFuncContext(t *testing.T) {
	before := "package main\n\nfunc alpha() {\n\treturn\n}\n\nfunc beta() {\n\tx := 1\n\t_ = x\n}\n"
	after := strings.Replace(before, "x := 1", "x := 2", 1)

	var buf bytes.Buffer
	rd := Renderer{Context: 0, FuncContext: true}
	if err := rd.RenderContent(&buf, "main.go", "main.go", []byte(before), []byte(after)); err != nil {
		t.Fatalf("RenderContent: %v", err)
	}
	want := "diff --graft a/main.go b/main.go\n" +
		"--- a/main.go\n" +
		"+++ b/main.go\n" +
		"@@ -8,1 +8,1 @@ func beta() {\n" +
		"-\tx := 1\n" +
		"+\tx := 2\n"
	if buf.String() != want {
		t.Fatalf("output:\n%s\nwant:\n%s", buf.String(), want)
	}

	buf.Reset()
	rd.FuncContext = false
	if err := rd.RenderContent(&buf, "main.go", "main.go", []byte(before), []byte(after)); err != nil {
		t.Fatalf("RenderContent: %v", err)
	}
	if !strings.Contains(buf.String(), "@@ -8,1 +8,1 @@\n") {
		t.Fatalf("plain header missing:\n%s", buf.String())
	}
}

func TestRenderContentBinaryAndEqual(t *testing.T) {
	var buf bytes.Buffer
	rd := Renderer{Context: DefaultContext}
	if err := rd.RenderContent(&buf, "a", "a", []byte("same"), []byte("same")); err != nil || buf.Len() != 0 {
		t.Fatalf("equal content rendered %q, %v", buf.String(), err)
	}
	if err := rd.RenderContent(&buf, "img", "img", []byte{0, 1}, []byte{0, 2}); err != nil {
		t.Fatalf("RenderContent: %v", err)
	}
	if !strings.Contains(buf.String(), "Binary files a/img and b/img differ") {
		t.Fatalf("binary output = %q", buf.String())
	}
}

func TestRenderFormats(t *testing.T) {
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	blob := func(s string) object.Hash {
		h, err := r.Store.WriteBlob(&object.Blob{Data: []byte(s)})
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		return h
	}
	d := &repo.Diff{Deltas: []repo.Delta{
		{Status: repo.DeltaAdded, New: repo.DiffFile{Path: "new.txt", Mode: object.TreeModeFile, Hash: blob("n\n")}},
		{Status: repo.DeltaModified,
			Old: repo.DiffFile{Path: "mod.txt", Mode: object.TreeModeFile, Hash: blob("a\n")},
			New: repo.DiffFile{Path: "mod.txt", Mode: object.TreeModeFile, Hash: blob("b\n")}},
		{Status: repo.DeltaModified,
			Old: repo.DiffFile{Path: "sub", Mode: object.TreeModeSubmodule, Hash: "c1"},
			New: repo.DiffFile{Path: "sub", Mode: object.TreeModeSubmodule, Hash: "c2"}},
	}}

	var buf bytes.Buffer
	if err := (Renderer{Format: NameStatus, Prefix: "y/"}).Render(&buf, r, d); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got, want := buf.String(), "A\ty/new.txt\nM\ty/mod.txt\n"; got != want {
		t.Fatalf("name-status = %q, want %q", got, want)
	}

	buf.Reset()
	if err := (Renderer{Format: NameOnly}).Render(&buf, r, d); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got, want := buf.String(), "new.txt\nmod.txt\n"; got != want {
		t.Fatalf("name-only = %q, want %q", got, want)
	}

	buf.Reset()
	if err := (Renderer{Format: Raw}).Render(&buf, r, d); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(buf.String(), ":000000 100644 000000000000 ") {
		t.Fatalf("raw = %q", buf.String())
	}

	buf.Reset()
	if err := (Renderer{Context: DefaultContext}).Render(&buf, r, d); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"diff --graft a/new.txt b/new.txt\nnew file mode 100644\n",
		"--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,1 @@\n+n\n",
		"diff --graft a/mod.txt b/mod.txt\nindex ",
		"@@ -1,1 +1,1 @@\n-a\n+b\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("patch output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "a/sub") {
		t.Errorf("submodule pointer rendered as a file:\n%s", out)
	}
}

func TestSubmoduleChanges(t *testing.T) {
	cfg := submodule.NewConfig()
	for _, rec := range []submodule.Record{
		{Name: "x", Path: "x", URL: "https://example.invalid/x"},
		{Name: "moved", Path: "libs/moved", URL: "https://example.invalid/moved"},
	} {
		if err := cfg.Set(rec); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	oldCfg := cfg.Clone()
	oldCfg.Records["moved"].Path = "moved"

	d := &repo.Diff{Deltas: []repo.Delta{
		{Status: repo.DeltaModified, Old: repo.DiffFile{Path: "README", Mode: object.TreeModeFile}, New: repo.DiffFile{Path: "README", Mode: object.TreeModeFile}},
		{Status: repo.DeltaAdded, New: repo.DiffFile{Path: "libs/moved", Mode: object.TreeModeSubmodule, Hash: "m2"}},
		{Status: repo.DeltaDeleted, Old: repo.DiffFile{Path: "moved", Mode: object.TreeModeSubmodule, Hash: "m1"}},
		{Status: repo.DeltaModified,
			Old: repo.DiffFile{Path: "x", Mode: object.TreeModeSubmodule, Hash: "x1"},
			New: repo.DiffFile{Path: "x", Mode: object.TreeModeSubmodule, Hash: "x2"}},
	}}

	plain := SubmoduleChanges(d, oldCfg, cfg, false)
	if len(plain) != 3 {
		t.Fatalf("changes = %+v", plain)
	}
	if plain[0].Kind != Added || plain[0].Name != "moved" || plain[1].Kind != Removed || plain[1].Name != "moved" {
		t.Fatalf("move without renames = %+v", plain[:2])
	}
	if plain[2].Name != "x" || plain[2].Old != "x1" || plain[2].New != "x2" {
		t.Fatalf("x change = %+v", plain[2])
	}

	paired := SubmoduleChanges(d, oldCfg, cfg, true)
	if len(paired) != 2 {
		t.Fatalf("paired changes = %+v", paired)
	}
	mv := paired[0]
	if mv.Kind != Modified || mv.OldPath != "moved" || mv.Path != "libs/moved" || mv.Old != "m1" || mv.New != "m2" {
		t.Fatalf("move = %+v", mv)
	}
}
