package diff3

import (
	"fmt"
	"strings"
	"testing"
)

func TestMyersDiff_Basic(t *testing.T) {
	ops := MyersDiff([]string{"a", "b", "c"}, []string{"a", "x", "c"})

	wantTypes := []DiffType{Equal, Delete, Insert, Equal}
	wantLines := []string{"a", "b", "x", "c"}
	if len(ops) != len(wantTypes) {
		t.Fatalf("got %d ops, want %d: %v", len(ops), len(wantTypes), ops)
	}
	for i, op := range ops {
		if op.Type != wantTypes[i] || op.Line != wantLines[i] {
			t.Errorf("op[%d] = {%v, %q}, want {%v, %q}", i, op.Type, op.Line, wantTypes[i], wantLines[i])
		}
	}
}

func TestMyersDiff_EmptySides(t *testing.T) {
	for _, op := range MyersDiff(nil, []string{"a", "b"}) {
		if op.Type != Insert {
			t.Errorf("expected Insert, got %v", op)
		}
	}
	for _, op := range MyersDiff([]string{"a", "b"}, nil) {
		if op.Type != Delete {
			t.Errorf("expected Delete, got %v", op)
		}
	}
	if ops := MyersDiff(nil, nil); len(ops) != 0 {
		t.Errorf("expected no ops, got %v", ops)
	}
}

func TestLineDiff_Identical(t *testing.T) {
	a := []byte("same\ncontent\n")
	for _, d := range LineDiff(a, a) {
		if d.Type != Equal {
			t.Errorf("expected all Equal, got type=%v line=%q", d.Type, d.Content)
		}
	}
}

func TestSplitLines(t *testing.T) {
	if got := SplitLines([]byte("a\nb\n")); len(got) != 2 {
		t.Fatalf("SplitLines = %q", got)
	}
	if got := SplitLines([]byte("a\nb")); len(got) != 2 || got[1] != "b" {
		t.Fatalf("SplitLines without trailing newline = %q", got)
	}
	if got := SplitLines(nil); got != nil {
		t.Fatalf("SplitLines(nil) = %q", got)
	}
}

func TestMerge_CleanTopBottom(t *testing.T) {
	base := []byte("line1\nline2\nline3\n")
	ours := []byte("new-top\nline1\nline2\nline3\n")
	theirs := []byte("line1\nline2\nline3\nnew-bottom\n")

	r := Merge(base, ours, theirs, Labels{})
	if r.HasConflicts {
		t.Fatalf("expected clean merge, got:\n%s", r.Merged)
	}
	want := "new-top\nline1\nline2\nline3\nnew-bottom\n"
	if string(r.Merged) != want {
		t.Fatalf("merged = %q, want %q", r.Merged, want)
	}
}

func TestMerge_OneSided(t *testing.T) {
	base := []byte("a\nb\nc\n")
	changed := []byte("a\nB\nc\n")

	if r := Merge(base, changed, base, Labels{}); r.HasConflicts || string(r.Merged) != string(changed) {
		t.Fatalf("ours-only merge = %q (conflicts=%v)", r.Merged, r.HasConflicts)
	}
	if r := Merge(base, base, changed, Labels{}); r.HasConflicts || string(r.Merged) != string(changed) {
		t.Fatalf("theirs-only merge = %q (conflicts=%v)", r.Merged, r.HasConflicts)
	}
}

func TestMerge_AppendVsUnrelatedEdit(t *testing.T) {
	base := []byte("foo\nbar\nbaz\n")
	ours := []byte("foo\nbar\nbaz\nfoofoo\n")
	theirs := []byte("FOO\nbar\nbaz\n")

	r := Merge(base, ours, theirs, Labels{})
	if r.HasConflicts {
		t.Fatalf("unexpected conflict:\n%s", r.Merged)
	}
	if want := "FOO\nbar\nbaz\nfoofoo\n"; string(r.Merged) != want {
		t.Fatalf("merged = %q, want %q", r.Merged, want)
	}
}

func TestMerge_ConflictUsesLabels(t *testing.T) {
	base := []byte("a\nb\nc\n")
	ours := []byte("a\nours\nc\n")
	theirs := []byte("a\ntheirs\nc\n")

	r := Merge(base, ours, theirs, Labels{Ours: "HEAD", Theirs: "feature"})
	if !r.HasConflicts || r.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", r.Conflicts)
	}
	want := "a\n<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> feature\nc\n"
	if string(r.Merged) != want {
		t.Fatalf("merged = %q, want %q", r.Merged, want)
	}
}

func TestMerge_IdenticalChange(t *testing.T) {
	base := []byte("a\nb\nc\n")
	same := []byte("a\nX\nc\n")
	r := Merge(base, same, same, Labels{})
	if r.HasConflicts || string(r.Merged) != string(same) {
		t.Fatalf("identical change merge = %q (conflicts=%v)", r.Merged, r.HasConflicts)
	}
}

func TestMerge_InsertionsAtSamePointConflict(t *testing.T) {
	base := []byte("a\nb\n")
	ours := []byte("a\nx\nb\n")
	theirs := []byte("a\ny\nb\n")
	if r := Merge(base, ours, theirs, Labels{}); !r.HasConflicts {
		t.Fatalf("expected conflict, got %q", r.Merged)
	}
}

func TestMerge_DeleteVsModify(t *testing.T) {
	base := []byte("a\nb\nc\n")
	ours := []byte("a\nc\n")
	theirs := []byte("a\nB\nc\n")
	if r := Merge(base, ours, theirs, Labels{}); !r.HasConflicts {
		t.Fatalf("expected conflict, got %q", r.Merged)
	}
}

func TestMerge_EmptyBase(t *testing.T) {
	r := Merge(nil, []byte("x\n"), []byte("y\n"), Labels{})
	if !r.HasConflicts {
		t.Fatal("two different additions from an empty base should conflict")
	}
	r = Merge(nil, nil, nil, Labels{})
	if r.HasConflicts || len(r.Merged) != 0 {
		t.Fatalf("all-empty merge = %q", r.Merged)
	}
}

func TestMerge_LargeNonOverlapping(t *testing.T) {
	var lines []string
	for i := 0; i < 500; i++ {
		lines = append(lines, fmt.Sprintf("line%d", i))
	}
	base := strings.Join(lines, "\n") + "\n"
	oursLines := append([]string(nil), lines...)
	oursLines[10] = "ours"
	theirsLines := append([]string(nil), lines...)
	theirsLines[400] = "theirs"

	r := Merge([]byte(base), []byte(strings.Join(oursLines, "\n")+"\n"), []byte(strings.Join(theirsLines, "\n")+"\n"), Labels{})
	if r.HasConflicts {
		t.Fatal("non-overlapping edits should merge cleanly")
	}
	if !strings.Contains(string(r.Merged), "ours") || !strings.Contains(string(r.Merged), "theirs") {
		t.Fatal("merged output lost one side")
	}
}
