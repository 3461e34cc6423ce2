package metadiff

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/odvcencio/metagraft/internal/fixture"
	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

func newAggregator(m *fixture.Meta) *Aggregator {
	return &Aggregator{
		Opener:   submodule.NewOpener(m.Repo),
		Renderer: Renderer{Context: DefaultContext},
		Workers:  4,
	}
}

func runDiff(t *testing.T, a *Aggregator, args ...string) (string, *Report) {
	t.Helper()
	tg, err := ResolveTargets(a.Opener.Meta(), args)
	if err != nil {
		t.Fatalf("ResolveTargets(%q): %v", args, err)
	}
	var buf bytes.Buffer
	report, err := a.Run(context.Background(), tg, &buf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return buf.String(), report
}

func TestRunReportsOnlyModifiedSubmodule(t *testing.T) {
	m := fixture.NewMeta(t, "x", "y")
	m.CommitSub("x", "x1", map[string]string{"foo": "foo\n"})
	m.CommitSub("y", "y1", map[string]string{"bar": "bar\n"})
	m.Commit("meta", nil)

	fixture.WriteFiles(t, m.Subs["y"], map[string]string{"bar": "bar\nmore\n"})

	out, report := runDiff(t, newAggregator(m))
	if len(report.Submodules) != 1 || report.Submodules[0].Change.Name != "y" {
		t.Fatalf("report = %+v, want only y", report.Submodules)
	}
	if !report.Submodules[0].Workdir || report.Err() != nil {
		t.Fatalf("y entry = %+v", report.Submodules[0])
	}
	if !strings.HasPrefix(out, "diff --graft a/y/bar b/y/bar\n") {
		t.Fatalf("output does not start with y's diff:\n%s", out)
	}
	if !strings.Contains(out, "@@ -1,1 +1,2 @@\n bar\n+more\n") {
		t.Fatalf("output missing hunk:\n%s", out)
	}
	if strings.Contains(out, "x/") || strings.Count(out, "diff --graft") != 1 {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRunBetweenCommitsStitchesSubmodules(t *testing.T) {
	m := fixture.NewMeta(t, "x", "y")
	m.CommitSub("x", "x1", map[string]string{"foo": "foo\n"})
	m.CommitSub("y", "y1", map[string]string{"bar": "bar\n"})
	m.Commit("meta", map[string]string{"notes.txt": "one\n"})

	m.CommitSub("x", "x2", map[string]string{"foo": "foo\nfoofoo\n"})
	m.CommitSub("y", "y2", map[string]string{"bar": "baz\n"})
	m.Commit("meta2", map[string]string{"notes.txt": "two\n"})

	a := newAggregator(m)
	out, report := runDiff(t, a, "HEAD~1", "HEAD")
	notes := strings.Index(out, "a/notes.txt")
	x := strings.Index(out, "a/x/foo")
	y := strings.Index(out, "a/y/bar")
	if notes < 0 || x < 0 || y < 0 || !(notes < x && x < y) {
		t.Fatalf("output order wrong:\n%s", out)
	}
	if !strings.Contains(out, "+foofoo\n") || !strings.Contains(out, "-bar\n+baz\n") {
		t.Fatalf("submodule hunks missing:\n%s", out)
	}
	if len(report.Submodules) != 2 || report.Submodules[0].Change.Name != "x" || report.Submodules[1].Change.Name != "y" {
		t.Fatalf("report = %+v", report.Submodules)
	}
	for _, s := range report.Submodules {
		if s.Change.Kind != Modified || s.Workdir || s.Err != nil {
			t.Fatalf("entry = %+v", s)
		}
	}

	out, report = runDiff(t, a, "HEAD~1", "HEAD", "--", "x/foo")
	if strings.Contains(out, "notes.txt") || strings.Contains(out, "y/bar") || !strings.Contains(out, "a/x/foo") {
		t.Fatalf("filtered output:\n%s", out)
	}
	if len(report.Submodules) != 1 {
		t.Fatalf("filtered report = %+v", report.Submodules)
	}

	out, report = runDiff(t, a, "HEAD~1", "HEAD", "--", "notes.txt")
	if strings.Contains(out, "x/foo") || len(report.Submodules) != 0 {
		t.Fatalf("meta-only filter: %d submodules\n%s", len(report.Submodules), out)
	}
}

func TestRunNameStatusAcrossSubmodules(t *testing.T) {
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "x1", map[string]string{"foo": "foo\n"})
	m.Commit("meta", nil)
	m.CommitSub("x", "x2", map[string]string{"foo": "foo2\n", "added": "a\n"})
	m.Commit("meta2", nil)

	a := newAggregator(m)
	a.Renderer.Format = NameStatus
	out, _ := runDiff(t, a, "HEAD~1", "HEAD")
	if out != "A\tx/added\nM\tx/foo\n" {
		t.Fatalf("name-status = %q", out)
	}
}

func TestRunRecordsMissingStoreAsConsistencyError(t *testing.T) {
	m := fixture.NewMeta(t, "x", "y")
	m.CommitSub("x", "x1", map[string]string{"foo": "foo\n"})
	m.CommitSub("y", "y1", map[string]string{"bar": "bar\n"})
	m.Commit("meta", nil)
	m.CommitSub("x", "x2", map[string]string{"foo": "foo2\n"})
	m.CommitSub("y", "y2", map[string]string{"bar": "bar2\n"})
	m.Commit("meta2", nil)

	if err := os.RemoveAll(submodule.StoreDir(m.Repo, "x")); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zap.WarnLevel)
	a := newAggregator(m)
	a.Logger = zap.New(core)
	out, report := runDiff(t, a, "HEAD~1", "HEAD")

	if len(report.Submodules) != 2 {
		t.Fatalf("report = %+v", report.Submodules)
	}
	if !errors.Is(report.Submodules[0].Err, errdefs.ErrConsistency) {
		t.Fatalf("x err = %v, want consistency error", report.Submodules[0].Err)
	}
	if report.Submodules[1].Err != nil || !strings.Contains(out, "+bar2\n") {
		t.Fatalf("y should still render: err=%v\n%s", report.Submodules[1].Err, out)
	}
	if !errors.Is(report.Err(), errdefs.ErrConsistency) {
		t.Fatalf("report.Err() = %v", report.Err())
	}
	if logs.FilterMessage("submodule diff failed").Len() != 1 {
		t.Fatalf("warnings = %d", logs.Len())
	}
}

func TestRunWithoutLoggerRecordsFailures(t *testing.T) {
	m := fixture.NewMeta(t, "x")
	m.CommitSub("x", "x1", map[string]string{"foo": "foo\n"})
	m.Commit("meta", nil)
	m.CommitSub("x", "x2", map[string]string{"foo": "foo2\n"})
	m.Commit("meta2", nil)
	if err := os.RemoveAll(submodule.StoreDir(m.Repo, "x")); err != nil {
		t.Fatal(err)
	}

	_, report := runDiff(t, newAggregator(m), "HEAD~1", "HEAD")
	if !errors.Is(report.Err(), errdefs.ErrConsistency) {
		t.Fatalf("report.Err() = %v", report.Err())
	}
}
