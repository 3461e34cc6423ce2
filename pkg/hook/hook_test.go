package hook

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/odvcencio/metagraft/pkg/repo"
)

func writeHook(t *testing.T, r *repo.Repo, name, script string, mode os.FileMode) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell hooks are not supported on windows")
	}
	if err := os.WriteFile(Path(r, name), []byte(script), mode); err != nil {
		t.Fatalf("write hook: %v", err)
	}
}

func TestExecMissingHook(t *testing.T) {
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	var h Runner
	if err := h.Exec(context.Background(), r, PostMerge, "abc"); err != nil {
		t.Fatalf("missing hook should be a no-op: %v", err)
	}
}

func TestExecPassesArguments(t *testing.T) {
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	writeHook(t, r, PostMerge, "#!/bin/sh\necho \"$1\" >> hook.log\n", 0o755)

	var h Runner
	if err := h.Exec(context.Background(), r, PostMerge, "deadbeef"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(r.RootDir, "hook.log"))
	if err != nil {
		t.Fatalf("read hook output: %v", err)
	}
	if strings.TrimSpace(string(data)) != "deadbeef" {
		t.Fatalf("hook saw %q", data)
	}
}

func TestExecReportsFailure(t *testing.T) {
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	writeHook(t, r, PostMerge, "#!/bin/sh\necho boom\nexit 3\n", 0o755)

	var h Runner
	err = h.Exec(context.Background(), r, PostMerge)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Exec err = %v, want failure carrying output", err)
	}
}

func TestExecSkipsNonExecutable(t *testing.T) {
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	writeHook(t, r, PostMerge, "#!/bin/sh\nexit 1\n", 0o644)

	var h Runner
	if err := h.Exec(context.Background(), r, PostMerge); err != nil {
		t.Fatalf("non-executable hook should be skipped: %v", err)
	}
}
