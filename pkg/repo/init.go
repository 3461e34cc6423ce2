package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const linkPrefix = "graftdir: "

// Init creates a new repository at path with a .graft/ control directory.
// Returns an error if one already exists.
func Init(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	controlDir := filepath.Join(abs, ControlDirName)
	if _, err := os.Stat(controlDir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", controlDir)
	}
	if err := initControlDir(controlDir); err != nil {
		return nil, err
	}
	return newRepo(abs, controlDir), nil
}

// InitBare creates a control directory with no working tree, used for
// submodule stores under .graft/modules/.
func InitBare(controlDir string) (*Repo, error) {
	abs, err := filepath.Abs(controlDir)
	if err != nil {
		return nil, fmt.Errorf("init bare: abs path: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, "HEAD")); err == nil {
		return nil, fmt.Errorf("init bare: repository already exists at %s", abs)
	}
	if err := initControlDir(abs); err != nil {
		return nil, err
	}
	return newRepo("", abs), nil
}

func initControlDir(controlDir string) error {
	for _, d := range []string{
		filepath.Join(controlDir, "objects"),
		filepath.Join(controlDir, "refs", "heads"),
		filepath.Join(controlDir, "hooks"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(controlDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		return fmt.Errorf("init: write HEAD: %w", err)
	}
	return nil
}

// Open searches upward from path for a .graft directory or link file and
// opens the repository it names.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}

	cur := abs
	for {
		if r, ok, err := openAt(cur); err != nil {
			return nil, err
		} else if ok {
			return r, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open: not a graft repository (or any parent up to /)")
		}
		cur = parent
	}
}

// OpenAt opens the repository rooted exactly at root, without searching
// parent directories.
func OpenAt(root string) (*Repo, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}
	r, ok, err := openAt(abs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("open %s: %w", abs, os.ErrNotExist)
	}
	return r, nil
}

func openAt(root string) (*Repo, bool, error) {
	marker := filepath.Join(root, ControlDirName)
	info, err := os.Stat(marker)
	if err != nil {
		return nil, false, nil
	}
	if info.IsDir() {
		return newRepo(root, marker), true, nil
	}
	controlDir, err := readLink(marker)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", root, err)
	}
	return newRepo(root, controlDir), true, nil
}

// OpenBare opens an existing control directory without a working tree.
func OpenBare(controlDir string) (*Repo, error) {
	abs, err := filepath.Abs(controlDir)
	if err != nil {
		return nil, fmt.Errorf("open bare: abs path: %w", err)
	}
	if _, err := os.Stat(filepath.Join(abs, "HEAD")); err != nil {
		return nil, fmt.Errorf("open bare %s: %w", abs, err)
	}
	return newRepo("", abs), nil
}

// IsRepoRoot reports whether dir holds a .graft directory or link file.
func IsRepoRoot(dir string) bool {
	_, err := os.Lstat(filepath.Join(dir, ControlDirName))
	return err == nil
}

// WriteLink binds the working tree at root to controlDir by writing a
// .graft link file.
func WriteLink(root, controlDir string) error {
	abs, err := filepath.Abs(controlDir)
	if err != nil {
		return fmt.Errorf("write link: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("write link: mkdir %s: %w", root, err)
	}
	data := linkPrefix + filepath.ToSlash(abs) + "\n"
	if err := os.WriteFile(filepath.Join(root, ControlDirName), []byte(data), 0o644); err != nil {
		return fmt.Errorf("write link: %w", err)
	}
	return nil
}

func readLink(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read link: %w", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, linkPrefix) {
		return "", fmt.Errorf("read link %s: malformed content %q", path, line)
	}
	target := filepath.FromSlash(strings.TrimSpace(strings.TrimPrefix(line, linkPrefix)))
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return target, nil
}
