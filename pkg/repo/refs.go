package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/metagraft/pkg/object"
)

var ErrRefCASMismatch = errors.New("ref compare-and-swap mismatch")

const (
	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// Head reads HEAD. If the content starts with "ref: ", it returns the ref
// path (e.g., "refs/heads/main"). Otherwise it returns the detached hash.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.ControlDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, "ref: ") {
		return strings.TrimPrefix(content, "ref: "), nil
	}
	return content, nil
}

// HeadCommit returns the commit HEAD points at, or "" for an unborn branch.
func (r *Repo) HeadCommit() (object.Hash, error) {
	h, err := r.ResolveRef("HEAD")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return h, nil
}

// ResolveRef resolves a ref name to an object hash.
//
// Resolution order:
//  1. "HEAD", following a symbolic ref.
//  2. Names starting with "refs/" are read directly.
//  3. Otherwise "refs/heads/<name>".
//
// A missing ref wraps os.ErrNotExist.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	if name == "HEAD" {
		head, err := r.Head()
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(head, "refs/") {
			return r.ResolveRef(head)
		}
		return object.Hash(head), nil
	}

	refPath := filepath.Join(r.ControlDir, "refs", "heads", name)
	if strings.HasPrefix(name, "refs/") {
		refPath = filepath.Join(r.ControlDir, filepath.FromSlash(name))
	}
	h, err := readRefHash(refPath)
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", name, err)
	}
	if h == "" {
		return "", fmt.Errorf("resolve ref %q: %w", name, os.ErrNotExist)
	}
	return h, nil
}

// UpdateRef writes h to the named ref under the control directory using
// lockfile + rename. If expectedOld is provided, the update only succeeds
// when the current value matches it ("" means the ref must not exist).
func (r *Repo) UpdateRef(name string, h object.Hash, expectedOld ...object.Hash) error {
	if len(expectedOld) > 1 {
		return fmt.Errorf("update ref %q: expected at most one old hash", name)
	}

	refPath := filepath.Join(r.ControlDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	committed := false
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if !committed {
			_ = os.Remove(lockPath)
		}
	}()

	if len(expectedOld) == 1 {
		oldHash, err := readRefHash(refPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("update ref %q: read old hash: %w", name, err)
		}
		if oldHash != expectedOld[0] {
			return fmt.Errorf("update ref %q: %w (expected %s, found %s)", name, ErrRefCASMismatch, expectedOld[0], oldHash)
		}
	}

	if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	err = lockFile.Close()
	lockFile = nil
	if err != nil {
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	committed = true
	return nil
}

// SetDetachedHead points HEAD directly at a commit.
func (r *Repo) SetDetachedHead(h object.Hash) error {
	if err := os.WriteFile(filepath.Join(r.ControlDir, "HEAD"), []byte(string(h)+"\n"), 0o644); err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	return nil
}

// SetSymbolicHead points HEAD at a branch ref such as "refs/heads/main".
func (r *Repo) SetSymbolicHead(ref string) error {
	if err := os.WriteFile(filepath.Join(r.ControlDir, "HEAD"), []byte("ref: "+ref+"\n"), 0o644); err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	return nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
		}
		time.Sleep(refLockRetryDelay)
	}
}

// readRefHash returns "" with an os.ErrNotExist-wrapping error when the ref
// file is absent.
func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}
