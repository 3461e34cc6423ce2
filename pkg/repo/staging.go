package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/metagraft/pkg/object"
)

// StagingEntry records the staged state of a single path. For a submodule
// pointer, Mode is object.TreeModeSubmodule and Hash is the recorded commit.
type StagingEntry struct {
	Path     string      `json:"path"`
	Hash     object.Hash `json:"hash"`
	Mode     string      `json:"mode"`
	Conflict bool        `json:"conflict,omitempty"`
	ModTime  int64       `json:"mod_time"`
	Size     int64       `json:"size"`
}

// Staging holds the full staging area (index).
type Staging struct {
	Entries map[string]*StagingEntry `json:"entries"`
}

func (r *Repo) indexPath() string {
	return filepath.Join(r.ControlDir, "index")
}

// ReadStaging loads the staging area. A missing index is empty.
func (r *Repo) ReadStaging() (*Staging, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Staging{Entries: make(map[string]*StagingEntry)}, nil
		}
		return nil, fmt.Errorf("read staging: %w", err)
	}

	var stg Staging
	if err := json.Unmarshal(data, &stg); err != nil {
		return nil, fmt.Errorf("read staging: unmarshal: %w", err)
	}
	if stg.Entries == nil {
		stg.Entries = make(map[string]*StagingEntry)
	}
	return &stg, nil
}

// WriteStaging atomically writes the staging area.
func (r *Repo) WriteStaging(s *Staging) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("write staging: marshal: %w", err)
	}
	return writeFileAtomic(r.ControlDir, r.indexPath(), data)
}

func writeFileAtomic(dir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: tmpfile: %w", filepath.Base(dest), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: close: %w", filepath.Base(dest), err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: rename: %w", filepath.Base(dest), err)
	}
	return nil
}

// Add stages the given paths. A regular file is written as a blob. A
// directory that is the root of a linked submodule working tree is staged as
// a pointer to that submodule's HEAD commit. Other directories are walked.
// A path that no longer exists on disk is removed from the index.
func (r *Repo) Add(paths []string) error {
	if r.IsBare() {
		return fmt.Errorf("add: %w", ErrBareRepository)
	}
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	ic := NewIgnoreChecker(r.RootDir)

	for _, p := range paths {
		relPath, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("add: resolve path %q: %w", p, err)
		}
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(relPath))
		info, err := os.Stat(absPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("add: stat %q: %w", relPath, err)
			}
			removed := removeUnder(stg, relPath)
			if removed == 0 {
				return fmt.Errorf("add: pathspec %q did not match any files", relPath)
			}
			continue
		}

		if !info.IsDir() {
			if err := r.stageFile(stg, relPath, info); err != nil {
				return fmt.Errorf("add: %w", err)
			}
			continue
		}
		if relPath != "." && IsRepoRoot(absPath) {
			if err := r.stageSubmodule(stg, relPath, absPath); err != nil {
				return fmt.Errorf("add: %w", err)
			}
			continue
		}
		if err := r.stageDir(stg, ic, relPath); err != nil {
			return fmt.Errorf("add: %w", err)
		}
	}

	if err := r.WriteStaging(stg); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

func (r *Repo) stageFile(stg *Staging, relPath string, info os.FileInfo) error {
	content, err := os.ReadFile(filepath.Join(r.RootDir, filepath.FromSlash(relPath)))
	if err != nil {
		return fmt.Errorf("read %q: %w", relPath, err)
	}
	h, err := r.Store.WriteBlob(&object.Blob{Data: content})
	if err != nil {
		return fmt.Errorf("write blob %q: %w", relPath, err)
	}
	stg.Entries[relPath] = &StagingEntry{
		Path:    relPath,
		Hash:    h,
		Mode:    modeFromFileInfo(info),
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}
	return nil
}

func (r *Repo) stageSubmodule(stg *Staging, relPath, absPath string) error {
	sub, err := OpenAt(absPath)
	if err != nil {
		return fmt.Errorf("open submodule %q: %w", relPath, err)
	}
	head, err := sub.HeadCommit()
	if err != nil {
		return fmt.Errorf("submodule %q HEAD: %w", relPath, err)
	}
	if head == "" {
		return fmt.Errorf("submodule %q has no commits", relPath)
	}
	stg.Entries[relPath] = &StagingEntry{Path: relPath, Hash: head, Mode: object.TreeModeSubmodule}
	return nil
}

func (r *Repo) stageDir(stg *Staging, ic *IgnoreChecker, relDir string) error {
	root := filepath.Join(r.RootDir, filepath.FromSlash(relDir))
	seen := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(r.RootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if ic.IsIgnored(rel, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if IsRepoRoot(path) {
				// Nested repositories are only staged when named explicitly.
				if e, ok := stg.Entries[rel]; ok && e.Mode == object.TreeModeSubmodule {
					seen[rel] = true
					if err := r.stageSubmodule(stg, rel, path); err != nil {
						return err
					}
				}
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		seen[rel] = true
		return r.stageFile(stg, rel, info)
	})
	if err != nil {
		return fmt.Errorf("walk %q: %w", relDir, err)
	}
	for p, e := range stg.Entries {
		if underPath(p, relDir) && !seen[p] && e.Mode != object.TreeModeSubmodule {
			delete(stg.Entries, p)
		}
	}
	return nil
}

// Remove unstages paths (and everything below them).
func (r *Repo) Remove(paths []string) error {
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	for _, p := range paths {
		relPath, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("remove: resolve path %q: %w", p, err)
		}
		if removeUnder(stg, relPath) == 0 {
			return fmt.Errorf("remove: pathspec %q did not match any files", relPath)
		}
	}
	return r.WriteStaging(stg)
}

// StageEntry records an entry directly, bypassing the working tree.
func (r *Repo) StageEntry(e StagingEntry) error {
	stg, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("stage entry: %w", err)
	}
	entry := e
	stg.Entries[e.Path] = &entry
	return r.WriteStaging(stg)
}

func removeUnder(stg *Staging, relPath string) int {
	n := 0
	for p := range stg.Entries {
		if underPath(p, relPath) {
			delete(stg.Entries, p)
			n++
		}
	}
	return n
}

// underPath reports whether p equals prefix or lies below it. An empty or
// "." prefix matches everything.
func underPath(p, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" || prefix == "." {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// repoRelPath converts a path (absolute, or relative to CWD) into a path
// relative to the repository root. Paths outside the repository are assumed
// to already be repo-relative.
func (r *Repo) repoRelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return "", fmt.Errorf("cannot make %q relative to %q: %w", p, r.RootDir, err)
		}
		return filepath.ToSlash(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	rel, err := filepath.Rel(r.RootDir, filepath.Join(cwd, p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	return filepath.ToSlash(rel), nil
}
