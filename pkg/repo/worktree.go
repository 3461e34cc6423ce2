package repo

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/odvcencio/metagraft/pkg/object"
)

// snapshotEntry is one path's state in a tree, the index or the working
// tree.
type snapshotEntry struct {
	Mode     string
	Hash     object.Hash
	Conflict bool
	Workdir  bool // content lives on disk and may not be in the store
}

type snapshot map[string]snapshotEntry

func (r *Repo) treeSnapshot(tree object.Hash, filter pathFilter) (snapshot, error) {
	files, err := r.FlattenTree(tree)
	if err != nil {
		return nil, err
	}
	snap := make(snapshot, len(files))
	for _, f := range files {
		if filter.match(f.Path) {
			snap[f.Path] = snapshotEntry{Mode: f.Mode, Hash: f.Hash}
		}
	}
	return snap, nil
}

func indexSnapshot(stg *Staging, filter pathFilter) snapshot {
	snap := make(snapshot, len(stg.Entries))
	for p, e := range stg.Entries {
		if filter.match(p) {
			snap[p] = snapshotEntry{Mode: e.Mode, Hash: e.Hash, Conflict: e.Conflict}
		}
	}
	return snap
}

// workdirSnapshot returns the working-tree state of every tracked path.
// A submodule pointer's working value is the HEAD of its materialized
// working tree, or the index value when the submodule is not materialized.
func (r *Repo) workdirSnapshot(stg *Staging, filter pathFilter) (snapshot, error) {
	if r.IsBare() {
		return nil, ErrBareRepository
	}
	snap := make(snapshot, len(stg.Entries))
	for p, e := range stg.Entries {
		if !filter.match(p) {
			continue
		}
		abs := filepath.Join(r.RootDir, filepath.FromSlash(p))

		if e.Mode == object.TreeModeSubmodule {
			entry := snapshotEntry{Mode: e.Mode, Hash: e.Hash}
			if IsRepoRoot(abs) {
				sub, err := OpenAt(abs)
				if err != nil {
					return nil, fmt.Errorf("workdir: submodule %q: %w", p, err)
				}
				head, err := sub.HeadCommit()
				if err != nil {
					return nil, fmt.Errorf("workdir: submodule %q: %w", p, err)
				}
				if head != "" {
					entry.Hash = head
				}
			}
			snap[p] = entry
			continue
		}

		info, err := os.Lstat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				if e.Conflict {
					snap[p] = snapshotEntry{Mode: e.Mode, Hash: e.Hash, Conflict: true}
				}
				continue
			}
			return nil, fmt.Errorf("workdir: stat %q: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		mode := modeFromFileInfo(info)
		h := e.Hash
		if !statMatches(e, info, mode) {
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("workdir: read %q: %w", p, err)
			}
			h = object.HashObject(object.TypeBlob, content)
		}
		snap[p] = snapshotEntry{Mode: mode, Hash: h, Conflict: e.Conflict, Workdir: true}
	}
	return snap, nil
}

// statMatches trusts size and mtime only for files last modified outside
// the filesystem's timestamp granularity window; recent files are hashed.
func statMatches(e *StagingEntry, info os.FileInfo, mode string) bool {
	if time.Since(info.ModTime()) < racyWindow {
		return false
	}
	return e.Size == info.Size() && e.ModTime == info.ModTime().UnixNano() && e.Mode == mode
}

const racyWindow = 2 * time.Second

// untrackedFiles lists non-ignored regular files that are not in the index,
// skipping nested repositories.
func (r *Repo) untrackedFiles(stg *Staging, filter pathFilter) ([]string, error) {
	if r.IsBare() {
		return nil, ErrBareRepository
	}
	ic := NewIgnoreChecker(r.RootDir)
	var out []string
	err := filepath.WalkDir(r.RootDir, func(path string, d fs.DirEntry, walkErr error) error {
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
			if IsRepoRoot(path) || !filter.mayContain(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, tracked := stg.Entries[rel]; !tracked && filter.match(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk working tree: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// collapseUntracked replaces untracked files with their top-most directory
// that contains no tracked path, rendered with a trailing slash.
func collapseUntracked(untracked []string, stg *Staging) []string {
	trackedDirs := make(map[string]bool)
	for p := range stg.Entries {
		for dir := filepath.ToSlash(filepath.Dir(p)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
			trackedDirs[dir] = true
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, p := range untracked {
		collapsed := p
		var chain []string
		for dir := filepath.ToSlash(filepath.Dir(p)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
			chain = append(chain, dir)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			if !trackedDirs[chain[i]] {
				collapsed = chain[i] + "/"
				break
			}
		}
		if !seen[collapsed] {
			seen[collapsed] = true
			out = append(out, collapsed)
		}
	}
	sort.Strings(out)
	return out
}

// CheckoutDetached materializes commit into the working tree, replaces the
// index with the commit's tree and detaches HEAD at it. Files tracked by
// the previous index but absent from the commit are removed. Submodule
// pointers become empty directories.
func (r *Repo) CheckoutDetached(commit object.Hash) error {
	if r.IsBare() {
		return fmt.Errorf("checkout: %w", ErrBareRepository)
	}
	tree, err := r.CommitTree(commit)
	if err != nil {
		return fmt.Errorf("checkout: read commit %s: %w", commit, err)
	}
	files, err := r.FlattenTree(tree)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	old, err := r.ReadStaging()
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	target := make(map[string]bool, len(files))
	for _, f := range files {
		target[f.Path] = true
	}
	for p, e := range old.Entries {
		if target[p] || e.Mode == object.TreeModeSubmodule {
			continue
		}
		abs := filepath.Join(r.RootDir, filepath.FromSlash(p))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("checkout: remove %q: %w", p, err)
		}
		r.removeEmptyParents(filepath.Dir(abs))
	}

	stg := &Staging{Entries: make(map[string]*StagingEntry, len(files))}
	for _, f := range files {
		abs := filepath.Join(r.RootDir, filepath.FromSlash(f.Path))
		if f.IsSubmodule() {
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("checkout: mkdir %q: %w", f.Path, err)
			}
			stg.Entries[f.Path] = &StagingEntry{Path: f.Path, Hash: f.Hash, Mode: f.Mode}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("checkout: mkdir for %q: %w", f.Path, err)
		}
		blob, err := r.Store.ReadBlob(f.Hash)
		if err != nil {
			return fmt.Errorf("checkout: read blob for %q: %w", f.Path, err)
		}
		if err := os.WriteFile(abs, blob.Data, filePermFromMode(f.Mode)); err != nil {
			return fmt.Errorf("checkout: write %q: %w", f.Path, err)
		}
		if err := os.Chmod(abs, filePermFromMode(f.Mode)); err != nil {
			return fmt.Errorf("checkout: chmod %q: %w", f.Path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("checkout: stat %q: %w", f.Path, err)
		}
		stg.Entries[f.Path] = &StagingEntry{
			Path:    f.Path,
			Hash:    f.Hash,
			Mode:    modeFromFileInfo(info),
			ModTime: info.ModTime().UnixNano(),
			Size:    info.Size(),
		}
	}
	if err := r.WriteStaging(stg); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	return r.SetDetachedHead(commit)
}

// removeEmptyParents removes empty directories up to (but not including)
// the repository root.
func (r *Repo) removeEmptyParents(dir string) {
	for dir != r.RootDir && len(dir) > len(r.RootDir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		os.Remove(dir)
		dir = filepath.Dir(dir)
	}
}
