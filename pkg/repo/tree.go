package repo

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/metagraft/pkg/object"
)

// TreeFileEntry is a single leaf (file or submodule pointer) in a
// flattened tree.
type TreeFileEntry struct {
	Path string
	Mode string
	Hash object.Hash
}

// IsSubmodule reports whether the entry is a submodule pointer.
func (e TreeFileEntry) IsSubmodule() bool { return e.Mode == object.TreeModeSubmodule }

// BuildTree converts the staging entries into a hierarchical tree, writing
// tree objects to the store and returning the root hash. Conflicted entries
// cannot be committed.
func (r *Repo) BuildTree(s *Staging) (object.Hash, error) {
	files := make([]TreeFileEntry, 0, len(s.Entries))
	for p, e := range s.Entries {
		if e.Conflict {
			return "", fmt.Errorf("build tree: %q has unresolved conflicts", p)
		}
		files = append(files, TreeFileEntry{Path: p, Mode: e.Mode, Hash: e.Hash})
	}
	return r.BuildTreeFromFiles(files)
}

// BuildTreeFromFiles writes the tree described by a flat list of leaves.
func (r *Repo) BuildTreeFromFiles(files []TreeFileEntry) (object.Hash, error) {
	byPath := make(map[string]TreeFileEntry, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	return r.buildTreeDir(byPath, "")
}

func (r *Repo) buildTreeDir(files map[string]TreeFileEntry, prefix string) (object.Hash, error) {
	leaves := make(map[string]TreeFileEntry)
	subdirs := make(map[string]struct{})

	for p, f := range files {
		rel := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}
		if slash := strings.IndexByte(rel, '/'); slash >= 0 {
			subdirs[rel[:slash]] = struct{}{}
		} else {
			leaves[rel] = f
		}
	}

	names := make([]string, 0, len(leaves)+len(subdirs))
	for name := range leaves {
		names = append(names, name)
	}
	for name := range subdirs {
		if _, isLeaf := leaves[name]; isLeaf {
			return "", fmt.Errorf("build tree: %q is both a file and a directory", path.Join(prefix, name))
		}
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]object.TreeEntry, 0, len(names))
	for _, name := range names {
		if f, ok := leaves[name]; ok {
			mode := f.Mode
			if mode == "" {
				mode = object.TreeModeFile
			}
			entries = append(entries, object.TreeEntry{Name: name, Mode: mode, Hash: f.Hash})
			continue
		}
		childPrefix := path.Join(prefix, name)
		subHash, err := r.buildTreeDir(files, childPrefix)
		if err != nil {
			return "", err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: object.TreeModeDir, Hash: subHash})
	}

	h, err := r.Store.WriteTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

// EmptyTree writes and returns the hash of the tree with no entries.
func (r *Repo) EmptyTree() (object.Hash, error) {
	return r.Store.WriteTree(&object.TreeObj{})
}

// FlattenTree walks a tree recursively, returning every file and submodule
// pointer with its full slash-separated path. Submodule pointers are leaves;
// their commits live in another store. An empty hash is the empty tree.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	if h == "" {
		return nil, nil
	}
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := path.Join(prefix, entry.Name)
		if entry.IsDir() {
			sub, err := r.flattenTreeRec(entry.Hash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
			continue
		}
		result = append(result, TreeFileEntry{Path: fullPath, Mode: entry.Mode, Hash: entry.Hash})
	}
	return result, nil
}

// TreeEntryAtPath returns the leaf entry at relPath within tree treeHash.
func (r *Repo) TreeEntryAtPath(treeHash object.Hash, relPath string) (object.TreeEntry, bool, error) {
	if treeHash == "" {
		return object.TreeEntry{}, false, nil
	}
	parts := strings.Split(strings.Trim(relPath, "/"), "/")
	current := treeHash

	for i, part := range parts {
		treeObj, err := r.Store.ReadTree(current)
		if err != nil {
			return object.TreeEntry{}, false, fmt.Errorf("read tree %s: %w", current, err)
		}
		idx := sort.Search(len(treeObj.Entries), func(j int) bool { return treeObj.Entries[j].Name >= part })
		if idx == len(treeObj.Entries) || treeObj.Entries[idx].Name != part {
			return object.TreeEntry{}, false, nil
		}
		entry := treeObj.Entries[idx]
		if i == len(parts)-1 {
			if entry.IsDir() {
				return object.TreeEntry{}, false, nil
			}
			return entry, true, nil
		}
		if !entry.IsDir() {
			return object.TreeEntry{}, false, nil
		}
		current = entry.Hash
	}
	return object.TreeEntry{}, false, nil
}

// ReadFileAt returns the blob content at relPath in treeHash.
func (r *Repo) ReadFileAt(treeHash object.Hash, relPath string) ([]byte, bool, error) {
	entry, ok, err := r.TreeEntryAtPath(treeHash, relPath)
	if err != nil || !ok || entry.IsSubmodule() {
		return nil, false, err
	}
	blob, err := r.Store.ReadBlob(entry.Hash)
	if err != nil {
		return nil, false, err
	}
	return blob.Data, true, nil
}
