package metamerge

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/odvcencio/metagraft/pkg/diff3"
	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// plan is a three-way tree merge computed without writing objects. Pointers
// listed in subMerges hold ours until mergeSubmodules replaces them.
type plan struct {
	entries   map[string]repo.TreeFileEntry
	contents  map[string][]byte
	config    *submodule.Config
	subMerges []subMerge
}

type subMerge struct {
	name   string
	path   string
	ours   object.Hash
	theirs object.Hash
}

// side is one input tree of a three-way merge.
type side struct {
	files  map[string]repo.TreeFileEntry
	config *submodule.Config
}

func loadSide(r *repo.Repo, commit object.Hash) (side, error) {
	var tree object.Hash
	if commit != "" {
		t, err := r.CommitTree(commit)
		if err != nil {
			return side{}, fmt.Errorf("merge: %w", err)
		}
		tree = t
	}
	files, err := r.FlattenTree(tree)
	if err != nil {
		return side{}, fmt.Errorf("merge: flatten %s: %w", commit.Short(), err)
	}
	cfg, err := submodule.ReadConfigAt(r, tree)
	if err != nil {
		return side{}, fmt.Errorf("merge: %w", err)
	}
	s := side{files: make(map[string]repo.TreeFileEntry, len(files)), config: cfg}
	for _, f := range files {
		s.files[f.Path] = f
	}
	return s, nil
}

func (s side) nameFor(p string) (string, bool) {
	if rec, ok := s.config.ByPath(p); ok {
		return rec.Name, true
	}
	return "", false
}

// plan merges the trees of ours and theirs against base. base may be empty
// for unrelated histories. Content conflicts are collected across all files
// and reported together; submodule conflicts abort at the first one in path
// order.
func (m *merger) plan(r *repo.Repo, base, ours, theirs object.Hash) (*plan, error) {
	b, err := loadSide(r, base)
	if err != nil {
		return nil, err
	}
	o, err := loadSide(r, ours)
	if err != nil {
		return nil, err
	}
	t, err := loadSide(r, theirs)
	if err != nil {
		return nil, err
	}

	cfg, err := mergeConfigs(b.config, o.config, t.config)
	if err != nil {
		return nil, err
	}
	p := &plan{
		entries:  make(map[string]repo.TreeFileEntry),
		contents: make(map[string][]byte),
		config:   cfg,
	}

	var conflicts []string
	for _, path := range unionPaths(b.files, o.files, t.files) {
		if path == submodule.ConfigPath {
			continue
		}
		be, inB := b.files[path]
		oe, inO := o.files[path]
		te, inT := t.files[path]

		switch {
		case sameEntry(oe, inO, te, inT):
			if inO {
				p.entries[path] = oe
			}
			continue
		case sameEntry(oe, inO, be, inB):
			if inT {
				p.entries[path] = te
			}
			continue
		case sameEntry(te, inT, be, inB):
			if inO {
				p.entries[path] = oe
			}
			continue
		}

		if oe.IsSubmodule() || te.IsSubmodule() || be.IsSubmodule() {
			name := pointerName(path, cfg, o, t, b)
			switch {
			case inO && inT && oe.IsSubmodule() && te.IsSubmodule():
				p.entries[path] = oe
				p.subMerges = append(p.subMerges, subMerge{name: name, path: path, ours: oe.Hash, theirs: te.Hash})
			case !inO || !inT:
				return nil, &errdefs.ConflictError{
					Submodule: name,
					Reason:    "deleted on one side and modified on the other",
					Paths:     []string{path},
				}
			default:
				return nil, &errdefs.ConflictError{
					Submodule: name,
					Reason:    "replaced by a regular file on one side",
					Paths:     []string{path},
				}
			}
			continue
		}

		if !inO || !inT {
			conflicts = append(conflicts, path)
			continue
		}
		merged, ok, err := mergeFile(r, be, inB, oe, te)
		if err != nil {
			return nil, fmt.Errorf("merge file %q: %w", path, err)
		}
		if !ok {
			conflicts = append(conflicts, path)
			continue
		}
		mode := oe.Mode
		if inB && oe.Mode == be.Mode {
			mode = te.Mode
		}
		p.entries[path] = repo.TreeFileEntry{Path: path, Mode: mode}
		p.contents[path] = merged
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, &errdefs.ConflictError{Paths: conflicts}
	}

	pointers := make(map[string]object.Hash)
	for path, e := range p.entries {
		if e.IsSubmodule() {
			pointers[path] = e.Hash
		}
	}
	if err := cfg.Check(pointers); err != nil {
		return nil, err
	}
	if err := p.placeConfig(o, t); err != nil {
		return nil, err
	}
	return p, nil
}

// placeConfig reuses an input's configuration file when the merged records
// match it, so unchanged files keep their bytes.
func (p *plan) placeConfig(o, t side) error {
	for _, s := range []side{o, t} {
		if e, ok := s.files[submodule.ConfigPath]; ok && sameConfig(p.config, s.config) {
			p.entries[submodule.ConfigPath] = e
			return nil
		}
	}
	_, inO := o.files[submodule.ConfigPath]
	_, inT := t.files[submodule.ConfigPath]
	if len(p.config.Records) == 0 && !(inO && inT) {
		return nil
	}
	data, err := p.config.Encode()
	if err != nil {
		return err
	}
	p.entries[submodule.ConfigPath] = repo.TreeFileEntry{Path: submodule.ConfigPath, Mode: object.TreeModeFile}
	p.contents[submodule.ConfigPath] = data
	return nil
}

func (p *plan) setPointer(path string, commit object.Hash) {
	p.entries[path] = repo.TreeFileEntry{Path: path, Mode: object.TreeModeSubmodule, Hash: commit}
}

// write stores merged blobs and the composed tree.
func (p *plan) write(r *repo.Repo) (object.Hash, error) {
	paths := make([]string, 0, len(p.entries))
	for path := range p.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	files := make([]repo.TreeFileEntry, 0, len(paths))
	for _, path := range paths {
		e := p.entries[path]
		if data, ok := p.contents[path]; ok {
			h, err := r.Store.WriteBlob(&object.Blob{Data: data})
			if err != nil {
				return "", fmt.Errorf("merge: write %q: %w", path, err)
			}
			e.Hash = h
		}
		files = append(files, e)
	}
	tree, err := r.BuildTreeFromFiles(files)
	if err != nil {
		return "", fmt.Errorf("merge: build tree: %w", err)
	}
	return tree, nil
}

// mergeFile runs a line-based three-way merge. ok is false on conflict or
// when either side is binary and the sides differ.
func mergeFile(r *repo.Repo, be repo.TreeFileEntry, inB bool, oe, te repo.TreeFileEntry) ([]byte, bool, error) {
	var base []byte
	if inB && !be.IsSubmodule() {
		blob, err := r.Store.ReadBlob(be.Hash)
		if err != nil {
			return nil, false, err
		}
		base = blob.Data
	}
	ours, err := r.Store.ReadBlob(oe.Hash)
	if err != nil {
		return nil, false, err
	}
	theirs, err := r.Store.ReadBlob(te.Hash)
	if err != nil {
		return nil, false, err
	}
	if bytes.Equal(ours.Data, theirs.Data) {
		return ours.Data, true, nil
	}
	if bytes.IndexByte(ours.Data, 0) >= 0 || bytes.IndexByte(theirs.Data, 0) >= 0 {
		return nil, false, nil
	}
	res := diff3.Merge(base, ours.Data, theirs.Data, diff3.Labels{})
	if res.HasConflicts {
		return nil, false, nil
	}
	return res.Merged, true, nil
}

func sameEntry(a repo.TreeFileEntry, inA bool, b repo.TreeFileEntry, inB bool) bool {
	if inA != inB {
		return false
	}
	return !inA || (a.Mode == b.Mode && a.Hash == b.Hash)
}

// pointerName finds the submodule name for a pointer path, preferring the
// merged configuration.
func pointerName(path string, merged *submodule.Config, sides ...side) string {
	if rec, ok := merged.ByPath(path); ok {
		return rec.Name
	}
	for _, s := range sides {
		if name, ok := s.nameFor(path); ok {
			return name
		}
	}
	return path
}

func unionPaths(maps ...map[string]repo.TreeFileEntry) []string {
	seen := make(map[string]struct{})
	for _, m := range maps {
		for p := range m {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
