package metadiff

import (
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// ChangeKind classifies a submodule pointer change.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Removed
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// SubmoduleChange is one submodule whose recorded pointer differs between
// the two sides of a diff. Old is empty for Added, New for Removed. OldPath
// differs from Path only for a moved submodule.
type SubmoduleChange struct {
	Name    string
	Path    string
	OldPath string
	Kind    ChangeKind
	Old     object.Hash
	New     object.Hash
}

// SubmoduleChanges extracts pointer changes from d in the order the deltas
// appear, which is path order. Names come from the configuration of the
// side the pointer lives on; a pointer without a record is reported under
// its path. With includeRenames, a removal and an addition of the same name
// collapse into one Modified change at the new path.
func SubmoduleChanges(d *repo.Diff, oldCfg, newCfg *submodule.Config, includeRenames bool) []SubmoduleChange {
	var out []SubmoduleChange
	for _, delta := range d.Deltas {
		if !delta.IsSubmodule() {
			continue
		}
		oldPtr := delta.Old.Mode == object.TreeModeSubmodule
		newPtr := delta.New.Mode == object.TreeModeSubmodule
		c := SubmoduleChange{}
		switch {
		case oldPtr && newPtr:
			c.Kind = Modified
			c.Path, c.OldPath = delta.New.Path, delta.Old.Path
			c.Old, c.New = delta.Old.Hash, delta.New.Hash
			c.Name = nameFor(newCfg, c.Path)
		case newPtr:
			c.Kind = Added
			c.Path, c.New = delta.New.Path, delta.New.Hash
			c.Name = nameFor(newCfg, c.Path)
		default:
			c.Kind = Removed
			c.Path, c.Old = delta.Old.Path, delta.Old.Hash
			c.Name = nameFor(oldCfg, c.Path)
		}
		if c.OldPath == "" {
			c.OldPath = c.Path
		}
		out = append(out, c)
	}
	if includeRenames {
		out = pairMoves(out)
	}
	return out
}

func nameFor(cfg *submodule.Config, p string) string {
	if cfg != nil {
		if rec, ok := cfg.ByPath(p); ok {
			return rec.Name
		}
	}
	return p
}

// pairMoves folds a Removed and an Added change with the same name into a
// single change reported at the addition's position.
func pairMoves(changes []SubmoduleChange) []SubmoduleChange {
	removed := make(map[string]int)
	for i, c := range changes {
		if c.Kind == Removed {
			removed[c.Name] = i
		}
	}
	drop := make(map[int]bool)
	for i, c := range changes {
		if c.Kind != Added {
			continue
		}
		j, ok := removed[c.Name]
		if !ok || drop[j] {
			continue
		}
		drop[j] = true
		changes[i] = SubmoduleChange{
			Name:    c.Name,
			Path:    c.Path,
			OldPath: changes[j].Path,
			Kind:    Modified,
			Old:     changes[j].Old,
			New:     c.New,
		}
	}
	out := changes[:0]
	for i, c := range changes {
		if !drop[i] {
			out = append(out, c)
		}
	}
	return out
}
