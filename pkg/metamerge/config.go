package metamerge

import (
	"sort"

	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/submodule"
)

// mergeConfigs merges submodule records per name with the same rules as
// tree entries: a record changed on one side wins, identical changes agree,
// and different changes to one name conflict.
func mergeConfigs(base, ours, theirs *submodule.Config) (*submodule.Config, error) {
	out := submodule.NewConfig()
	names := make(map[string]struct{})
	for _, c := range []*submodule.Config{base, ours, theirs} {
		for name := range c.Records {
			names[name] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		b, o, t := base.Records[name], ours.Records[name], theirs.Records[name]
		var pick *submodule.Record
		switch {
		case sameRecord(o, t), sameRecord(t, b):
			pick = o
		case sameRecord(o, b):
			pick = t
		default:
			return nil, &errdefs.ConflictError{
				Submodule: name,
				Reason:    "configuration changed differently on both sides",
				Paths:     []string{submodule.ConfigPath},
			}
		}
		if pick != nil {
			cp := *pick
			out.Records[name] = &cp
		}
	}
	return out, nil
}

func sameRecord(a, b *submodule.Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameConfig(a, b *submodule.Config) bool {
	if len(a.Records) != len(b.Records) {
		return false
	}
	for name, rec := range a.Records {
		if !sameRecord(rec, b.Records[name]) {
			return false
		}
	}
	return true
}
