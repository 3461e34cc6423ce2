package metadiff

import "strings"

// TranslatePaths re-expresses meta-level path filters relative to the
// submodule at subPath. Filters outside the submodule are dropped; a filter
// naming the submodule itself or one of its parents selects everything. skip
// is true when filters were given but none touch the submodule.
func TranslatePaths(subPath string, metaPaths []string) (subPaths []string, skip bool) {
	if len(metaPaths) == 0 {
		return nil, false
	}
	subPath = strings.Trim(subPath, "/")
	matched := false
	for _, p := range metaPaths {
		p = cleanFilter(p)
		switch {
		case p == "" || p == subPath || strings.HasPrefix(subPath, p+"/"):
			return nil, false
		case strings.HasPrefix(p, subPath+"/"):
			matched = true
			subPaths = append(subPaths, strings.TrimPrefix(p, subPath+"/"))
		}
	}
	if !matched {
		return nil, true
	}
	return subPaths, false
}

// matchPaths reports whether p falls under one of the filters. No filters
// match everything.
func matchPaths(p string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		f = cleanFilter(f)
		if f == "" || p == f || strings.HasPrefix(p, f+"/") {
			return true
		}
	}
	return false
}
