package repo

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/odvcencio/metagraft/pkg/object"
)

// ErrUnknownRevision is wrapped by resolution failures for names that do not
// identify any object.
var ErrUnknownRevision = errors.New("unknown revision")

// ResolveCommitish resolves name to a commit hash. Accepted forms are HEAD,
// branch names, refs/..., full or abbreviated (at least 4 hex characters)
// hashes, each optionally followed by ~N, ^ or ^N suffixes.
func (r *Repo) ResolveCommitish(name string) (object.Hash, error) {
	h, err := r.resolveRevision(name)
	if err != nil {
		return "", err
	}
	t, err := r.Store.TypeOf(h)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	if t != object.TypeCommit {
		return "", fmt.Errorf("resolve %q: %s is a %s, not a commit: %w", name, h.Short(), t, ErrUnknownRevision)
	}
	return h, nil
}

// ResolveTreeish resolves name to a tree hash. Commits resolve to their
// root tree; tree ids resolve to themselves.
func (r *Repo) ResolveTreeish(name string) (object.Hash, error) {
	h, err := r.resolveRevision(name)
	if err != nil {
		return "", err
	}
	t, data, err := r.Store.Read(h)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	switch t {
	case object.TypeTree:
		return h, nil
	case object.TypeCommit:
		c, err := object.UnmarshalCommit(data)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", name, err)
		}
		return c.TreeHash, nil
	default:
		return "", fmt.Errorf("resolve %q: %s is a %s: %w", name, h.Short(), t, ErrUnknownRevision)
	}
}

func (r *Repo) resolveRevision(name string) (object.Hash, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("resolve %q: %w", name, ErrUnknownRevision)
	}
	baseName, suffix := splitRevisionSuffix(name)
	h, err := r.resolveBaseRevision(baseName)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}

	for suffix != "" {
		op := suffix[0]
		suffix = suffix[1:]
		n := 1
		digits := 0
		for digits < len(suffix) && suffix[digits] >= '0' && suffix[digits] <= '9' {
			digits++
		}
		if digits > 0 {
			n, _ = strconv.Atoi(suffix[:digits])
			suffix = suffix[digits:]
		}
		switch op {
		case '~':
			for i := 0; i < n; i++ {
				if h, err = r.nthParent(h, 1); err != nil {
					return "", fmt.Errorf("resolve %q: %w", name, err)
				}
			}
		case '^':
			if n == 0 {
				continue
			}
			if h, err = r.nthParent(h, n); err != nil {
				return "", fmt.Errorf("resolve %q: %w", name, err)
			}
		}
	}
	return h, nil
}

func (r *Repo) nthParent(h object.Hash, n int) (object.Hash, error) {
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(c.Parents) {
		return "", fmt.Errorf("%s has no parent %d: %w", h.Short(), n, ErrUnknownRevision)
	}
	return c.Parents[n-1], nil
}

// splitRevisionSuffix separates "main~2^" into "main" and "~2^".
func splitRevisionSuffix(name string) (string, string) {
	idx := strings.IndexAny(name, "~^")
	if idx <= 0 {
		return name, ""
	}
	suffix := name[idx:]
	for i := 0; i < len(suffix); i++ {
		c := suffix[i]
		if c != '~' && c != '^' && (c < '0' || c > '9') {
			return name, ""
		}
	}
	return name[:idx], suffix
}

func (r *Repo) resolveBaseRevision(name string) (object.Hash, error) {
	if name == "HEAD" || strings.HasPrefix(name, "refs/") {
		h, err := r.ResolveRef(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", ErrUnknownRevision
			}
			return "", err
		}
		return h, nil
	}
	if !validRefName(name) {
		return "", ErrUnknownRevision
	}
	for _, ref := range []string{"refs/heads/" + name, "refs/tags/" + name} {
		if h, err := r.ResolveRef(ref); err == nil {
			return h, nil
		}
	}
	if len(name) >= 4 {
		h, err := r.Store.FindByPrefix(name)
		if err == nil {
			return h, nil
		}
		if errors.Is(err, object.ErrAmbiguousPrefix) {
			return "", err
		}
	}
	return "", ErrUnknownRevision
}

func validRefName(name string) bool {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "-") || strings.HasSuffix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." || strings.HasSuffix(part, ".lock") {
			return false
		}
	}
	return !strings.ContainsAny(name, " \t\\:?*[")
}
