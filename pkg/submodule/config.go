package submodule

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	gitconfig "github.com/go-git/go-git/v5/config"
	format "github.com/go-git/go-git/v5/plumbing/format/config"

	"github.com/odvcencio/metagraft/pkg/errdefs"
	"github.com/odvcencio/metagraft/pkg/object"
	"github.com/odvcencio/metagraft/pkg/repo"
)

// ConfigPath is the tracked file holding one record per submodule.
const ConfigPath = ".gitmodules"

// Record is one submodule's configuration.
type Record struct {
	Name   string
	Path   string
	URL    string
	Branch string
}

// Config maps submodule names to their records.
type Config struct {
	Records map[string]*Record
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{Records: make(map[string]*Record)}
}

// ParseConfig decodes .gitmodules content. Records with an unsafe path are
// rejected.
func ParseConfig(data []byte) (*Config, error) {
	mods := gitconfig.NewModules()
	if err := mods.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigPath, err)
	}
	cfg := NewConfig()
	for name, m := range mods.Submodules {
		if m.Path == "" {
			return nil, fmt.Errorf("parse %s: submodule %q: %w", ConfigPath, name, gitconfig.ErrModuleEmptyPath)
		}
		cfg.Records[name] = &Record{
			Name:   name,
			Path:   cleanPath(m.Path),
			URL:    m.URL,
			Branch: m.Branch,
		}
	}
	return cfg, nil
}

// Encode renders the configuration with records sorted by name so equal
// configurations always produce the same blob.
func (c *Config) Encode() ([]byte, error) {
	raw := format.New()
	for _, name := range c.Names() {
		rec := c.Records[name]
		sub := raw.Section("submodule").Subsection(name)
		sub.SetOption("path", rec.Path)
		if rec.URL != "" {
			sub.SetOption("url", rec.URL)
		}
		if rec.Branch != "" {
			sub.SetOption("branch", rec.Branch)
		}
	}
	var buf bytes.Buffer
	if err := format.NewEncoder(&buf).Encode(raw); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ConfigPath, err)
	}
	return buf.Bytes(), nil
}

// Names returns the record names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Records))
	for name := range c.Records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByPath finds the record whose path is p.
func (c *Config) ByPath(p string) (*Record, bool) {
	p = cleanPath(p)
	for _, rec := range c.Records {
		if rec.Path == p {
			return rec, true
		}
	}
	return nil, false
}

// Set adds or replaces a record after validating it.
func (c *Config) Set(rec Record) error {
	m := &gitconfig.Submodule{Name: rec.Name, Path: rec.Path, URL: rec.URL, Branch: rec.Branch}
	if err := m.Validate(); err != nil {
		return errdefs.Userf("submodule %q: %v", rec.Name, err)
	}
	if err := validName(rec.Name); err != nil {
		return err
	}
	rec.Path = cleanPath(rec.Path)
	c.Records[rec.Name] = &rec
	return nil
}

// Delete removes the named record.
func (c *Config) Delete(name string) {
	delete(c.Records, name)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := NewConfig()
	for name, rec := range c.Records {
		cp := *rec
		out.Records[name] = &cp
	}
	return out
}

// ReadConfigAt reads the configuration recorded in tree. A tree without a
// configuration file has no submodules.
func ReadConfigAt(r *repo.Repo, tree object.Hash) (*Config, error) {
	data, ok, err := r.ReadFileAt(tree, ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("read %s at %s: %w", ConfigPath, tree.Short(), err)
	}
	if !ok {
		return NewConfig(), nil
	}
	return ParseConfig(data)
}

// ReadWorktreeConfig reads the configuration file from the working tree.
func ReadWorktreeConfig(r *repo.Repo) (*Config, error) {
	root, err := r.Workdir()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ConfigPath, err)
	}
	data, err := os.ReadFile(filepath.Join(root, ConfigPath))
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("read %s: %w", ConfigPath, err)
	}
	return ParseConfig(data)
}

// WriteWorktreeConfig writes cfg to the working tree. It does not stage it.
func WriteWorktreeConfig(r *repo.Repo, cfg *Config) error {
	root, err := r.Workdir()
	if err != nil {
		return fmt.Errorf("write %s: %w", ConfigPath, err)
	}
	data, err := cfg.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(root, ConfigPath), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ConfigPath, err)
	}
	return nil
}

// Pointers returns every submodule pointer in tree, keyed by path.
func Pointers(r *repo.Repo, tree object.Hash) (map[string]object.Hash, error) {
	files, err := r.FlattenTree(tree)
	if err != nil {
		return nil, err
	}
	out := make(map[string]object.Hash)
	for _, f := range files {
		if f.IsSubmodule() {
			out[f.Path] = f.Hash
		}
	}
	return out, nil
}

// CheckConsistency verifies that every pointer entry in tree has a
// configuration record and every record has a pointer entry.
func CheckConsistency(r *repo.Repo, tree object.Hash) error {
	cfg, err := ReadConfigAt(r, tree)
	if err != nil {
		return err
	}
	pointers, err := Pointers(r, tree)
	if err != nil {
		return err
	}
	return cfg.Check(pointers)
}

// Check compares the configuration with a set of pointer paths. The first
// violation in sorted order is reported.
func (c *Config) Check(pointers map[string]object.Hash) error {
	paths := make([]string, 0, len(pointers))
	for p := range pointers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if _, ok := c.ByPath(p); !ok {
			return errdefs.Consistencyf(p, "pointer entry at %q has no configuration record", p)
		}
	}
	for _, name := range c.Names() {
		rec := c.Records[name]
		if _, ok := pointers[rec.Path]; !ok {
			return errdefs.Consistencyf(name, "configuration record has no pointer entry at %q", rec.Path)
		}
	}
	return nil
}

func cleanPath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.Trim(p, "/")
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return errdefs.Userf("invalid submodule name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return errdefs.Userf("invalid submodule name %q", name)
		}
	}
	return nil
}
