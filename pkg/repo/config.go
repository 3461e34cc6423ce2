package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the repository-local settings file inside the control
// directory.
const ConfigFileName = "config.toml"

// Config stores repository-local settings.
type Config struct {
	User    UserConfig    `toml:"user"`
	Diff    DiffConfig    `toml:"diff"`
	Merge   MergeConfig   `toml:"merge"`
	Signing SigningConfig `toml:"signing"`
	Log     LogConfig     `toml:"log"`
}

type UserConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

type DiffConfig struct {
	// Workers bounds concurrent per-submodule diff rendering.
	Workers int `toml:"workers"`
	Context int `toml:"context"`
}

type MergeConfig struct {
	// OpenSubmodules makes nested merges materialize working trees instead
	// of running against bare stores.
	OpenSubmodules bool `toml:"open_submodules"`
}

type SigningConfig struct {
	Key string `toml:"key"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Diff: DiffConfig{Workers: 4, Context: 3},
		Log:  LogConfig{Level: "info", Format: "console"},
	}
}

// Author renders the configured identity as "Name <email>".
func (c *Config) Author() string {
	switch {
	case c.User.Name == "" && c.User.Email == "":
		return ""
	case c.User.Email == "":
		return c.User.Name
	default:
		return fmt.Sprintf("%s <%s>", c.User.Name, c.User.Email)
	}
}

func (r *Repo) configPath() string {
	return filepath.Join(r.ControlDir, ConfigFileName)
}

// ReadConfig reads the repository config. Missing keys keep their defaults.
func (r *Repo) ReadConfig() (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("read config: decode: %w", err)
	}
	if cfg.Diff.Workers <= 0 {
		cfg.Diff.Workers = 1
	}
	if cfg.Diff.Context < 0 {
		cfg.Diff.Context = 0
	}
	return cfg, nil
}

// WriteConfig atomically writes the repository config.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}
	return writeFileAtomic(r.ControlDir, r.configPath(), buf.Bytes())
}
