// Package config loads todo settings from config.yaml files and TODO_
// environment variables.
//
// Precedence: environment > project .todo/config.yaml (found by walking up
// from the working directory) > ~/.config/todo/config.yaml > defaults.
// Relative paths in the result are resolved against the project root, the
// directory holding .todo.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Mschirtzinger/todosync/internal/frontmatter"
	"github.com/Mschirtzinger/todosync/internal/pattern"
)

const (
	// DirName is the managed directory inside a project.
	DirName = ".todo"
	// FileName is the config file inside DirName.
	FileName = "config.yaml"

	BackendJSONL = "jsonl"
	BackendCLI   = "bd"

	// DefaultAIModel is used for assisted extraction when ai.model is unset.
	DefaultAIModel = "claude-haiku-4-5-20251001"
)

// SyncConfig holds the sync.* keys.
type SyncConfig struct {
	Direction        string `yaml:"direction"`
	HandleDeletions  bool   `yaml:"handle-deletions"`
	ConflictStrategy string `yaml:"conflict-strategy"`
	AutoCommit       bool   `yaml:"auto-commit"`
}

// WatchConfig holds the watch.* keys.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	LogFile  string        `yaml:"log-file"`
}

// AIConfig holds the ai.* keys.
type AIConfig struct {
	APIKey        string  `yaml:"api-key,omitempty"`
	Model         string  `yaml:"model"`
	MinConfidence float64 `yaml:"min-confidence"`
}

// BeadsConfig holds the beads.* keys.
type BeadsConfig struct {
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend"`
	Bin     string `yaml:"bin"`
}

// TemplatesConfig holds the templates.* keys.
type TemplatesConfig struct {
	Dir    string `yaml:"dir"`
	Preset string `yaml:"preset"`
}

// Config is the resolved configuration, passed explicitly to whatever
// needs it.
type Config struct {
	// Root is the project root; relative paths below are already joined
	// onto it.
	Root string
	// File is the config file that was read, if any.
	File string

	Dir            string
	Pattern        string
	SeparateClosed bool
	ClosedSubdir   string
	Beads          BeadsConfig
	Templates      TemplatesConfig
	Sync           SyncConfig
	StateDB        string
	Watch          WatchConfig
	DashboardPort  int
	AI             AIConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dir", DirName)
	v.SetDefault("pattern", pattern.DefaultPattern)
	v.SetDefault("separate-closed", false)
	v.SetDefault("closed-subdir", frontmatter.DefaultClosedSubdir)

	v.SetDefault("beads.dir", ".beads")
	v.SetDefault("beads.backend", BackendJSONL)
	v.SetDefault("beads.bin", "bd")

	v.SetDefault("templates.dir", filepath.Join(DirName, "templates"))
	v.SetDefault("templates.preset", "")

	v.SetDefault("sync.direction", "bidirectional")
	v.SetDefault("sync.handle-deletions", false)
	v.SetDefault("sync.conflict-strategy", "beads")
	v.SetDefault("sync.auto-commit", false)

	v.SetDefault("state.db", filepath.Join(DirName, ".state.db"))

	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("watch.log-file", "")

	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("ai.api-key", "")
	v.SetDefault("ai.model", DefaultAIModel)
	v.SetDefault("ai.min-confidence", 0.6)
}

// Load resolves the configuration for a project containing startDir.
func Load(startDir string) (*Config, error) {
	start, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	root, file := findProject(start)
	if file == "" {
		if configDir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(configDir, "todo", FileName)
			if _, err := os.Stat(candidate); err == nil {
				file = candidate
			}
		}
	}

	// e.g. TODO_SYNC_HANDLE_DELETIONS sets sync.handle-deletions
	v.SetEnvPrefix("TODO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.api-key", "TODO_AI_API_KEY", "ANTHROPIC_API_KEY")

	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Root:           root,
		File:           file,
		Dir:            resolve(root, v.GetString("dir")),
		Pattern:        v.GetString("pattern"),
		SeparateClosed: v.GetBool("separate-closed"),
		ClosedSubdir:   v.GetString("closed-subdir"),
		Beads: BeadsConfig{
			Dir:     resolve(root, v.GetString("beads.dir")),
			Backend: v.GetString("beads.backend"),
			Bin:     v.GetString("beads.bin"),
		},
		Templates: TemplatesConfig{
			Dir:    resolve(root, v.GetString("templates.dir")),
			Preset: v.GetString("templates.preset"),
		},
		Sync: SyncConfig{
			Direction:        v.GetString("sync.direction"),
			HandleDeletions:  v.GetBool("sync.handle-deletions"),
			ConflictStrategy: v.GetString("sync.conflict-strategy"),
			AutoCommit:       v.GetBool("sync.auto-commit"),
		},
		StateDB: resolve(root, v.GetString("state.db")),
		Watch: WatchConfig{
			Debounce: v.GetDuration("watch.debounce"),
			LogFile:  resolve(root, v.GetString("watch.log-file")),
		},
		DashboardPort: v.GetInt("dashboard.port"),
		AI: AIConfig{
			APIKey:        v.GetString("ai.api-key"),
			Model:         v.GetString("ai.model"),
			MinConfidence: v.GetFloat64("ai.min-confidence"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findProject walks up from start looking for .todo/config.yaml. Without
// one, the nearest directory holding .todo or .beads is the root; failing
// that, start itself.
func findProject(start string) (root, file string) {
	for dir := start; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, DirName, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return dir, candidate
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	for dir := start; ; dir = filepath.Dir(dir) {
		for _, marker := range []string{DirName, ".beads"} {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir, ""
			}
		}
		if filepath.Dir(dir) == dir {
			return start, ""
		}
	}
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return filepath.Join(root, p)
}

// Validate rejects values the rest of the program cannot act on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Sync.Direction {
	case "beads-to-files", "files-to-beads", "bidirectional":
	default:
		errs = append(errs, fmt.Errorf("sync.direction: invalid value %q (want beads-to-files, files-to-beads or bidirectional)", c.Sync.Direction))
	}
	switch c.Sync.ConflictStrategy {
	case "beads", "files", "newest":
	default:
		errs = append(errs, fmt.Errorf("sync.conflict-strategy: invalid value %q (want beads, files or newest)", c.Sync.ConflictStrategy))
	}
	switch c.Beads.Backend {
	case BackendJSONL, BackendCLI:
	default:
		errs = append(errs, fmt.Errorf("beads.backend: invalid value %q (want %s or %s)", c.Beads.Backend, BackendJSONL, BackendCLI))
	}
	if strings.TrimSpace(c.Pattern) == "" {
		errs = append(errs, errors.New("pattern: must not be empty"))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce: must not be negative, got %s", c.Watch.Debounce))
	}
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("ai.min-confidence: must be between 0 and 1, got %g", c.AI.MinConfidence))
	}
	if c.DashboardPort < 0 || c.DashboardPort > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port: invalid port %d", c.DashboardPort))
	}
	return errors.Join(errs...)
}

// WriteOptions returns the file layout settings.
func (c *Config) WriteOptions() frontmatter.WriteOptions {
	return frontmatter.WriteOptions{
		Pattern:        c.Pattern,
		SeparateClosed: c.SeparateClosed,
		ClosedSubdir:   c.ClosedSubdir,
	}
}

// BeadsLog returns the path of the beads issue log.
func (c *Config) BeadsLog() string {
	return filepath.Join(c.Beads.Dir, "issues.jsonl")
}

// fileLayout mirrors the config.yaml key layout for WriteDefault.
type fileLayout struct {
	Dir            string            `yaml:"dir"`
	Pattern        string            `yaml:"pattern"`
	SeparateClosed bool              `yaml:"separate-closed"`
	ClosedSubdir   string            `yaml:"closed-subdir"`
	Beads          BeadsConfig       `yaml:"beads"`
	Templates      TemplatesConfig   `yaml:"templates"`
	Sync           SyncConfig        `yaml:"sync"`
	State          map[string]string `yaml:"state"`
	Watch          map[string]string `yaml:"watch"`
	Dashboard      map[string]int    `yaml:"dashboard"`
	AI             AIConfig          `yaml:"ai"`
}

// WriteDefault writes a config.yaml holding every default into
// <root>/.todo/, with templates.preset set to preset. An existing file is
// left alone and reported as an error.
func WriteDefault(root, preset string) (string, error) {
	path := filepath.Join(root, DirName, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists: %s", path)
	}

	v := viper.New()
	setDefaults(v)
	layout := fileLayout{
		Dir:            v.GetString("dir"),
		Pattern:        v.GetString("pattern"),
		SeparateClosed: v.GetBool("separate-closed"),
		ClosedSubdir:   v.GetString("closed-subdir"),
		Beads: BeadsConfig{
			Dir:     v.GetString("beads.dir"),
			Backend: v.GetString("beads.backend"),
			Bin:     v.GetString("beads.bin"),
		},
		Templates: TemplatesConfig{Dir: v.GetString("templates.dir"), Preset: preset},
		Sync: SyncConfig{
			Direction:        v.GetString("sync.direction"),
			ConflictStrategy: v.GetString("sync.conflict-strategy"),
		},
		State:     map[string]string{"db": v.GetString("state.db")},
		Watch:     map[string]string{"debounce": v.GetString("watch.debounce"), "log-file": ""},
		Dashboard: map[string]int{"port": v.GetInt("dashboard.port")},
		AI:        AIConfig{Model: v.GetString("ai.model"), MinConfidence: v.GetFloat64("ai.min-confidence")},
	}

	data, err := yaml.Marshal(&layout)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
