// Package config loads stagehand.yaml and applies defaults and environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/stagehand/internal/core/policy"
)

// Environment overrides.
const (
	EnvStateDir    = "STAGEHAND_STATE_DIR"
	EnvProjectRoot = "STAGEHAND_PROJECT_ROOT"
	EnvConfig      = "STAGEHAND_CONFIG"
)

// Lock backends.
const (
	LockBackendSQLite = "sqlite"
	LockBackendRedis  = "redis"
)

// DirName is the per-project directory holding the config file.
const DirName = ".stagehand"

// Config represents the stagehand configuration.
type Config struct {
	ProjectRoot       string              `yaml:"project_root"`
	StateDir          string              `yaml:"state_dir"`
	StageRoot         string              `yaml:"stage_root"`
	Project           string              `yaml:"project"`      // Release feed project name
	CorePackage       string              `yaml:"core_package"` // Package whose version policy applies
	LockFile          string              `yaml:"lock_file"`    // Relative to the project root
	AllowMinorUpdates bool                `yaml:"allow_minor_updates"`
	Unattended        Unattended          `yaml:"unattended"`
	Exclude           []string            `yaml:"exclude"`
	ReleaseSources    []string            `yaml:"release_sources"`
	ReleaseFeed       string              `yaml:"release_feed"`
	PackageManager    PackageManager      `yaml:"package_manager"`
	MinFreeDiskMB     uint64              `yaml:"min_free_disk_mb"`
	LockBackend       string              `yaml:"lock_backend"`
	RedisURL          string              `yaml:"redis_url"`
	Events            Events              `yaml:"events"`
	Metrics           Metrics             `yaml:"metrics"`
	Supersession      map[string][]string `yaml:"supersession"`
	PostApply         []Hook              `yaml:"post_apply"`
}

// Unattended configures cron-triggered updates.
type Unattended struct {
	Level string `yaml:"level"` // disable | patch | security
}

// PackageManager configures the external package manager.
type PackageManager struct {
	Binary  string        `yaml:"binary"`
	Timeout time.Duration `yaml:"timeout"`
}

// Events configures the optional NATS event publisher.
type Events struct {
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Metrics configures the Prometheus textfile output.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// Hook is a command run in the project root after apply.
type Hook struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

// Default values.
const (
	DefaultProject       = "drupal"
	DefaultCorePackage   = "drupal/core"
	DefaultLockFile      = "composer.lock"
	DefaultMinFreeDiskMB = 1024
	DefaultTimeout       = 10 * time.Minute
	DefaultSubjectPrefix = "stagehand"
)

// DefaultExclude lists paths never mirrored or promoted.
var DefaultExclude = []string{DirName, ".git", "sites/*/files", "sites/*/settings.php", "sites/*/settings.local.php"}

// DefaultPath returns the config file location for a project root.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, "config.yaml")
}

// Load reads the config file at path. An empty path means the default
// location under the project root, which may be absent. Defaults and
// environment overrides are applied and the result validated.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	projectRoot := getenv(EnvProjectRoot)
	if projectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		projectRoot = wd
	}

	explicit := path != ""
	if path == "" {
		path = getenv(EnvConfig)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath(projectRoot)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = projectRoot
	}
	if v := getenv(EnvProjectRoot); v != "" {
		cfg.ProjectRoot = v
	}
	if v := getenv(EnvStateDir); v != "" {
		cfg.StateDir = v
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	root, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	c.ProjectRoot = root

	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.StateDir = filepath.Join(home, DirName, filepath.Base(root))
	}
	if c.StageRoot == "" {
		c.StageRoot = filepath.Join(c.StateDir, "stages")
	}
	if c.Project == "" {
		c.Project = DefaultProject
	}
	if c.CorePackage == "" {
		c.CorePackage = DefaultCorePackage
	}
	if c.LockFile == "" {
		c.LockFile = DefaultLockFile
	}
	if c.Unattended.Level == "" {
		c.Unattended.Level = string(policy.LevelSecurity)
	}
	if c.Exclude == nil {
		c.Exclude = append([]string{}, DefaultExclude...)
	}
	if c.PackageManager.Timeout == 0 {
		c.PackageManager.Timeout = DefaultTimeout
	}
	if c.MinFreeDiskMB == 0 {
		c.MinFreeDiskMB = DefaultMinFreeDiskMB
	}
	if c.LockBackend == "" {
		c.LockBackend = LockBackendSQLite
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = DefaultSubjectPrefix
	}
	return nil
}

// Validate checks the config for values no operation could work with.
func (c *Config) Validate() error {
	var problems []string

	if !filepath.IsAbs(c.ProjectRoot) {
		problems = append(problems, "project_root must be absolute")
	}
	for name, dir := range map[string]string{"state_dir": c.StateDir, "stage_root": c.StageRoot} {
		if !filepath.IsAbs(dir) {
			problems = append(problems, name+" must be absolute")
			continue
		}
		if within(c.ProjectRoot, dir) {
			problems = append(problems, name+" must be outside project_root")
		}
	}

	switch policy.UnattendedLevel(c.Unattended.Level) {
	case policy.LevelDisabled, policy.LevelPatch, policy.LevelSecurity:
	default:
		problems = append(problems, fmt.Sprintf("unattended.level %q must be disable, patch or security", c.Unattended.Level))
	}

	switch c.LockBackend {
	case LockBackendSQLite:
	case LockBackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "redis_url is required when lock_backend is redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("lock_backend %q must be sqlite or redis", c.LockBackend))
	}

	if c.ReleaseFeed != "" && len(c.ReleaseSources) == 0 {
		problems = append(problems, "release_sources must list the trusted prefix of release_feed")
	}

	known := map[string]bool{}
	for _, name := range policy.KnownRules() {
		known[name] = true
	}
	known[policy.SupersedeAll] = true
	for rule, superseded := range c.Supersession {
		if !known[rule] {
			problems = append(problems, fmt.Sprintf("supersession: unknown rule %q", rule))
		}
		for _, s := range superseded {
			if !known[s] {
				problems = append(problems, fmt.Sprintf("supersession: unknown rule %q", s))
			}
		}
	}

	for i, hook := range c.PostApply {
		if len(hook.Command) == 0 {
			problems = append(problems, fmt.Sprintf("post_apply[%d] has no command", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PolicyConfig returns the rule configuration for a trigger.
func (c *Config) PolicyConfig(trigger policy.Trigger) policy.Config {
	return policy.Config{
		Trigger:           trigger,
		AllowMinorUpdates: c.AllowMinorUpdates,
		UnattendedLevel:   policy.UnattendedLevel(c.Unattended.Level),
	}
}

// SupersessionPolicy returns the configured supersession map, or the
// default when none is configured.
func (c *Config) SupersessionPolicy() policy.Supersession {
	if len(c.Supersession) == 0 {
		return policy.DefaultSupersession()
	}
	return policy.Supersession(c.Supersession)
}

// LockFilePath returns the absolute path of the production lock file.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.ProjectRoot, c.LockFile)
}

// MinFreeDiskBytes returns the configured disk space floor in bytes.
func (c *Config) MinFreeDiskBytes() uint64 {
	return c.MinFreeDiskMB << 20
}

func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
