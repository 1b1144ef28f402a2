package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default locations relative to the repository root.
const (
	DefaultConfigPath   = ".bridge/config.yaml"
	DefaultContractsDir = ".bridge/contracts"
)

// Error indicates missing or invalid bridge configuration. Configuration
// errors are fatal and surface before any I/O happens.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid bridge configuration: " + strings.Join(e.Problems, "; ")
}

// Config holds all bridge settings for one repository.
type Config struct {
	Enabled         bool                  `mapstructure:"enabled" yaml:"enabled"`
	Role            string                `mapstructure:"role" yaml:"role"`
	RepoID          string                `mapstructure:"repo_id" yaml:"repo_id"`
	ContractsDir    string                `mapstructure:"contracts_dir" yaml:"contracts_dir"`
	ScanPatterns    []string              `mapstructure:"scan_patterns" yaml:"scan_patterns"`
	OfflineFallback string                `mapstructure:"offline_fallback" yaml:"offline_fallback"`
	LogLevel        string                `mapstructure:"log_level" yaml:"log_level"`
	Provides        Provides              `mapstructure:"provides" yaml:"provides,omitempty"`
	Dependencies    map[string]Dependency `mapstructure:"dependencies" yaml:"dependencies,omitempty"`

	// Path the config was loaded from; Save writes back here.
	path string
}

// Provides describes the contract this repository publishes (provider role).
type Provides struct {
	ContractFile string `mapstructure:"contract_file" yaml:"contract_file,omitempty"`
}

// Dependency is one external contract this repository consumes. Name is the
// unique key.
type Dependency struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Type         string `mapstructure:"type" yaml:"type"`                 // http-api, graphql, grpc
	SyncMethod   string `mapstructure:"sync_method" yaml:"sync_method"`   // git, http, s3
	GitURL       string `mapstructure:"git_url" yaml:"git_url,omitempty"` // also the http/s3 source URL
	ContractPath string `mapstructure:"contract_path" yaml:"contract_path"`
	LocalCache   string `mapstructure:"local_cache" yaml:"local_cache"`
	SyncOnCommit bool   `mapstructure:"sync_on_commit" yaml:"sync_on_commit"`
}

// Load reads configuration from file, environment, and defaults. A missing
// config file yields the defaults; malformed content is a hard error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("enabled", true)
	v.SetDefault("role", "consumer")
	v.SetDefault("contracts_dir", DefaultContractsDir)
	v.SetDefault("scan_patterns", []string{"**/*.go"})
	v.SetDefault("offline_fallback", "degraded")
	v.SetDefault("log_level", "info")

	if cfgFile == "" {
		cfgFile = DefaultConfigPath
	}
	v.SetConfigFile(cfgFile)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.path = cfgFile

	// The map key is authoritative for the dependency name.
	for name, dep := range cfg.Dependencies {
		if dep.Name == "" {
			dep.Name = name
			cfg.Dependencies[name] = dep
		}
	}

	return &cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []string {
	var problems []string

	switch c.Role {
	case "":
		problems = append(problems, "role is required")
	case "consumer", "provider", "both":
	default:
		problems = append(problems, fmt.Sprintf("invalid role: %q", c.Role))
	}

	for name, dep := range c.Dependencies {
		if dep.Type == "" {
			problems = append(problems, fmt.Sprintf("dependency %s: type is required", name))
		}
		switch dep.SyncMethod {
		case "":
			problems = append(problems, fmt.Sprintf("dependency %s: sync_method is required", name))
		case "git", "http", "s3":
		default:
			problems = append(problems, fmt.Sprintf("dependency %s: unsupported sync_method %q", name, dep.SyncMethod))
		}
		if dep.SyncMethod == "git" && dep.GitURL == "" {
			problems = append(problems, fmt.Sprintf("dependency %s: git_url is required for git sync", name))
		}
		if dep.ContractPath == "" {
			problems = append(problems, fmt.Sprintf("dependency %s: contract_path is required", name))
		}
		if dep.LocalCache == "" {
			problems = append(problems, fmt.Sprintf("dependency %s: local_cache is required", name))
		}
	}

	return problems
}

// Check wraps Validate into an error for fail-fast call sites.
func (c *Config) Check() error {
	if problems := c.Validate(); len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = DefaultConfigPath
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Path returns the config file location.
func (c *Config) Path() string {
	if c.path == "" {
		return DefaultConfigPath
	}
	return c.path
}

// SetPath overrides where Save writes. Used when creating a fresh config.
func (c *Config) SetPath(path string) { c.path = path }

// Dependency returns the named dependency.
func (c *Config) Dependency(name string) (Dependency, bool) {
	dep, ok := c.Dependencies[name]
	return dep, ok
}

// DependencyNames lists configured dependencies in sorted order.
func (c *Config) DependencyNames() []string {
	names := make([]string, 0, len(c.Dependencies))
	for name := range c.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddDependency records a dependency and persists the config.
func (c *Config) AddDependency(dep Dependency) error {
	if c.Dependencies == nil {
		c.Dependencies = make(map[string]Dependency)
	}
	c.Dependencies[dep.Name] = dep
	return c.Save()
}

// RemoveDependency drops a dependency from the config and deletes its cached
// contract file if present.
func (c *Config) RemoveDependency(name string) error {
	dep, ok := c.Dependencies[name]
	if !ok {
		return fmt.Errorf("dependency %q not configured", name)
	}
	delete(c.Dependencies, name)
	if err := c.Save(); err != nil {
		return err
	}
	if dep.LocalCache != "" {
		if err := os.Remove(dep.LocalCache); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing cached contract: %w", err)
		}
	}
	return nil
}

// CacheFileFor maps a dependency name to its default cache file path under
// the contracts directory.
func (c *Config) CacheFileFor(name string) string {
	dir := c.ContractsDir
	if dir == "" {
		dir = DefaultContractsDir
	}
	return filepath.Join(dir, name+"-api.yaml")
}

// ExpectationsFileFor maps a dependency name to its consumer-expectations
// record next to the cached contract.
func (c *Config) ExpectationsFileFor(name string) string {
	dir := c.ContractsDir
	if dir == "" {
		dir = DefaultContractsDir
	}
	return filepath.Join(dir, name+"-expectations.yaml")
}

// Default builds a fresh configuration for init.
func Default(role, repoID string) *Config {
	cfg := &Config{
		Enabled:         true,
		Role:            role,
		RepoID:          repoID,
		ContractsDir:    DefaultContractsDir,
		ScanPatterns:    []string{"**/*.go"},
		OfflineFallback: "degraded",
		LogLevel:        "info",
		path:            DefaultConfigPath,
	}
	if role == "provider" || role == "both" {
		cfg.Provides = Provides{
			ContractFile: filepath.Join(DefaultContractsDir, "provided-api.yaml"),
		}
	}
	return cfg
}
