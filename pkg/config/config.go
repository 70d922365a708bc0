// Package config loads engine settings from an optional YAML file merged
// with CI-provided environment variables. Environment wins: in CI the file
// is usually absent and everything arrives via SECSYNC_* variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/secsync/pkg/engine"
	"github.com/user/secsync/pkg/scanners"
)

// DefaultConfigPath is looked up relative to the repository root.
const DefaultConfigPath = ".secsync.yaml"

// Config holds everything one automation run needs.
type Config struct {
	// RepoPath is the git repository the engine operates on.
	RepoPath string `yaml:"repo_path"`

	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`

	// Scanners maps a known scanner format name to its output file path.
	Scanners map[string]string `yaml:"scanners"`

	LockTTL  time.Duration `yaml:"lock_ttl"`
	LockWait time.Duration `yaml:"lock_wait"`

	// PushRetries bounds full fetch/rebase/push cycles when the remote keeps
	// moving underneath us.
	PushRetries int           `yaml:"push_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`

	// Defaults are the per-severity templates for new remediation entries.
	Defaults engine.Defaults `yaml:"defaults"`

	Logging LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug"`
	JSON  bool `yaml:"json"`
}

func defaults() *Config {
	return &Config{
		RepoPath:    ".",
		Remote:      "origin",
		Branch:      "main",
		Scanners:    map[string]string{},
		LockTTL:     15 * time.Minute,
		LockWait:    2 * time.Minute,
		PushRetries: 5,
		RetryDelay:  2 * time.Second,
		Defaults:    engine.DefaultEntryDefaults(),
	}
}

// Load reads the config file (missing is fine), applies environment
// overrides, and validates. path may be empty to use DefaultConfigPath.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SECSYNC_* environment variables. Scanner outputs arrive
// as SECSYNC_SCANNER_<NAME>=<path>, with underscores in NAME standing in for
// dashes (SECSYNC_SCANNER_PIP_AUDIT).
func (c *Config) applyEnv() error {
	if v := os.Getenv("SECSYNC_REPO"); v != "" {
		c.RepoPath = v
	}
	if v := os.Getenv("SECSYNC_REMOTE"); v != "" {
		c.Remote = v
	}
	if v := os.Getenv("SECSYNC_BRANCH"); v != "" {
		c.Branch = v
	}
	if v := os.Getenv("SECSYNC_LOCK_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SECSYNC_LOCK_TTL: %w", err)
		}
		c.LockTTL = d
	}
	if v := os.Getenv("SECSYNC_LOCK_WAIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SECSYNC_LOCK_WAIT: %w", err)
		}
		c.LockWait = d
	}
	if v := os.Getenv("SECSYNC_PUSH_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SECSYNC_PUSH_RETRIES: %w", err)
		}
		c.PushRetries = n
	}

	for _, kv := range os.Environ() {
		const prefix = "SECSYNC_SCANNER_"
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		rest := kv[len(prefix):]
		eq := strings.IndexByte(rest, '=')
		if eq < 0 || rest[eq+1:] == "" {
			continue
		}
		name := strings.ReplaceAll(strings.ToLower(rest[:eq]), "_", "-")
		c.Scanners[name] = rest[eq+1:]
	}
	return nil
}

// Validate rejects unknown scanner names and bad severities up front, before
// a run touches the lock or the working tree.
func (c *Config) Validate() error {
	for name := range c.Scanners {
		if !scanners.Known(name) {
			return fmt.Errorf("unknown scanner format %q (supported: %s)",
				name, strings.Join(scanners.Names(), ", "))
		}
	}
	for sev := range c.Defaults {
		if _, err := engine.ParseSeverity(string(sev)); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be positive")
	}
	if c.PushRetries < 1 {
		return fmt.Errorf("push_retries must be at least 1")
	}
	return nil
}

// ReadScannerOutputs loads each configured scanner's output file. Missing or
// unreadable files are reported per scanner and tolerated; the caller decides
// whether enough scanners survived.
func (c *Config) ReadScannerOutputs() (map[string][]byte, []scanners.ParseError) {
	raw := make(map[string][]byte, len(c.Scanners))
	var errs []scanners.ParseError
	for name, path := range c.Scanners {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, scanners.ParseError{Scanner: name, Err: err})
			continue
		}
		raw[name] = data
	}
	return raw, errs
}
