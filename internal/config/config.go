// Package config loads and validates rumba's YAML configuration file:
// the SMB-mounted source to back up, where to write the tape, and how
// the backup should behave (parallelism, exclusions, compression).
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"runtime"

	"github.com/oplancelot/rumba/internal/rumbaerr"
	"gopkg.in/yaml.v3"
)

const (
	base64Prefix = "base64:"

	defaultOutputMode   = "tar"
	defaultRustLTFSPath = "rustltfs"
	defaultTapePath     = "tape_drive.tar"
	defaultDBPath       = "backup_meta.db"
	minCompressionLevel = 0
	maxCompressionLevel = 22
)

// Config is the top-level rumba configuration.
type Config struct {
	Source SourceConfig `yaml:"source"`
	Target TargetConfig `yaml:"target"`
	Backup BackupConfig `yaml:"backup"`
}

// SourceConfig describes the already-mounted source tree to back up.
type SourceConfig struct {
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TargetConfig describes where and how backed-up blobs are written.
type TargetConfig struct {
	OutputMode   string `yaml:"output_mode"`
	RustLTFSPath string `yaml:"rustltfs_path"`
	TapePath     string `yaml:"tape_path"`
	DBPath       string `yaml:"db_path"`
}

// BackupConfig tunes backup behavior.
type BackupConfig struct {
	ParallelThreads  int      `yaml:"parallel_threads"`
	CompressionLevel int      `yaml:"compression_level"`
	Exclude          []string `yaml:"exclude"`
	IgnoreFile       string   `yaml:"ignore_file"`
	Author           string   `yaml:"author"`
	Message          string   `yaml:"message"`
}

// Load reads, decodes, defaults, and validates the config file at path.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rumbaerr.New(rumbaerr.ConfigInvalid, op, fmt.Errorf("read %q: %w", path, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, rumbaerr.New(rumbaerr.ConfigInvalid, op, fmt.Errorf("parse yaml config %q: %w", path, err))
	}

	cfg.applyDefaults()

	decoded, err := DecodePassword(cfg.Source.Password)
	if err != nil {
		return nil, rumbaerr.New(rumbaerr.ConfigInvalid, op, fmt.Errorf("decode source password: %w", err))
	}
	cfg.Source.Password = decoded

	if err := cfg.Validate(); err != nil {
		return nil, rumbaerr.New(rumbaerr.ConfigInvalid, op, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Target.OutputMode == "" {
		c.Target.OutputMode = defaultOutputMode
	}
	if c.Target.RustLTFSPath == "" {
		c.Target.RustLTFSPath = defaultRustLTFSPath
	}
	if c.Target.TapePath == "" {
		c.Target.TapePath = defaultTapePath
	}
	if c.Target.DBPath == "" {
		c.Target.DBPath = defaultDBPath
	}
	if c.Backup.ParallelThreads == 0 {
		c.Backup.ParallelThreads = runtime.NumCPU()
	}
}

// Validate checks that required fields are set and bounded values are
// in range. Mirrors the original tool's validation rules exactly.
func (c *Config) Validate() error {
	if c.Source.Path == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if c.Source.Username == "" {
		return fmt.Errorf("source username cannot be empty")
	}
	if c.Source.Password == "" {
		return fmt.Errorf("source password cannot be empty")
	}
	if c.Target.OutputMode != "rustltfs" && c.Target.OutputMode != "tar" {
		return fmt.Errorf("output mode must be either 'rustltfs' or 'tar', got: %s", c.Target.OutputMode)
	}
	if c.Backup.CompressionLevel < minCompressionLevel || c.Backup.CompressionLevel > maxCompressionLevel {
		return fmt.Errorf("compression level must be between %d and %d", minCompressionLevel, maxCompressionLevel)
	}
	if c.Backup.ParallelThreads < 1 {
		return fmt.Errorf("parallel threads must be at least 1")
	}
	return nil
}

// EncodePassword returns password prefixed and base64-encoded, the form
// the config file stores instead of plaintext.
func EncodePassword(password string) string {
	return base64Prefix + base64.StdEncoding.EncodeToString([]byte(password))
}

// DecodePassword reverses EncodePassword. A password without the
// "base64:" prefix is returned unchanged, so plaintext passwords in a
// config file still work.
func DecodePassword(password string) (string, error) {
	encoded, ok := cutPrefix(password, base64Prefix)
	if !ok {
		return password, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64 password: %w", err)
	}
	return string(decoded), nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return s, false
	}
	return s[len(prefix):], true
}
