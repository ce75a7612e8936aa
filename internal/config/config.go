package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete portaldocs configuration
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Lock    LockConfig    `mapstructure:"lock"`
	Write   WriteConfig   `mapstructure:"write"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
}

// StoreConfig controls where documents live and how they are created
type StoreConfig struct {
	// BaseDir is the directory holding <name>.json documents.
	// Supports ~ for home directory expansion.
	BaseDir string `mapstructure:"base_dir"`
	// BackupDir is the backup area, relative to BaseDir unless absolute (default: "backups")
	BackupDir string `mapstructure:"backup_dir"`
	// FileMode is the octal permission applied to every committed document (default: "0644")
	FileMode string `mapstructure:"file_mode"`
	// DirMode is the octal permission for created directories (default: "0775")
	DirMode string `mapstructure:"dir_mode"`
}

// LockConfig bounds lock acquisition
type LockConfig struct {
	// Timeout is how long to wait for a document lock (default: 10s, must be positive)
	Timeout time.Duration `mapstructure:"timeout"`
	// PollInterval is the delay between lock attempts (default: 25ms)
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WriteConfig controls commits
type WriteConfig struct {
	// Attempts is how many times a failed commit is tried (default: 3)
	Attempts int `mapstructure:"attempts"`
	// RetryDelay is the fixed pause between commit attempts (default: 1s)
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Backup snapshots the current document before each write (default: true)
	Backup bool `mapstructure:"backup"`
}

// BackupConfig controls backup retention
type BackupConfig struct {
	// Keep prunes all but the newest Keep backups after each write (default: 0 = never prune)
	Keep int `mapstructure:"keep"`
}

// LoggingConfig controls diagnostic logging
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "warn")
	Level string `mapstructure:"level"`
	// Dir enables JSON file logging; empty logs to stderr (default: "")
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// OutputConfig controls how commands print documents
type OutputConfig struct {
	// Format is "json" or "yaml" (default: "json")
	Format string `mapstructure:"format"`
	// Color is "auto", "always" or "never" (default: "auto")
	Color string `mapstructure:"color"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			BaseDir:   DefaultBaseDir(),
			BackupDir: "backups",
			FileMode:  "0644",
			DirMode:   "0775",
		},
		Lock: LockConfig{
			Timeout:      10 * time.Second,
			PollInterval: 25 * time.Millisecond,
		},
		Write: WriteConfig{
			Attempts:   3,
			RetryDelay: time.Second,
			Backup:     true,
		},
		Backup: BackupConfig{
			Keep: 0,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Output: OutputConfig{
			Format: "json",
			Color:  "auto",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("store.base_dir", defaults.Store.BaseDir)
	viper.SetDefault("store.backup_dir", defaults.Store.BackupDir)
	viper.SetDefault("store.file_mode", defaults.Store.FileMode)
	viper.SetDefault("store.dir_mode", defaults.Store.DirMode)

	viper.SetDefault("lock.timeout", defaults.Lock.Timeout)
	viper.SetDefault("lock.poll_interval", defaults.Lock.PollInterval)

	viper.SetDefault("write.attempts", defaults.Write.Attempts)
	viper.SetDefault("write.retry_delay", defaults.Write.RetryDelay)
	viper.SetDefault("write.backup", defaults.Write.Backup)

	viper.SetDefault("backup.keep", defaults.Backup.Keep)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("output.format", defaults.Output.Format)
	viper.SetDefault("output.color", defaults.Output.Color)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ResolveBaseDir returns BaseDir with ~ expanded and made absolute.
func (s *StoreConfig) ResolveBaseDir() (string, error) {
	path := expandHome(s.BaseDir)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve base dir %q: %w", s.BaseDir, err)
	}
	return abs, nil
}

// ResolveBackupDir returns the backup directory for baseDir.
func (s *StoreConfig) ResolveBackupDir(baseDir string) string {
	dir := expandHome(s.BackupDir)
	if dir == "" {
		dir = "backups"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}
	return dir
}

// FilePerm parses FileMode.
func (s *StoreConfig) FilePerm() (os.FileMode, error) {
	return parseMode(s.FileMode)
}

// DirPerm parses DirMode.
func (s *StoreConfig) DirPerm() (os.FileMode, error) {
	return parseMode(s.DirMode)
}

// parseMode parses an octal permission string such as "0644" or "0o644".
func parseMode(s string) (os.FileMode, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0o"), "0O")
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("mode %#o has bits outside 0777", v)
	}
	return os.FileMode(v), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// DefaultBaseDir returns $XDG_DATA_HOME/portaldocs, falling back to
// ~/.local/share/portaldocs.
func DefaultBaseDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "portaldocs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "portaldocs")
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "portaldocs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".portaldocs"
	}
	return filepath.Join(home, ".config", "portaldocs")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
