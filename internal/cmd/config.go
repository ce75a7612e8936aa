package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/Iron-Ham/portaldocs/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify portaldocs configuration",
	Long: `View or modify portaldocs configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  portaldocs config set store.base_dir ~/portal/data
  portaldocs config set lock.timeout 30s
  portaldocs config set backup.keep 20

Valid keys:
  store.base_dir       - Directory holding the documents
  store.backup_dir     - Backup directory, relative to base_dir unless absolute
  store.file_mode      - Octal permission of committed documents
  store.dir_mode       - Octal permission of created directories
  lock.timeout         - How long to wait for a document lock
  lock.poll_interval   - Delay between lock attempts
  write.attempts       - How many times a failed commit is tried
  write.retry_delay    - Pause between commit attempts
  write.backup         - Back up documents before each write (true/false)
  backup.keep          - Backups kept per document after a write (0 = all)
  logging.level        - Options: debug, info, warn, error
  logging.dir          - Directory for JSON log files (empty = stderr)
  output.format        - Options: json, yaml
  output.color         - Options: auto, always, never`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/portaldocs/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configKeys lists the settable keys and the type of their values.
var configKeys = map[string]string{
	"store.base_dir":      "string",
	"store.backup_dir":    "string",
	"store.file_mode":     "string",
	"store.dir_mode":      "string",
	"lock.timeout":        "duration",
	"lock.poll_interval":  "duration",
	"write.attempts":      "int",
	"write.retry_delay":   "duration",
	"write.backup":        "bool",
	"backup.keep":         "int",
	"logging.level":       "string",
	"logging.dir":         "string",
	"logging.max_size_mb": "int",
	"logging.max_backups": "int",
	"output.format":       "string",
	"output.color":        "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'portaldocs config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = b
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = n
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected a duration such as 10s", key)
		}
		typedValue = d.String()
	}

	// Write only what the user has in their file, not the merged defaults.
	file := viper.New()
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	file.SetConfigFile(configFile)
	file.SetConfigType("yaml")
	if _, err := os.Stat(configFile); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	file.Set(key, typedValue)

	// Reject values the loader would refuse.
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := file.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'portaldocs config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	d := config.Default()
	configContent := fmt.Sprintf(`# Portaldocs Configuration

# Where documents live
store:
  # Directory holding <name>.json documents
  base_dir: %s
  # Backup directory, relative to base_dir unless absolute
  backup_dir: %s
  # Octal permission applied to every committed document
  file_mode: "%s"
  # Octal permission for created directories
  dir_mode: "%s"

# Document locks
lock:
  # How long to wait for another process to release a document
  timeout: %s
  # Delay between lock attempts
  poll_interval: %s

# Commits
write:
  # How many times a failed commit is tried
  attempts: %d
  # Pause between commit attempts
  retry_delay: %s
  # Back up the current content before each write
  backup: %t

# Backup retention
backup:
  # Backups kept per document after each write (0 = keep all)
  keep: %d

# Diagnostics
logging:
  # Options: debug, info, warn, error
  level: %s
  # Directory for JSON log files; empty logs to stderr
  dir: "%s"
  max_size_mb: %d
  max_backups: %d

# Command output
output:
  # Options: json, yaml
  format: %s
  # Options: auto, always, never
  color: %s
`,
		d.Store.BaseDir, d.Store.BackupDir, d.Store.FileMode, d.Store.DirMode,
		d.Lock.Timeout, d.Lock.PollInterval,
		d.Write.Attempts, d.Write.RetryDelay, d.Write.Backup,
		d.Backup.Keep,
		d.Logging.Level, d.Logging.Dir, d.Logging.MaxSizeMB, d.Logging.MaxBackups,
		d.Output.Format, d.Output.Color,
	)

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize portaldocs' behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", configFile)
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: PORTALDOCS_* (e.g., PORTALDOCS_LOCK_TIMEOUT)")

	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fmt.Fprintln(out, "\nKeys:")
	for _, k := range keys {
		fmt.Fprintf(out, "  %s\n", k)
	}

	return nil
}
