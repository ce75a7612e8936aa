package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lock.timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidOutputFormats returns the list of valid output formats
func ValidOutputFormats() []string {
	return []string{"json", "yaml"}
}

// ValidColorModes returns the list of valid output.color values
func ValidColorModes() []string {
	return []string{"auto", "always", "never"}
}

// maxLockTimeout caps lock.timeout so a misconfigured batch job still fails
// in bounded time.
const maxLockTimeout = 10 * time.Minute

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateWrite()...)
	errors = append(errors, c.validateBackup()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateOutput()...)

	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Store.BaseDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.base_dir",
			Value:   c.Store.BaseDir,
			Message: "must not be empty",
		})
	}

	if mode, err := c.Store.FilePerm(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "store.file_mode",
			Value:   c.Store.FileMode,
			Message: err.Error(),
		})
	} else if mode&0o002 != 0 {
		errors = append(errors, ValidationError{
			Field:   "store.file_mode",
			Value:   c.Store.FileMode,
			Message: "documents must not be world-writable",
		})
	} else if mode&0o600 != 0o600 {
		errors = append(errors, ValidationError{
			Field:   "store.file_mode",
			Value:   c.Store.FileMode,
			Message: "owner must be able to read and write documents",
		})
	}

	if mode, err := c.Store.DirPerm(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "store.dir_mode",
			Value:   c.Store.DirMode,
			Message: err.Error(),
		})
	} else if mode&0o700 != 0o700 {
		errors = append(errors, ValidationError{
			Field:   "store.dir_mode",
			Value:   c.Store.DirMode,
			Message: "owner must be able to read, write and traverse directories",
		})
	}

	return errors
}

// validateLock validates the LockConfig
func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.Timeout <= 0 || c.Lock.Timeout > maxLockTimeout {
		errors = append(errors, ValidationError{
			Field:   "lock.timeout",
			Value:   c.Lock.Timeout,
			Message: fmt.Sprintf("must be positive and at most %s", maxLockTimeout),
		})
	}

	if c.Lock.PollInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.poll_interval",
			Value:   c.Lock.PollInterval,
			Message: "must be positive",
		})
	} else if c.Lock.Timeout > 0 && c.Lock.PollInterval > c.Lock.Timeout {
		errors = append(errors, ValidationError{
			Field:   "lock.poll_interval",
			Value:   c.Lock.PollInterval,
			Message: "must not exceed lock.timeout",
		})
	}

	return errors
}

// validateWrite validates the WriteConfig
func (c *Config) validateWrite() []ValidationError {
	var errors []ValidationError

	if c.Write.Attempts < 1 || c.Write.Attempts > 10 {
		errors = append(errors, ValidationError{
			Field:   "write.attempts",
			Value:   c.Write.Attempts,
			Message: "must be between 1 and 10",
		})
	}

	if c.Write.RetryDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "write.retry_delay",
			Value:   c.Write.RetryDelay,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateBackup validates the BackupConfig
func (c *Config) validateBackup() []ValidationError {
	var errors []ValidationError

	if c.Backup.Keep < 0 {
		errors = append(errors, ValidationError{
			Field:   "backup.keep",
			Value:   c.Backup.Keep,
			Message: "must be non-negative (0 disables pruning)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateOutput validates the OutputConfig
func (c *Config) validateOutput() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidOutputFormats(), c.Output.Format) {
		errors = append(errors, ValidationError{
			Field:   "output.format",
			Value:   c.Output.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOutputFormats(), ", ")),
		})
	}

	if !slices.Contains(ValidColorModes(), c.Output.Color) {
		errors = append(errors, ValidationError{
			Field:   "output.color",
			Value:   c.Output.Color,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidColorModes(), ", ")),
		})
	}

	return errors
}
