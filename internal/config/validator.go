package config

import (
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "worker.command")
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
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateSupervisor()...)
	errors = append(errors, c.validateLogin()...)
	errors = append(errors, c.validateBridge()...)
	errors = append(errors, c.validateWatcher()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	path := c.Paths.UsersDir
	if path == "" {
		errors = append(errors, ValidationError{
			Field:   "paths.users_dir",
			Value:   path,
			Message: "cannot be empty",
		})
		return errors
	}

	// Check for null bytes which are invalid in paths
	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "paths.users_dir",
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	// Reasonable path length limit (most filesystems have limits around 4096)
	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   "paths.users_dir",
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}

// validateWorker validates the WorkerConfig
func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Worker.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "worker.command",
			Value:   c.Worker.Command,
			Message: "cannot be empty",
		})
	}

	// The worker locates its credential file by a fixed relative name
	name := c.Worker.CredentialFile
	if name == "" {
		errors = append(errors, ValidationError{
			Field:   "worker.credential_file",
			Value:   name,
			Message: "cannot be empty",
		})
	} else if filepath.Base(name) != name || name == "." || name == ".." {
		errors = append(errors, ValidationError{
			Field:   "worker.credential_file",
			Value:   name,
			Message: "must be a plain file name without directory components",
		})
	}

	for i, kv := range c.Worker.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("worker.env[%d]", i),
				Value:   kv,
				Message: "must have the form KEY=VALUE",
			})
		}
	}

	// 0 disables kill escalation; negative is invalid
	if c.Worker.StopTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.stop_timeout_seconds",
			Value:   c.Worker.StopTimeoutSeconds,
			Message: "must be non-negative (0 disables escalation)",
		})
	}

	return errors
}

// validateSupervisor validates the SupervisorConfig
func (c *Config) validateSupervisor() []ValidationError {
	var errors []ValidationError

	if c.Supervisor.RestartDelaySeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.restart_delay_seconds",
			Value:   c.Supervisor.RestartDelaySeconds,
			Message: "must be non-negative",
		})
	}

	const minMaxParallel = 1
	const maxMaxParallel = 256

	if c.Supervisor.MaxParallel < minMaxParallel {
		errors = append(errors, ValidationError{
			Field:   "supervisor.max_parallel",
			Value:   c.Supervisor.MaxParallel,
			Message: fmt.Sprintf("must be at least %d", minMaxParallel),
		})
	}
	if c.Supervisor.MaxParallel > maxMaxParallel {
		errors = append(errors, ValidationError{
			Field:   "supervisor.max_parallel",
			Value:   c.Supervisor.MaxParallel,
			Message: fmt.Sprintf("exceeds maximum of %d", maxMaxParallel),
		})
	}

	if c.Supervisor.ShutdownTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.shutdown_timeout_seconds",
			Value:   c.Supervisor.ShutdownTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateLogin validates the LoginConfig
func (c *Config) validateLogin() []ValidationError {
	var errors []ValidationError

	const minCodeLength = 4
	const maxCodeLength = 8
	if c.Login.CodeLength < minCodeLength || c.Login.CodeLength > maxCodeLength {
		errors = append(errors, ValidationError{
			Field:   "login.code_length",
			Value:   c.Login.CodeLength,
			Message: fmt.Sprintf("must be between %d and %d", minCodeLength, maxCodeLength),
		})
	}

	return errors
}

// validateBridge validates the BridgeConfig
func (c *Config) validateBridge() []ValidationError {
	var errors []ValidationError

	if !c.Bridge.Enabled {
		return errors
	}

	if _, _, err := net.SplitHostPort(c.Bridge.Addr); err != nil {
		errors = append(errors, ValidationError{
			Field:   "bridge.addr",
			Value:   c.Bridge.Addr,
			Message: "must be a host:port listen address",
		})
	}

	if strings.ContainsAny(c.Bridge.Token, " \t\r\n") {
		errors = append(errors, ValidationError{
			Field:   "bridge.token",
			Value:   "<redacted>",
			Message: "cannot contain whitespace",
		})
	}

	return errors
}

// validateWatcher validates the WatcherConfig
func (c *Config) validateWatcher() []ValidationError {
	var errors []ValidationError

	const maxDebounceMs = 10_000
	if c.Watcher.DebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "watcher.debounce_ms",
			Value:   c.Watcher.DebounceMs,
			Message: "must be non-negative",
		})
	}
	if c.Watcher.DebounceMs > maxDebounceMs {
		errors = append(errors, ValidationError{
			Field:   "watcher.debounce_ms",
			Value:   c.Watcher.DebounceMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxDebounceMs),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
