package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete selfvisor configuration
type Config struct {
	Paths      PathsConfig      `mapstructure:"paths" yaml:"paths"`
	Worker     WorkerConfig     `mapstructure:"worker" yaml:"worker"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Login      LoginConfig      `mapstructure:"login" yaml:"login"`
	Bridge     BridgeConfig     `mapstructure:"bridge" yaml:"bridge"`
	Watcher    WatcherConfig    `mapstructure:"watcher" yaml:"watcher"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// PathsConfig controls where selfvisor stores per-user data
type PathsConfig struct {
	// UsersDir holds one sub-directory per user id, each containing that
	// user's credential file. Relative paths are resolved against the
	// working directory; ~ expands to the home directory.
	UsersDir string `mapstructure:"users_dir" yaml:"users_dir"`
}

// WorkerConfig controls how per-user worker processes are launched
type WorkerConfig struct {
	// Command is the executable launched for each user (default: "python3")
	Command string `mapstructure:"command" yaml:"command"`
	// Args are passed to Command (default: ["Self.py"])
	Args []string `mapstructure:"args" yaml:"args"`
	// CredentialFile is the file name of the credential record inside a user directory
	CredentialFile string `mapstructure:"credential_file" yaml:"credential_file"`
	// Env is appended to the inherited environment, as KEY=VALUE entries
	Env []string `mapstructure:"env" yaml:"env"`
	// StopTimeoutSeconds is how long a terminated worker may take to exit
	// before it is killed (0 = never escalate)
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
}

// SupervisorConfig controls lifecycle and bulk operations
type SupervisorConfig struct {
	// RestartDelaySeconds is the grace window between stop-all and the
	// deferred start-all of a restart (default: 5)
	RestartDelaySeconds int `mapstructure:"restart_delay_seconds" yaml:"restart_delay_seconds"`
	// MaxParallel bounds how many users a bulk pass touches concurrently (default: 8)
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
	// ShutdownTimeoutSeconds bounds graceful shutdown (default: 15)
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// LoginConfig controls the login handshake
type LoginConfig struct {
	// CodeLength is the number of digits in a one-time code (default: 5)
	CodeLength int `mapstructure:"code_length" yaml:"code_length"`
}

// BridgeConfig controls the WebSocket front-end bridge
type BridgeConfig struct {
	// Enabled starts the bridge server with `selfvisor serve` (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Addr is the listen address (default: "127.0.0.1:8089")
	Addr string `mapstructure:"addr" yaml:"addr"`
	// Token, when set, must be presented as a bearer token by connecting clients
	Token string `mapstructure:"token" yaml:"token"`
}

// WatcherConfig controls observation of worker-written credential files
type WatcherConfig struct {
	// Enabled watches user directories for credential changes (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DebounceMs coalesces bursts of writes to one file (default: 100)
	DebounceMs int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated backups (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			UsersDir: "./users",
		},
		Worker: WorkerConfig{
			Command:            "python3",
			Args:               []string{"Self.py"},
			CredentialFile:     "credentials.json",
			Env:                []string{},
			StopTimeoutSeconds: 10,
		},
		Supervisor: SupervisorConfig{
			RestartDelaySeconds:    5,
			MaxParallel:            8,
			ShutdownTimeoutSeconds: 15,
		},
		Login: LoginConfig{
			CodeLength: 5,
		},
		Bridge: BridgeConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8089",
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// StopTimeout returns the terminate-to-kill escalation delay (0 means disabled)
func (c *WorkerConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// RestartDelay returns the restart grace window as a time.Duration
func (c *SupervisorConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelaySeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound as a time.Duration
func (c *SupervisorConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Debounce returns the watcher debounce interval as a time.Duration
func (c *WatcherConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// ResolveUsersDir returns the absolute users directory.
// ~ expands to the user's home directory; relative paths are resolved
// relative to baseDir.
func (p *PathsConfig) ResolveUsersDir(baseDir string) string {
	path := p.UsersDir
	if path == "" {
		path = Default().Paths.UsersDir
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return filepath.Clean(path)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Paths defaults
	viper.SetDefault("paths.users_dir", defaults.Paths.UsersDir)

	// Worker defaults
	viper.SetDefault("worker.command", defaults.Worker.Command)
	viper.SetDefault("worker.args", defaults.Worker.Args)
	viper.SetDefault("worker.credential_file", defaults.Worker.CredentialFile)
	viper.SetDefault("worker.env", defaults.Worker.Env)
	viper.SetDefault("worker.stop_timeout_seconds", defaults.Worker.StopTimeoutSeconds)

	// Supervisor defaults
	viper.SetDefault("supervisor.restart_delay_seconds", defaults.Supervisor.RestartDelaySeconds)
	viper.SetDefault("supervisor.max_parallel", defaults.Supervisor.MaxParallel)
	viper.SetDefault("supervisor.shutdown_timeout_seconds", defaults.Supervisor.ShutdownTimeoutSeconds)

	// Login defaults
	viper.SetDefault("login.code_length", defaults.Login.CodeLength)

	// Bridge defaults
	viper.SetDefault("bridge.enabled", defaults.Bridge.Enabled)
	viper.SetDefault("bridge.addr", defaults.Bridge.Addr)
	viper.SetDefault("bridge.token", defaults.Bridge.Token)

	// Watcher defaults
	viper.SetDefault("watcher.enabled", defaults.Watcher.Enabled)
	viper.SetDefault("watcher.debounce_ms", defaults.Watcher.DebounceMs)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
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

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "selfvisor")
	}
	// Fall back to ~/.config/selfvisor
	home, err := os.UserHomeDir()
	if err != nil {
		return ".selfvisor"
	}
	return filepath.Join(home, ".config", "selfvisor")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
