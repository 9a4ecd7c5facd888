package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Paths.UsersDir != "./users" {
		t.Errorf("Paths.UsersDir = %q, want %q", cfg.Paths.UsersDir, "./users")
	}

	if cfg.Worker.Command != "python3" {
		t.Errorf("Worker.Command = %q, want %q", cfg.Worker.Command, "python3")
	}
	if len(cfg.Worker.Args) != 1 || cfg.Worker.Args[0] != "Self.py" {
		t.Errorf("Worker.Args = %v, want [Self.py]", cfg.Worker.Args)
	}
	if cfg.Worker.CredentialFile != "credentials.json" {
		t.Errorf("Worker.CredentialFile = %q, want %q", cfg.Worker.CredentialFile, "credentials.json")
	}
	if cfg.Worker.StopTimeoutSeconds != 10 {
		t.Errorf("Worker.StopTimeoutSeconds = %d, want 10", cfg.Worker.StopTimeoutSeconds)
	}

	if cfg.Supervisor.RestartDelaySeconds != 5 {
		t.Errorf("Supervisor.RestartDelaySeconds = %d, want 5", cfg.Supervisor.RestartDelaySeconds)
	}
	if cfg.Supervisor.MaxParallel != 8 {
		t.Errorf("Supervisor.MaxParallel = %d, want 8", cfg.Supervisor.MaxParallel)
	}

	if cfg.Login.CodeLength != 5 {
		t.Errorf("Login.CodeLength = %d, want 5", cfg.Login.CodeLength)
	}

	if !cfg.Bridge.Enabled {
		t.Error("Bridge.Enabled should be true by default")
	}
	if cfg.Bridge.Addr != "127.0.0.1:8089" {
		t.Errorf("Bridge.Addr = %q, want %q", cfg.Bridge.Addr, "127.0.0.1:8089")
	}
	if cfg.Bridge.Token != "" {
		t.Error("Bridge.Token should be empty by default")
	}

	if !cfg.Watcher.Enabled {
		t.Error("Watcher.Enabled should be true by default")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.Worker.StopTimeout(); got != 10*time.Second {
		t.Errorf("StopTimeout() = %v, want 10s", got)
	}
	if got := cfg.Supervisor.RestartDelay(); got != 5*time.Second {
		t.Errorf("RestartDelay() = %v, want 5s", got)
	}
	if got := cfg.Supervisor.ShutdownTimeout(); got != 15*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 15s", got)
	}
	if got := cfg.Watcher.Debounce(); got != 100*time.Millisecond {
		t.Errorf("Debounce() = %v, want 100ms", got)
	}

	cfg.Worker.StopTimeoutSeconds = 0
	if got := cfg.Worker.StopTimeout(); got != 0 {
		t.Errorf("StopTimeout() with 0 = %v, want 0", got)
	}
}

func TestPathsConfig_ResolveUsersDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name    string
		dir     string
		baseDir string
		want    string
	}{
		{"empty uses default", "", "/srv/app", "/srv/app/users"},
		{"relative", "./users", "/srv/app", "/srv/app/users"},
		{"nested relative", "data/users", "/srv/app", "/srv/app/data/users"},
		{"absolute", "/var/lib/selfvisor", "/srv/app", "/var/lib/selfvisor"},
		{"home", "~/selfvisor", "/srv/app", filepath.Join(home, "selfvisor")},
		{"bare home", "~", "/srv/app", home},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PathsConfig{UsersDir: tt.dir}
			if got := p.ResolveUsersDir(tt.baseDir); got != tt.want {
				t.Errorf("ResolveUsersDir(%q) = %q, want %q", tt.baseDir, got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")

		if got := ConfigDir(); got != "/custom/config/selfvisor" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/selfvisor")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")

		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		want := filepath.Join(home, ".config", "selfvisor")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if got := ConfigFile(); got != "/custom/config/selfvisor/config.yaml" {
		t.Errorf("ConfigFile() = %q, want %q", got, "/custom/config/selfvisor/config.yaml")
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Worker.Command != "python3" {
			t.Errorf("Worker.Command = %q, want python3", cfg.Worker.Command)
		}
		if cfg.Supervisor.MaxParallel != 8 {
			t.Errorf("Supervisor.MaxParallel = %d, want 8", cfg.Supervisor.MaxParallel)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()
		viper.Set("worker.command", "/usr/bin/python3.12")
		viper.Set("supervisor.restart_delay_seconds", 1)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Worker.Command != "/usr/bin/python3.12" {
			t.Errorf("Worker.Command = %q", cfg.Worker.Command)
		}
		if cfg.Supervisor.RestartDelaySeconds != 1 {
			t.Errorf("Supervisor.RestartDelaySeconds = %d, want 1", cfg.Supervisor.RestartDelaySeconds)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()
		viper.Set("login.code_length", 0)

		if _, err := Load(); err == nil {
			t.Fatal("Load() should fail for invalid code length")
		}
	})
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("logging.level", "verbose")

	// Invalid configuration falls back to defaults
	cfg := Get()
	if cfg.Logging.Level != "info" {
		t.Errorf("Get() Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}
