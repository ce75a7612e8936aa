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

	if cfg.Store.BackupDir != "backups" {
		t.Errorf("Store.BackupDir = %q, want %q", cfg.Store.BackupDir, "backups")
	}
	if cfg.Store.FileMode != "0644" {
		t.Errorf("Store.FileMode = %q, want %q", cfg.Store.FileMode, "0644")
	}
	if cfg.Lock.Timeout != 10*time.Second {
		t.Errorf("Lock.Timeout = %v, want 10s", cfg.Lock.Timeout)
	}
	if cfg.Write.Attempts != 3 {
		t.Errorf("Write.Attempts = %d, want 3", cfg.Write.Attempts)
	}
	if cfg.Write.RetryDelay != time.Second {
		t.Errorf("Write.RetryDelay = %v, want 1s", cfg.Write.RetryDelay)
	}
	if !cfg.Write.Backup {
		t.Error("Write.Backup should be true by default")
	}
	if cfg.Backup.Keep != 0 {
		t.Errorf("Backup.Keep = %d, want 0", cfg.Backup.Keep)
	}
	if cfg.Output.Format != "json" {
		t.Errorf("Output.Format = %q, want json", cfg.Output.Format)
	}
}

func TestLoadFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("store.base_dir", "/srv/portal/data")
	viper.Set("lock.timeout", "3s")
	viper.Set("write.attempts", 5)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.BaseDir != "/srv/portal/data" {
		t.Errorf("Store.BaseDir = %q", cfg.Store.BaseDir)
	}
	if cfg.Lock.Timeout != 3*time.Second {
		t.Errorf("Lock.Timeout = %v, want 3s", cfg.Lock.Timeout)
	}
	if cfg.Write.Attempts != 5 {
		t.Errorf("Write.Attempts = %d, want 5", cfg.Write.Attempts)
	}
	if cfg.Lock.PollInterval != 25*time.Millisecond {
		t.Errorf("Lock.PollInterval = %v, want default 25ms", cfg.Lock.PollInterval)
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `store:
  base_dir: /var/www/html/portal/config
  file_mode: "0664"
lock:
  timeout: 2s
backup:
  keep: 20
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	SetDefaults()
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.FileMode != "0664" {
		t.Errorf("Store.FileMode = %q, want 0664", cfg.Store.FileMode)
	}
	if cfg.Backup.Keep != 20 {
		t.Errorf("Backup.Keep = %d, want 20", cfg.Backup.Keep)
	}
	if cfg.Lock.Timeout != 2*time.Second {
		t.Errorf("Lock.Timeout = %v, want 2s", cfg.Lock.Timeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("write.attempts", 0)

	_, err := Load()
	if err == nil {
		t.Fatal("Load should fail for write.attempts = 0")
	}
	if _, ok := err.(ValidationErrors); !ok {
		t.Errorf("error type = %T, want ValidationErrors", err)
	}
}

func TestStoreConfigPaths(t *testing.T) {
	t.Run("relative backup dir joins base", func(t *testing.T) {
		s := StoreConfig{BackupDir: "backups"}
		if got := s.ResolveBackupDir("/data"); got != filepath.Join("/data", "backups") {
			t.Errorf("ResolveBackupDir = %q", got)
		}
	})

	t.Run("absolute backup dir is kept", func(t *testing.T) {
		s := StoreConfig{BackupDir: "/var/backups/portal"}
		if got := s.ResolveBackupDir("/data"); got != "/var/backups/portal" {
			t.Errorf("ResolveBackupDir = %q", got)
		}
	})

	t.Run("empty backup dir defaults", func(t *testing.T) {
		s := StoreConfig{}
		if got := s.ResolveBackupDir("/data"); got != filepath.Join("/data", "backups") {
			t.Errorf("ResolveBackupDir = %q", got)
		}
	})

	t.Run("home expansion", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		s := StoreConfig{BaseDir: "~/portal"}
		got, err := s.ResolveBaseDir()
		if err != nil {
			t.Fatalf("ResolveBaseDir: %v", err)
		}
		if got != filepath.Join(home, "portal") {
			t.Errorf("ResolveBaseDir = %q, want %q", got, filepath.Join(home, "portal"))
		}
	})

	t.Run("relative base dir becomes absolute", func(t *testing.T) {
		s := StoreConfig{BaseDir: "data"}
		got, err := s.ResolveBaseDir()
		if err != nil {
			t.Fatalf("ResolveBaseDir: %v", err)
		}
		if !filepath.IsAbs(got) {
			t.Errorf("ResolveBaseDir = %q, want absolute path", got)
		}
	})
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    os.FileMode
		wantErr bool
	}{
		{in: "0644", want: 0o644},
		{in: "644", want: 0o644},
		{in: "0o775", want: 0o775},
		{in: " 0600 ", want: 0o600},
		{in: "0999", wantErr: true},
		{in: "rw-r--r--", wantErr: true},
		{in: "1777", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMode(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseMode(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMode(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseMode(%q) = %#o, want %#o", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultBaseDir(); got != "/custom/data/portaldocs" {
		t.Errorf("DefaultBaseDir() = %q", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/portaldocs" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/portaldocs")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "portaldocs")
		if got := ConfigDir(); got != expected {
			t.Errorf("ConfigDir() = %q, want %q", got, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/portaldocs/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}
