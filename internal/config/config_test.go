package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"listen address", func(c *Config) string { return c.Server.Listen }, "0.0.0.0:9090"},
		{"data directory", func(c *Config) string { return c.Server.DataDir }, "/var/lib/portable"},
		{"store driver", func(c *Config) string { return c.Store.Driver }, "sqlite"},
		{"compression", func(c *Config) string { return c.Export.DefaultCompression }, "zstd"},
		{"key env", func(c *Config) string { return c.Export.KeyEnv }, "PORTABLE_EXPORT_KEY"},
		{"scheduler cron", func(c *Config) string { return c.AirGap.SchedulerCron }, "@every 1m"},
		{"db path", func(c *Config) string { return c.DBPath() }, "/var/lib/portable/portable.db"},
		{"output dir", func(c *Config) string { return c.ExportOutputDir() }, "/var/lib/portable/exports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.Export.Expiry != 7*24*time.Hour {
		t.Errorf("Export.Expiry = %v, want 168h", cfg.Export.Expiry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "portable.yaml")

	configContent := `
server:
  listen: "127.0.0.1:9999"
  data_dir: "/custom/data"
store:
  driver: memory
export:
  output_dir: "/exports"
  download_base_url: "https://downloads.example.com/exports"
  default_compression: xz
  default_split_size: "4GiB"
  expiry: 48h
  max_duration: 5m
  stage_timeout: 1m
  max_concurrent: 2
airgap:
  scheduler_cron: "@every 30s"
  default_data_retention: 30
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, "127.0.0.1:9999")
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.ExportOutputDir() != "/exports" {
		t.Errorf("ExportOutputDir() = %q, want /exports", cfg.ExportOutputDir())
	}
	if cfg.Export.Expiry != 48*time.Hour {
		t.Errorf("Export.Expiry = %v, want 48h", cfg.Export.Expiry)
	}
	if cfg.Export.MaxDuration != 5*time.Minute {
		t.Errorf("Export.MaxDuration = %v, want 5m", cfg.Export.MaxDuration)
	}
	if cfg.Export.MaxConcurrent != 2 {
		t.Errorf("Export.MaxConcurrent = %d, want 2", cfg.Export.MaxConcurrent)
	}
	split, err := cfg.SplitSizeBytes()
	if err != nil {
		t.Fatalf("SplitSizeBytes() error: %v", err)
	}
	if split != 4*1024*1024*1024 {
		t.Errorf("SplitSizeBytes() = %d, want 4GiB", split)
	}
	if cfg.AirGap.DefaultDataRetention != 30 {
		t.Errorf("AirGap.DefaultDataRetention = %d, want 30", cfg.AirGap.DefaultDataRetention)
	}
	// Unset keys keep their defaults.
	if cfg.Export.KeyEnv != "PORTABLE_EXPORT_KEY" {
		t.Errorf("Export.KeyEnv = %q, want default", cfg.Export.KeyEnv)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown driver", "store:\n  driver: postgres\n", "unsupported store driver"},
		{"bad split size", "export:\n  default_split_size: lots\n", "default_split_size"},
		{"negative workers", "export:\n  max_concurrent: -1\n", "max_concurrent"},
		{"invalid yaml", "server:\n  listen: [unclosed\n", "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "portable.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

func TestFindConfigFileInWorkingDir(t *testing.T) {
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})

	if err := os.WriteFile("portable.yaml", []byte("server:\n  listen: ':1'\n"), 0644); err != nil {
		t.Fatal(err)
	}

	path, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() error: %v", err)
	}
	if path != "portable.yaml" {
		t.Errorf("FindConfigFile() = %q, want portable.yaml", path)
	}
}
