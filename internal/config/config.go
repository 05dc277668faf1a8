package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Export  ExportConfig  `yaml:"export"`
	AirGap  AirGapConfig  `yaml:"airgap"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// ServerConfig holds settings for the serve daemon
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
}

// StoreConfig selects the repository backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DBPath string `yaml:"db_path"`
}

// ExportConfig holds export pipeline settings
type ExportConfig struct {
	OutputDir          string        `yaml:"output_dir"`
	DownloadBaseURL    string        `yaml:"download_base_url"`
	DefaultCompression string        `yaml:"default_compression"`
	DefaultSplitSize   string        `yaml:"default_split_size"`
	Expiry             time.Duration `yaml:"expiry"`
	MaxDuration        time.Duration `yaml:"max_duration"`
	StageTimeout       time.Duration `yaml:"stage_timeout"`
	MaxConcurrent      int           `yaml:"max_concurrent"`
	KeyFile            string        `yaml:"key_file"`
	KeyEnv             string        `yaml:"key_env"`
}

// AirGapConfig holds air-gapped manager settings
type AirGapConfig struct {
	SchedulerCron        string `yaml:"scheduler_cron"`
	DefaultSyncFrequency string `yaml:"default_sync_frequency"`
	DefaultDataRetention int    `yaml:"default_data_retention"`
}

// CatalogConfig points at optional catalog overrides. Empty paths use the
// catalogs compiled into the binary.
type CatalogConfig struct {
	ProvidersFile string `yaml:"providers_file"`
	FormatsFile   string `yaml:"formats_file"`
	ServicesFile  string `yaml:"services_file"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:  "0.0.0.0:9090",
			DataDir: "/var/lib/portable",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DBPath: "",
		},
		Export: ExportConfig{
			OutputDir:          "",
			DownloadBaseURL:    "",
			DefaultCompression: "zstd",
			DefaultSplitSize:   "",
			Expiry:             7 * 24 * time.Hour,
			MaxDuration:        30 * time.Minute,
			StageTimeout:       10 * time.Minute,
			MaxConcurrent:      4,
			KeyFile:            "",
			KeyEnv:             "PORTABLE_EXPORT_KEY",
		},
		AirGap: AirGapConfig{
			SchedulerCron:        "@every 1m",
			DefaultSyncFrequency: "daily",
			DefaultDataRetention: 90,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported store driver %q (want sqlite or memory)", c.Store.Driver)
	}
	if c.Export.MaxConcurrent < 0 {
		return fmt.Errorf("export.max_concurrent must not be negative")
	}
	if c.Export.MaxDuration < 0 || c.Export.StageTimeout < 0 || c.Export.Expiry < 0 {
		return fmt.Errorf("export durations must not be negative")
	}
	if _, err := c.SplitSizeBytes(); err != nil {
		return err
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"portable.yaml",
		"/etc/portable/portable.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "portable", "portable.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// DBPath returns the SQLite database path, defaulting under the data dir.
func (c *Config) DBPath() string {
	if c.Store.DBPath != "" {
		return c.Store.DBPath
	}
	return filepath.Join(c.Server.DataDir, "portable.db")
}

// ExportOutputDir returns the directory export artifacts are written to.
func (c *Config) ExportOutputDir() string {
	if c.Export.OutputDir != "" {
		return c.Export.OutputDir
	}
	return filepath.Join(c.Server.DataDir, "exports")
}

// SplitSizeBytes parses the default split size. An empty value means no split.
func (c *Config) SplitSizeBytes() (int64, error) {
	if c.Export.DefaultSplitSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Export.DefaultSplitSize)
	if err != nil {
		return 0, fmt.Errorf("invalid export.default_split_size %q: %w", c.Export.DefaultSplitSize, err)
	}
	return int64(n), nil
}
