package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/portable/internal/airgap"
	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/config"
	"github.com/BadgerOps/portable/internal/engine"
	"github.com/BadgerOps/portable/internal/migration"
	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/stats"
	"github.com/BadgerOps/portable/internal/store"
)

const version = "0.1.0"

var (
	// Global flags
	cfgPath    string
	dataDir    string
	tenantID   string
	logLevel   string
	logFormat  string
	quiet      bool
	outputJSON bool
	globalCfg  *config.Config
	logger     *slog.Logger

	// Global components
	globalStore     store.Backend
	globalProviders *provider.Registry
	globalCatalog   *catalog.Catalog
	globalExports   *engine.Manager
	globalAirGap    *airgap.Manager
	globalPlanner   *migration.Planner
	globalStats     *stats.Aggregator
)

// initializeComponents opens the store and builds every manager from globalCfg
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	providers, err := loadProviders(globalCfg.Catalog.ProvidersFile)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(globalCfg.Catalog.FormatsFile)
	if err != nil {
		return err
	}
	services, err := loadServices(globalCfg.Catalog.ServicesFile)
	if err != nil {
		return err
	}

	if globalCfg.Store.Driver == "sqlite" {
		if err := os.MkdirAll(globalCfg.Server.DataDir, 0o750); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
	}
	st, err := store.Open(globalCfg.Store.Driver, globalCfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	opts, err := engine.OptionsFromConfig(globalCfg)
	if err != nil {
		st.Close()
		return err
	}
	keyring := engine.NewKeyring(
		engine.FileKeySource(globalCfg.Export.KeyFile),
		engine.EnvKeySource(globalCfg.Export.KeyEnv),
	)

	globalStore = st
	globalProviders = providers
	globalCatalog = cat
	globalExports = engine.NewManager(st, providers, cat, keyring, opts, logger)
	globalAirGap = airgap.NewManager(st, services, airgap.Options{
		DefaultDataRetention: globalCfg.AirGap.DefaultDataRetention,
	}, logger)
	globalPlanner = migration.NewPlanner(st, providers, logger)
	globalStats = stats.New(st, st, st, providers)

	logger.Debug("components initialized", "store", globalCfg.Store.Driver, "db", globalCfg.DBPath())
	return nil
}

func loadProviders(path string) (*provider.Registry, error) {
	if path == "" {
		return provider.DefaultRegistry(), nil
	}
	return provider.LoadRegistry(path)
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

func loadServices(path string) (*airgap.ServiceCatalog, error) {
	if path == "" {
		return airgap.DefaultServices(), nil
	}
	return airgap.LoadServices(path)
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"show":    true,
	}
	return skipInitCmds[cmdName]
}

// shutdownComponents stops running pipelines and closes the store. Safe to
// call more than once.
func shutdownComponents() {
	if globalExports != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := globalExports.Shutdown(ctx); err != nil {
			logger.Error("failed to stop export pipelines", "error", err)
		}
		globalExports = nil
	}
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// execute runs the root command with args and releases components on every
// path. cobra skips post-run hooks when RunE fails.
func execute(args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	defer shutdownComponents()
	return cmd.Execute()
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portable",
		Short: "Export, air-gap and migrate platforms across cloud providers",
		Long: `portable packages a platform into a provider-neutral export, runs it
disconnected behind local stand-in services, and plans migrations between
cloud and on-premise providers.`,
		Example: `  portable providers compare aws gcp hetzner
  portable export create --tenant acme --platform-id p1 --name shop --platform-version 1.4.0 --format kubernetes --provider on-premise --network-mode air-gapped
  portable airgap create --tenant acme --platform-id p1 --mode full --frequency daily
  portable migrate create --tenant acme --platform-id p1 --from aws --to hetzner
  portable serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if dataDir != "" {
				globalCfg.Server.DataDir = dataDir
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "data_dir", globalCfg.Server.DataDir)
			}

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&tenantID, "tenant", os.Getenv("PORTABLE_TENANT"), "tenant ID (default $PORTABLE_TENANT)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")

	cmd.AddCommand(
		newExportCmd(),
		newProvidersCmd(),
		newAirGapCmd(),
		newMigrateCmd(),
		newStatsCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// requireTenant returns the --tenant flag or an error naming the flag.
func requireTenant() (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("--tenant is required (or set PORTABLE_TENANT)")
	}
	return tenantID, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
