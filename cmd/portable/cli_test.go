package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BadgerOps/portable/internal/config"
	"github.com/BadgerOps/portable/internal/store"
)

// setupTestComponents wires every manager against an in-memory store and
// restores the globals afterwards.
func setupTestComponents(t *testing.T) {
	t.Helper()
	restoreGlobals(t)

	cfg := config.DefaultConfig()
	cfg.Store.Driver = "memory"
	cfg.Server.DataDir = t.TempDir()
	globalCfg = cfg
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	tenantID = "acme"
	outputJSON = false

	if err := initializeComponents(); err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}

}

// restoreGlobals shuts down whatever the test initialized and puts the
// package globals back afterwards.
func restoreGlobals(t *testing.T) {
	t.Helper()

	origCfg, origLogger, origTenant, origJSON := globalCfg, logger, tenantID, outputJSON
	origCfgPath, origDataDir, origLevel, origQuiet := cfgPath, dataDir, logLevel, quiet
	origStore, origProviders, origCatalog := globalStore, globalProviders, globalCatalog
	origExports, origAirGap, origPlanner, origStats := globalExports, globalAirGap, globalPlanner, globalStats
	origDefault := slog.Default()

	t.Cleanup(func() {
		shutdownComponents()
		globalCfg, logger, tenantID, outputJSON = origCfg, origLogger, origTenant, origJSON
		cfgPath, dataDir, logLevel, quiet = origCfgPath, origDataDir, origLevel, origQuiet
		globalStore, globalProviders, globalCatalog = origStore, origProviders, origCatalog
		globalExports, globalAirGap, globalPlanner, globalStats = origExports, origAirGap, origPlanner, origStats
		slog.SetDefault(origDefault)
	})
}

func TestProvidersListRun(t *testing.T) {
	setupTestComponents(t)

	out := captureStdout(t, func() {
		if err := providersListRun(nil, nil); err != nil {
			t.Fatalf("providersListRun returned error: %v", err)
		}
	})

	for _, want := range []string{"aws", "hetzner", "air-gapped", "2450.00 USD"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestProvidersGetUnknown(t *testing.T) {
	setupTestComponents(t)

	if err := providersGetRun(nil, []string{"ibm"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestProvidersCompareRun(t *testing.T) {
	setupTestComponents(t)

	out := captureStdout(t, func() {
		if err := providersCompareRun(nil, []string{"aws", "hetzner"}); err != nil {
			t.Fatalf("providersCompareRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Recommendation:") {
		t.Fatalf("expected recommendation in output, got: %s", out)
	}
}

func TestExportCreateAndList(t *testing.T) {
	setupTestComponents(t)

	// flag definition resets the bound variables, so build the command first
	cmd := newExportCreateCmd()
	exportPlatformID, exportPlatformName, exportPlatformVersion = "p1", "shop", "1.4.0"
	exportFormat, exportProvider, exportNetworkMode = "docker", "aws", "online"
	exportEncryption, exportCompression, exportSplitSize = "none", "gzip", ""
	exportIncludeSecrets = false
	exportWait = true

	out := captureStdout(t, func() {
		if err := exportCreateRun(cmd, nil); err != nil {
			t.Fatalf("exportCreateRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Status: completed") {
		t.Fatalf("expected completed export, got: %s", out)
	}
	if !strings.Contains(out, "Checksum: sha256:") {
		t.Fatalf("expected checksum in output, got: %s", out)
	}

	outputJSON = true
	out = captureStdout(t, func() {
		if err := exportListRun(nil, nil); err != nil {
			t.Fatalf("exportListRun returned error: %v", err)
		}
	})
	var exports []*store.ExportPackage
	if err := json.Unmarshal([]byte(out), &exports); err != nil {
		t.Fatalf("decoding list output: %v\n%s", err, out)
	}
	if len(exports) != 1 || exports[0].Status != store.ExportCompleted {
		t.Fatalf("unexpected exports: %+v", exports)
	}
}

func TestExportCreateRejectsSecretsWithoutEncryption(t *testing.T) {
	setupTestComponents(t)

	cmd := newExportCreateCmd()
	exportPlatformID, exportPlatformName, exportPlatformVersion = "p1", "shop", "1.4.0"
	exportFormat, exportProvider, exportNetworkMode = "helm", "gcp", "online"
	exportEncryption, exportCompression, exportSplitSize = "none", "", ""
	exportIncludeSecrets = true
	t.Cleanup(func() { exportIncludeSecrets = false })

	err := exportCreateRun(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "include_secrets requires encryption") {
		t.Fatalf("expected secrets validation error, got %v", err)
	}
}

func TestAirGapLifecycle(t *testing.T) {
	setupTestComponents(t)

	airgapPlatformID, airgapMode, airgapSecurityLevel = "p1", "full", ""
	airgapFrequency, airgapDirection, airgapDataTypes, airgapNoSchedule = "", "pull", nil, false
	airgapRetention = 0

	outputJSON = true
	out := captureStdout(t, func() {
		if err := airgapCreateRun(nil, nil); err != nil {
			t.Fatalf("airgapCreateRun returned error: %v", err)
		}
	})
	var cfg store.AirGappedConfig
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decoding create output: %v\n%s", err, out)
	}
	if cfg.SyncSchedule == nil || cfg.SyncSchedule.Frequency != globalCfg.AirGap.DefaultSyncFrequency {
		t.Fatalf("expected default frequency schedule, got %+v", cfg.SyncSchedule)
	}

	outputJSON = false
	out = captureStdout(t, func() {
		if err := airgapToggleRun(cfg.ID, true); err != nil {
			t.Fatalf("enable: %v", err)
		}
	})
	if !strings.Contains(out, "enabled") {
		t.Fatalf("expected enabled, got: %s", out)
	}

	out = captureStdout(t, func() {
		if err := airgapSyncRun(nil, []string{cfg.ID}); err != nil {
			t.Fatalf("sync: %v", err)
		}
	})
	if !strings.Contains(out, "Synced 6 items") {
		t.Fatalf("expected all six services synced, got: %s", out)
	}
}

func TestMigrateFlow(t *testing.T) {
	setupTestComponents(t)

	migratePlatformID, migrateFrom, migrateTo = "p1", "hetzner", "gcp"
	outputJSON = true
	out := captureStdout(t, func() {
		if err := migrateCreateRun(nil, nil); err != nil {
			t.Fatalf("migrateCreateRun returned error: %v", err)
		}
	})
	var plan store.MigrationPlan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decoding plan: %v\n%s", err, out)
	}
	if plan.RiskLevel != store.RiskMedium {
		t.Errorf("risk = %s, want medium", plan.RiskLevel)
	}

	outputJSON = false
	if err := migrateProgressRun(nil, []string{plan.ID, "1", "completed"}); err == nil {
		t.Fatal("expected progress on a draft plan to fail")
	}
	if err := migrateProgressRun(nil, []string{plan.ID, "one", "completed"}); err == nil {
		t.Fatal("expected bad step number to fail")
	}

	out = captureStdout(t, func() {
		if err := statsRun(nil, nil); err != nil {
			t.Fatalf("statsRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Migration plans: 1") || !strings.Contains(out, "draft") {
		t.Fatalf("unexpected stats output: %s", out)
	}
}

// TestExecuteReleasesComponentsOnError verifies a failing command still stops
// its pipelines and closes the store, so no export is left mid-flight.
func TestExecuteReleasesComponentsOnError(t *testing.T) {
	restoreGlobals(t)
	dir := t.TempDir()
	cfgPath = ""

	err := execute([]string{
		"export", "create",
		"--data-dir", dir, "--tenant", "acme", "--log-level", "error",
		"--platform-id", "p1", "--name", "shop", "--platform-version", "1.4.0",
		"--format", "docker", "--provider", "aws",
		"--timeout", "1ns",
	})
	if err == nil {
		t.Fatal("expected the wait timeout to fail the command")
	}
	if globalStore != nil || globalExports != nil {
		t.Fatal("components still open after a failed command")
	}

	st, err := store.New(filepath.Join(dir, "portable.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer st.Close()

	exports, err := st.ListExports(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(exports) != 1 {
		t.Fatalf("expected one export, got %d", len(exports))
	}
	if !exports[0].Status.Terminal() {
		t.Fatalf("export left in %s after the command exited", exports[0].Status)
	}
}

func TestRequireTenant(t *testing.T) {
	orig := tenantID
	t.Cleanup(func() { tenantID = orig })

	tenantID = " "
	if _, err := requireTenant(); err == nil {
		t.Fatal("expected error for blank tenant")
	}
	tenantID = "acme"
	if got, err := requireTenant(); err != nil || got != "acme" {
		t.Fatalf("requireTenant() = %q, %v", got, err)
	}
}

func TestConfigShowRun(t *testing.T) {
	orig := globalCfg
	globalCfg = config.DefaultConfig()
	t.Cleanup(func() { globalCfg = orig })

	out := captureStdout(t, func() {
		if err := configShowRun(nil, nil); err != nil {
			t.Fatalf("configShowRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "scheduler_cron") {
		t.Fatalf("expected airgap settings in output, got: %s", out)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan []byte)
	go func() {
		data, _ := io.ReadAll(r)
		done <- data
	}()

	fn()

	_ = w.Close()
	data := <-done
	_ = r.Close()
	return string(data)
}
