package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/engine"
	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/store"
)

var (
	exportPlatformID      string
	exportPlatformName    string
	exportPlatformVersion string
	exportFormat          string
	exportProvider        string
	exportNetworkMode     string
	exportIncludeData     bool
	exportIncludeSecrets  bool
	exportIncludeLogs     bool
	exportCompression     string
	exportEncryption      string
	exportSplitSize       string
	exportWait            bool
	exportTimeout         time.Duration
	exportCancelReason    string
	exportUnpackTo        string
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Create and inspect platform export packages",
		Long: `Export packages bundle a platform's components, the dependencies it needs
for the chosen network mode, and a deployment descriptor for the chosen format
into a compressed, optionally encrypted and split artifact.`,
	}

	cmd.AddCommand(
		newExportCreateCmd(),
		newExportGetCmd(),
		newExportListCmd(),
		newExportCancelCmd(),
		newExportVerifyCmd(),
		newExportUnpackCmd(),
	)
	return cmd
}

func newExportCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an export package",
		Long: `Create an export package and run its pipeline. The command waits for the
pipeline to finish by default; exports still running when the command exits
are marked failed, so only pass --wait=false against a long-running
"portable serve" sharing the same store.`,
		Example: `  portable export create --tenant acme --platform-id p1 --name shop --platform-version 1.4.0 --format docker --provider aws
  portable export create --tenant acme --platform-id p1 --name shop --platform-version 1.4.0 \
      --format kubernetes --provider air-gapped --network-mode air-gapped \
      --include-secrets --encryption aes-256-gcm --split-size 4GB`,
		RunE: exportCreateRun,
	}

	cmd.Flags().StringVar(&exportPlatformID, "platform-id", "", "platform ID (required)")
	cmd.Flags().StringVar(&exportPlatformName, "name", "", "platform name (required)")
	cmd.Flags().StringVar(&exportPlatformVersion, "platform-version", "", "platform version (required)")
	cmd.Flags().StringVar(&exportFormat, "format", "", "export format (docker, kubernetes, helm, terraform, ansible)")
	cmd.Flags().StringVar(&exportProvider, "provider", "", "target provider type")
	cmd.Flags().StringVar(&exportNetworkMode, "network-mode", string(catalog.NetworkOnline), "network mode (online, offline, air-gapped)")
	cmd.Flags().BoolVar(&exportIncludeData, "include-data", false, "include platform data")
	cmd.Flags().BoolVar(&exportIncludeSecrets, "include-secrets", false, "include secrets (requires --encryption)")
	cmd.Flags().BoolVar(&exportIncludeLogs, "include-logs", false, "include logs")
	cmd.Flags().StringVar(&exportCompression, "compression", "", "compression (none, gzip, zstd, xz); default from config")
	cmd.Flags().StringVar(&exportEncryption, "encryption", "none", "encryption (none, aes-256-gcm, chacha20-poly1305)")
	cmd.Flags().StringVar(&exportSplitSize, "split-size", "", "split the artifact into parts of this size, e.g. 4GB")
	cmd.Flags().BoolVar(&exportWait, "wait", true, "wait for the pipeline to finish")
	cmd.Flags().DurationVar(&exportTimeout, "timeout", 0, "give up waiting after this long (0 waits until the pipeline ends)")

	for _, f := range []string{"platform-id", "name", "platform-version", "format", "provider"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func exportCreateRun(cmd *cobra.Command, args []string) error {
	if globalExports == nil {
		return fmt.Errorf("export manager not initialized")
	}
	tenant, err := requireTenant()
	if err != nil {
		return err
	}

	var split int64
	if exportSplitSize != "" {
		n, err := humanize.ParseBytes(exportSplitSize)
		if err != nil {
			return fmt.Errorf("invalid split size %q: %w", exportSplitSize, err)
		}
		split = int64(n)
	}

	req := engine.ExportRequest{
		PlatformID:      exportPlatformID,
		PlatformName:    exportPlatformName,
		PlatformVersion: exportPlatformVersion,
		Format:          catalog.Format(exportFormat),
		TargetProvider:  provider.Type(exportProvider),
		NetworkMode:     catalog.NetworkMode(exportNetworkMode),
		Configuration: store.ExportConfiguration{
			IncludeData:    exportIncludeData,
			IncludeSecrets: exportIncludeSecrets,
			IncludeLogs:    exportIncludeLogs,
			Compression:    store.Compression(exportCompression),
			Encryption:     store.EncryptionAlgorithm(exportEncryption),
			SplitSize:      split,
		},
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	exp, err := globalExports.Create(ctx, tenant, req)
	if err != nil {
		return fmt.Errorf("creating export: %w", err)
	}

	if exportWait {
		waitCtx := ctx
		if exportTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, exportTimeout)
			defer cancel()
		}
		id := exp.ID
		exp, err = globalExports.Wait(waitCtx, id)
		if err != nil {
			return fmt.Errorf("waiting for export %s: %w", id, err)
		}
	}

	if outputJSON {
		return printJSON(exp)
	}
	printExport(exp)
	if exp.Status == store.ExportFailed {
		return fmt.Errorf("export %s failed: %s", exp.ID, exp.Error)
	}
	return nil
}

func newExportGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show an export package",
		Args:  cobra.ExactArgs(1),
		RunE:  exportGetRun,
	}
}

func exportGetRun(cmd *cobra.Command, args []string) error {
	if globalExports == nil {
		return fmt.Errorf("export manager not initialized")
	}
	exp, err := globalExports.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("getting export: %w", err)
	}
	if outputJSON {
		return printJSON(exp)
	}
	printExport(exp)
	return nil
}

func newExportListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a tenant's export packages, newest first",
		RunE:    exportListRun,
	}
}

func exportListRun(cmd *cobra.Command, args []string) error {
	if globalExports == nil {
		return fmt.Errorf("export manager not initialized")
	}
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	exports, err := globalExports.List(context.Background(), tenant)
	if err != nil {
		return fmt.Errorf("listing exports: %w", err)
	}
	if outputJSON {
		return printJSON(exports)
	}
	if len(exports) == 0 {
		fmt.Println("No exports found.")
		return nil
	}

	fmt.Println("Exports")
	fmt.Println("=======")
	fmt.Println("")
	fmt.Printf("%-36s %-11s %-12s %-12s %10s %s\n", "ID", "Format", "Provider", "Status", "Size", "Created")
	fmt.Println(strings.Repeat("-", 110))
	for _, e := range exports {
		fmt.Printf("%-36s %-11s %-12s %-12s %10s %s\n",
			e.ID, e.Format, e.TargetProvider, e.Status, formatBytes(e.Size), formatTime(&e.CreatedAt))
	}
	fmt.Println("")
	return nil
}

func newExportCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running export",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCancelRun,
	}
	cmd.Flags().StringVar(&exportCancelReason, "reason", "", "reason recorded on the export")
	return cmd
}

func exportCancelRun(cmd *cobra.Command, args []string) error {
	if globalExports == nil {
		return fmt.Errorf("export manager not initialized")
	}
	exp, err := globalExports.Cancel(context.Background(), args[0], exportCancelReason)
	if err != nil {
		return fmt.Errorf("cancelling export: %w", err)
	}
	if outputJSON {
		return printJSON(exp)
	}
	fmt.Printf("Export %s cancelled: %s\n", exp.ID, exp.Error)
	return nil
}

func newExportVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify ID",
		Short: "Verify a completed export's artifact against its checksums",
		Args:  cobra.ExactArgs(1),
		RunE:  exportVerifyRun,
	}
}

func exportVerifyRun(cmd *cobra.Command, args []string) error {
	if globalExports == nil {
		return fmt.Errorf("export manager not initialized")
	}
	report, err := globalExports.Verify(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("verifying export: %w", err)
	}
	if outputJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("Verification of %s:\n", args[0])
		fmt.Printf("  Parts checked: %d\n", report.PartsChecked)
		fmt.Printf("  Parts failed: %d\n", report.PartsFailed)
		fmt.Printf("  Checksum: %s\n", report.Checksum)
		for _, e := range report.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	if !report.OK() {
		return fmt.Errorf("artifact for export %s failed verification", args[0])
	}
	return nil
}

func newExportUnpackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpack ID",
		Short: "Verify, decrypt and extract a completed export",
		Args:  cobra.ExactArgs(1),
		RunE:  exportUnpackRun,
	}
	cmd.Flags().StringVar(&exportUnpackTo, "to", "", "destination directory (required)")
	if err := cmd.MarkFlagRequired("to"); err != nil {
		panic(err)
	}
	return cmd
}

func exportUnpackRun(cmd *cobra.Command, args []string) error {
	if globalExports == nil {
		return fmt.Errorf("export manager not initialized")
	}
	report, err := globalExports.Unpack(context.Background(), args[0], exportUnpackTo)
	if err != nil {
		return fmt.Errorf("unpacking export: %w", err)
	}
	if outputJSON {
		return printJSON(report)
	}
	fmt.Printf("Unpacked %d files (%s) to %s\n", report.FilesExtracted, formatBytes(report.TotalSize), exportUnpackTo)
	return nil
}

func printExport(e *store.ExportPackage) {
	fmt.Printf("Export %s\n", e.ID)
	fmt.Printf("  Tenant: %s\n", e.TenantID)
	fmt.Printf("  Platform: %s %s (%s)\n", e.PlatformName, e.PlatformVersion, e.PlatformID)
	fmt.Printf("  Format: %s\n", e.Format)
	fmt.Printf("  Provider: %s\n", e.TargetProvider)
	fmt.Printf("  Network mode: %s\n", e.NetworkMode)
	fmt.Printf("  Status: %s\n", e.Status)
	fmt.Printf("  Components: %d\n", len(e.Components))
	fmt.Printf("  Dependencies: %d\n", len(e.Dependencies))
	fmt.Printf("  Compression: %s\n", e.Configuration.Compression)
	if e.Security.EncryptionEnabled {
		fmt.Printf("  Encryption: %s (key %s)\n", e.Security.Algorithm, e.Security.KeyID)
	}
	if e.Size > 0 {
		fmt.Printf("  Size: %s\n", formatBytes(e.Size))
	}
	if e.Checksum != "" {
		fmt.Printf("  Checksum: %s\n", e.Checksum)
	}
	if e.DownloadURL != "" {
		fmt.Printf("  Download: %s\n", e.DownloadURL)
		fmt.Printf("  Expires: %s\n", formatTime(e.ExpiresAt))
	}
	if e.Error != "" {
		fmt.Printf("  Error: %s\n", e.Error)
	}
}

// formatBytes formats a byte count into human-readable format
func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
