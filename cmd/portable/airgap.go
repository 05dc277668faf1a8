package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/portable/internal/airgap"
	"github.com/BadgerOps/portable/internal/store"
)

var (
	airgapPlatformID    string
	airgapMode          string
	airgapSecurityLevel string
	airgapRetention     int
	airgapFrequency     string
	airgapDirection     string
	airgapDataTypes     []string
	airgapNoSchedule    bool
)

func newAirGapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "airgap",
		Short: "Manage air-gapped operation of a platform",
		Long: `An air-gapped configuration replaces a platform's cloud dependencies with
local services (inference, identity, object storage, DNS, time, content cache)
and schedules data exchange with the connected side.`,
	}

	cmd.AddCommand(
		newAirGapCreateCmd(),
		newAirGapToggleCmd("enable", "Start every local service"),
		newAirGapToggleCmd("disable", "Stop every local service"),
		newAirGapSyncCmd(),
		newAirGapGetCmd(),
		newAirGapListCmd(),
	)
	return cmd
}

func newAirGapCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an air-gapped configuration (all services stopped)",
		Example: `  portable airgap create --tenant acme --platform-id p1 --mode full
  portable airgap create --tenant acme --platform-id p1 --mode hybrid --frequency weekly --direction bidirectional --data-types models,objects`,
		RunE: airgapCreateRun,
	}

	cmd.Flags().StringVar(&airgapPlatformID, "platform-id", "", "platform ID (required)")
	cmd.Flags().StringVar(&airgapMode, "mode", string(store.AirGapFull), "air-gap mode (full, partial, hybrid)")
	cmd.Flags().StringVar(&airgapSecurityLevel, "security-level", "", "security level (standard, high, maximum)")
	cmd.Flags().IntVar(&airgapRetention, "data-retention", 0, "days to retain synced data (default from config)")
	cmd.Flags().StringVar(&airgapFrequency, "frequency", "", "sync frequency: hourly, daily, weekly, monthly or a cron spec (default from config)")
	cmd.Flags().StringVar(&airgapDirection, "direction", string(store.SyncPull), "sync direction (pull, push, bidirectional)")
	cmd.Flags().StringSliceVar(&airgapDataTypes, "data-types", nil, "data types to sync (default all)")
	cmd.Flags().BoolVar(&airgapNoSchedule, "no-schedule", false, "create without a sync schedule")

	if err := cmd.MarkFlagRequired("platform-id"); err != nil {
		panic(err)
	}
	return cmd
}

func airgapCreateRun(cmd *cobra.Command, args []string) error {
	if globalAirGap == nil {
		return fmt.Errorf("air-gap manager not initialized")
	}
	tenant, err := requireTenant()
	if err != nil {
		return err
	}

	in := airgap.CreateInput{
		PlatformID:    airgapPlatformID,
		Mode:          store.AirGapMode(airgapMode),
		SecurityLevel: store.SecurityLevel(airgapSecurityLevel),
		DataRetention: airgapRetention,
	}
	if !airgapNoSchedule {
		freq := airgapFrequency
		if freq == "" && globalCfg != nil {
			freq = globalCfg.AirGap.DefaultSyncFrequency
		}
		in.SyncSchedule = &airgap.ScheduleInput{
			Frequency: freq,
			Direction: store.SyncDirection(airgapDirection),
			DataTypes: airgapDataTypes,
		}
	}

	cfg, err := globalAirGap.Create(context.Background(), tenant, in)
	if err != nil {
		return fmt.Errorf("creating air-gapped config: %w", err)
	}
	if outputJSON {
		return printJSON(cfg)
	}
	printAirGapConfig(cfg)
	return nil
}

func newAirGapToggleCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return airgapToggleRun(args[0], verb == "enable")
		},
	}
}

func airgapToggleRun(id string, enable bool) error {
	if globalAirGap == nil {
		return fmt.Errorf("air-gap manager not initialized")
	}
	var (
		cfg *store.AirGappedConfig
		err error
	)
	if enable {
		cfg, err = globalAirGap.Enable(context.Background(), id)
	} else {
		cfg, err = globalAirGap.Disable(context.Background(), id)
	}
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cfg)
	}
	fmt.Printf("Air-gapped config %s is %s\n", cfg.ID, cfg.Status())
	return nil
}

func newAirGapSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync ID",
		Short: "Run a synchronization now",
		Args:  cobra.ExactArgs(1),
		RunE:  airgapSyncRun,
	}
}

func airgapSyncRun(cmd *cobra.Command, args []string) error {
	if globalAirGap == nil {
		return fmt.Errorf("air-gap manager not initialized")
	}
	res, err := globalAirGap.Sync(context.Background(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}
	fmt.Printf("Synced %d items for %s at %s\n", res.ItemsSynced, res.ConfigID, formatTime(&res.SyncedAt))
	if res.NextSync != nil {
		fmt.Printf("Next sync: %s\n", formatTime(res.NextSync))
	}
	return nil
}

func newAirGapGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show an air-gapped configuration",
		Args:  cobra.ExactArgs(1),
		RunE:  airgapGetRun,
	}
}

func airgapGetRun(cmd *cobra.Command, args []string) error {
	if globalAirGap == nil {
		return fmt.Errorf("air-gap manager not initialized")
	}
	cfg, err := globalAirGap.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cfg)
	}
	printAirGapConfig(cfg)
	return nil
}

func newAirGapListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a tenant's air-gapped configurations",
		RunE:    airgapListRun,
	}
}

func airgapListRun(cmd *cobra.Command, args []string) error {
	if globalAirGap == nil {
		return fmt.Errorf("air-gap manager not initialized")
	}
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	configs, err := globalAirGap.List(context.Background(), tenant)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(configs)
	}
	if len(configs) == 0 {
		fmt.Println("No air-gapped configurations found.")
		return nil
	}

	fmt.Println("Air-Gapped Configurations")
	fmt.Println("=========================")
	fmt.Println("")
	fmt.Printf("%-36s %-16s %-8s %-9s %6s %s\n", "ID", "Platform", "Mode", "Status", "Syncs", "Last Sync")
	fmt.Println(strings.Repeat("-", 100))
	for _, c := range configs {
		fmt.Printf("%-36s %-16s %-8s %-9s %6d %s\n",
			c.ID, c.PlatformID, c.Mode, c.Status(), c.SyncCount, formatTime(c.LastSyncAt))
	}
	fmt.Println("")
	return nil
}

func printAirGapConfig(c *store.AirGappedConfig) {
	fmt.Printf("Air-gapped config %s\n", c.ID)
	fmt.Printf("  Tenant: %s\n", c.TenantID)
	fmt.Printf("  Platform: %s\n", c.PlatformID)
	fmt.Printf("  Mode: %s\n", c.Mode)
	fmt.Printf("  Security level: %s\n", c.SecurityLevel)
	fmt.Printf("  Data retention: %d days\n", c.DataRetention)
	fmt.Printf("  Status: %s\n", c.Status())
	fmt.Println("  Services:")
	for _, s := range c.Services {
		fmt.Printf("    %-16s %-8s port %-5d replaces %s\n", s.Name, s.Status, s.Port, s.Replaces)
	}
	if s := c.SyncSchedule; s != nil {
		fmt.Printf("  Sync: %s, %s, data types %s\n", s.Frequency, s.Direction, strings.Join(s.DataTypes, ","))
		fmt.Printf("  Next sync: %s\n", formatTime(s.NextSync))
	}
	fmt.Printf("  Last sync: %s (%d total)\n", formatTime(c.LastSyncAt), c.SyncCount)
}
