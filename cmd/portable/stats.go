package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Short:   "Summarize a tenant's exports, air-gapped configs and migrations",
		Example: `  portable stats --tenant acme`,
		RunE:    statsRun,
	}
}

func statsRun(cmd *cobra.Command, args []string) error {
	if globalStats == nil {
		return fmt.Errorf("stats aggregator not initialized")
	}
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	s, err := globalStats.Get(context.Background(), tenant)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(s)
	}

	fmt.Printf("Tenant %s\n", s.TenantID)
	fmt.Println("==========")
	fmt.Println("")
	fmt.Printf("Exports: %d (completed size %s)\n", s.Exports.Total, formatBytes(s.Exports.CompletedBytes))
	printCounts(s.Exports.ByStatus)
	fmt.Printf("Air-gapped configs: %d (%d enabled, %d syncs, last %s)\n",
		s.AirGap.Total, s.AirGap.Enabled, s.AirGap.TotalSyncs, formatTime(s.AirGap.LastSyncAt))
	fmt.Printf("Migration plans: %d\n", s.Migrations.Total)
	printCounts(s.Migrations.ByStatus)
	fmt.Printf("Providers: %d (%d offline-capable)\n", s.Providers.Total, s.Providers.OfflineCapable)
	return nil
}

func printCounts[K ~string](counts map[K]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[K(k)])
	}
}
