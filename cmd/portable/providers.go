package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/portable/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect the provider catalog",
		Long: `Inspect the catalog of cloud and on-premise providers a platform can be
exported to or migrated between. Use "providers list" for an overview and
"providers compare" for a capability matrix with a recommendation.`,
		RunE: providersListRun,
	}

	cmd.AddCommand(
		newProvidersListCmd(),
		newProvidersGetCmd(),
		newProvidersCompareCmd(),
	)
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List catalog providers",
		Long:    "List every provider in catalog order with its monthly cost, migration complexity and offline support.",
		RunE:    providersListRun,
	}
}

func providersListRun(cmd *cobra.Command, args []string) error {
	if globalProviders == nil {
		return fmt.Errorf("provider registry not initialized")
	}

	list := globalProviders.List()
	if outputJSON {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No providers in catalog.")
		return nil
	}

	fmt.Println("Providers")
	fmt.Println("=========")
	fmt.Println("")
	fmt.Printf("%-14s %-28s %12s %-10s %-8s %s\n", "Type", "Name", "Monthly", "Migration", "Offline", "Capabilities")
	fmt.Println(strings.Repeat("-", 94))

	for _, p := range list {
		offline := "no"
		if p.OfflineSupport {
			offline = "yes"
		}
		fmt.Printf("%-14s %-28s %12s %-10s %-8s %d/%d\n",
			p.Type, p.Name, formatCost(p.Cost.Monthly, p.Cost.Currency),
			p.MigrationComplexity, offline, p.SupportedCount(), len(p.Capabilities))
	}
	fmt.Println("")
	return nil
}

func newProvidersGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get TYPE",
		Short: "Show one provider's capabilities, limitations and cost breakdown",
		Args:  cobra.ExactArgs(1),
		RunE:  providersGetRun,
	}
}

func providersGetRun(cmd *cobra.Command, args []string) error {
	if globalProviders == nil {
		return fmt.Errorf("provider registry not initialized")
	}
	p, err := globalProviders.Lookup(provider.Type(args[0]))
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(p)
	}

	fmt.Printf("%s (%s)\n", p.Name, p.Type)
	fmt.Printf("  Monthly cost: %s\n", formatCost(p.Cost.Monthly, p.Cost.Currency))
	for _, item := range p.Cost.Breakdown {
		fmt.Printf("    %-20s %s\n", item.Item, formatCost(item.Monthly, p.Cost.Currency))
	}
	fmt.Printf("  Migration complexity: %s\n", p.MigrationComplexity)
	fmt.Printf("  Offline support: %v\n", p.OfflineSupport)
	fmt.Println("  Capabilities:")
	for _, c := range p.Capabilities {
		switch {
		case c.Supported:
			fmt.Printf("    + %s\n", c.Name)
		case c.Alternative != "":
			fmt.Printf("    ~ %s (%s)\n", c.Name, c.Alternative)
		default:
			fmt.Printf("    - %s\n", c.Name)
		}
	}
	if len(p.Limitations) > 0 {
		fmt.Println("  Limitations:")
		for _, l := range p.Limitations {
			fmt.Printf("    - %s\n", l)
		}
	}
	if len(p.Certifications) > 0 {
		fmt.Printf("  Certifications: %s\n", strings.Join(p.Certifications, ", "))
	}
	return nil
}

func newProvidersCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "compare TYPE...",
		Short:   "Compare providers and recommend the best value",
		Example: `  portable providers compare aws azure gcp`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    providersCompareRun,
	}
}

func providersCompareRun(cmd *cobra.Command, args []string) error {
	if globalProviders == nil {
		return fmt.Errorf("provider registry not initialized")
	}
	types := make([]provider.Type, len(args))
	for i, a := range args {
		types[i] = provider.Type(strings.TrimSpace(a))
	}

	cmp, err := globalProviders.Compare(types)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmp)
	}

	fmt.Printf("%-24s", "Capability")
	for _, p := range cmp.Providers {
		fmt.Printf(" %-14s", p.Type)
	}
	fmt.Println("")
	fmt.Println(strings.Repeat("-", 24+15*len(cmp.Providers)))
	for _, row := range cmp.Matrix {
		fmt.Printf("%-24s", row.Capability)
		for _, p := range cmp.Providers {
			fmt.Printf(" %-14s", row.Values[p.Type])
		}
		fmt.Println("")
	}
	fmt.Println("")
	fmt.Printf("Recommendation: %s (%s)\n", cmp.Recommendation, cmp.RecommendationBy)
	return nil
}

func formatCost(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}
