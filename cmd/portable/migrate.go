package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/portable/internal/migration"
	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/store"
)

var (
	migratePlatformID string
	migrateFrom       string
	migrateTo         string
	migrateReason     string
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Plan and track provider migrations",
		Long: `A migration plan lists the ordered steps for moving a platform from one
provider to another, with duration, cost and risk estimates and a rollback
plan. Plans move draft -> approved -> in_progress -> completed or rolled_back.`,
	}

	cmd.AddCommand(
		newMigrateCreateCmd(),
		newMigrateTransitionCmd("approve", "Approve a draft plan", func(ctx context.Context, id string) (*store.MigrationPlan, error) {
			return globalPlanner.Approve(ctx, id)
		}),
		newMigrateTransitionCmd("start", "Start an approved plan", func(ctx context.Context, id string) (*store.MigrationPlan, error) {
			return globalPlanner.Start(ctx, id)
		}),
		newMigrateProgressCmd(),
		newMigrateTransitionCmd("complete", "Complete a plan whose steps are all completed", func(ctx context.Context, id string) (*store.MigrationPlan, error) {
			return globalPlanner.Complete(ctx, id)
		}),
		newMigrateRollbackCmd(),
		newMigrateGetCmd(),
		newMigrateListCmd(),
	)
	return cmd
}

func newMigrateCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a draft migration plan",
		Example: `  portable migrate create --tenant acme --platform-id p1 --from aws --to hetzner`,
		RunE:    migrateCreateRun,
	}
	cmd.Flags().StringVar(&migratePlatformID, "platform-id", "", "platform ID (required)")
	cmd.Flags().StringVar(&migrateFrom, "from", "", "source provider type (required)")
	cmd.Flags().StringVar(&migrateTo, "to", "", "target provider type (required)")
	for _, f := range []string{"platform-id", "from", "to"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func migrateCreateRun(cmd *cobra.Command, args []string) error {
	if globalPlanner == nil {
		return fmt.Errorf("migration planner not initialized")
	}
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	plan, err := globalPlanner.Create(context.Background(), tenant, migration.CreateInput{
		PlatformID: migratePlatformID,
		Source:     provider.Type(migrateFrom),
		Target:     provider.Type(migrateTo),
	})
	if err != nil {
		return fmt.Errorf("creating migration plan: %w", err)
	}
	return showPlan(plan)
}

func newMigrateTransitionCmd(verb, short string, fn func(context.Context, string) (*store.MigrationPlan, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalPlanner == nil {
				return fmt.Errorf("migration planner not initialized")
			}
			plan, err := fn(context.Background(), args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(plan)
			}
			fmt.Printf("Migration plan %s is %s\n", plan.ID, plan.Status)
			return nil
		},
	}
}

func newMigrateProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "progress ID STEP STATUS",
		Short:   "Record a step's status (in_progress, completed, failed)",
		Example: `  portable migrate progress 6f1c... 1 completed`,
		Args:    cobra.ExactArgs(3),
		RunE:    migrateProgressRun,
	}
}

func migrateProgressRun(cmd *cobra.Command, args []string) error {
	if globalPlanner == nil {
		return fmt.Errorf("migration planner not initialized")
	}
	order, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid step number %q: %w", args[1], err)
	}
	plan, err := globalPlanner.RecordProgress(context.Background(), args[0], order, store.StepStatus(args[2]))
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(plan)
	}
	step := plan.Steps[order-1]
	fmt.Printf("Step %d (%s) is %s\n", step.Order, step.Name, step.Status)
	return nil
}

func newMigrateRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback ID",
		Short: "Roll back an in-progress plan",
		Args:  cobra.ExactArgs(1),
		RunE:  migrateRollbackRun,
	}
	cmd.Flags().StringVar(&migrateReason, "reason", "", "why the migration is rolled back (required)")
	if err := cmd.MarkFlagRequired("reason"); err != nil {
		panic(err)
	}
	return cmd
}

func migrateRollbackRun(cmd *cobra.Command, args []string) error {
	if globalPlanner == nil {
		return fmt.Errorf("migration planner not initialized")
	}
	plan, err := globalPlanner.Rollback(context.Background(), args[0], migrateReason)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(plan)
	}
	fmt.Printf("Migration plan %s rolled back: %s\n", plan.ID, plan.RollbackReason)
	fmt.Println("Rollback actions:")
	for i, a := range plan.RollbackPlan {
		fmt.Printf("  %d. %s\n", i+1, a)
	}
	return nil
}

func newMigrateGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a migration plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalPlanner == nil {
				return fmt.Errorf("migration planner not initialized")
			}
			plan, err := globalPlanner.Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			return showPlan(plan)
		},
	}
}

func newMigrateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a tenant's migration plans",
		RunE:    migrateListRun,
	}
}

func migrateListRun(cmd *cobra.Command, args []string) error {
	if globalPlanner == nil {
		return fmt.Errorf("migration planner not initialized")
	}
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	plans, err := globalPlanner.List(context.Background(), tenant)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(plans)
	}
	if len(plans) == 0 {
		fmt.Println("No migration plans found.")
		return nil
	}

	fmt.Println("Migration Plans")
	fmt.Println("===============")
	fmt.Println("")
	fmt.Printf("%-36s %-14s %-14s %-12s %-7s %s\n", "ID", "From", "To", "Status", "Risk", "Progress")
	fmt.Println(strings.Repeat("-", 96))
	for _, p := range plans {
		fmt.Printf("%-36s %-14s %-14s %-12s %-7s %d/%d\n",
			p.ID, p.Source, p.Target, p.Status, p.RiskLevel, completedSteps(p), len(p.Steps))
	}
	fmt.Println("")
	return nil
}

func showPlan(p *store.MigrationPlan) error {
	if outputJSON {
		return printJSON(p)
	}
	fmt.Printf("Migration plan %s\n", p.ID)
	fmt.Printf("  Platform: %s (tenant %s)\n", p.PlatformID, p.TenantID)
	fmt.Printf("  Route: %s -> %s\n", p.Source, p.Target)
	fmt.Printf("  Status: %s\n", p.Status)
	fmt.Printf("  Risk: %s\n", p.RiskLevel)
	fmt.Printf("  Estimated duration: %dh\n", p.EstimatedDuration)
	fmt.Printf("  Estimated cost: %s\n", formatCost(p.EstimatedCost, p.Currency))
	fmt.Println("  Steps:")
	for _, s := range p.Steps {
		mode := "manual"
		if s.Automated {
			mode = "auto"
		}
		fmt.Printf("    %2d. %-24s %3dh %-6s %s\n", s.Order, s.Name, s.EstimatedHours, mode, s.Status)
	}
	if p.RollbackReason != "" {
		fmt.Printf("  Rollback reason: %s\n", p.RollbackReason)
	}
	return nil
}

func completedSteps(p *store.MigrationPlan) int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == store.StepCompleted {
			n++
		}
	}
	return n
}
