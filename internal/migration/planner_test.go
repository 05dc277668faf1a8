package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/store"
	"github.com/BadgerOps/portable/internal/validate"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewPlanner(repo, provider.DefaultRegistry(), logger)
}

func TestCreatePlan(t *testing.T) {
	p := newTestPlanner(t)

	plan, err := p.Create(context.Background(), "tenant-a", CreateInput{
		PlatformID: "plat-1",
		Source:     provider.AWS,
		Target:     provider.Hetzner,
	})
	require.NoError(t, err)

	assert.Equal(t, store.MigrationDraft, plan.Status)
	require.Len(t, plan.Steps, 10)
	for i, s := range plan.Steps {
		assert.Equal(t, i+1, s.Order)
		assert.Equal(t, store.StepPending, s.Status)
		assert.NotContains(t, s.Description, "{target}")
	}
	assert.Equal(t, 73, plan.EstimatedDuration)
	assert.InDelta(t, 840.0, plan.EstimatedCost, 0.001)
	assert.Equal(t, "USD", plan.Currency)
	assert.Equal(t, store.RiskMedium, plan.RiskLevel)
	require.Len(t, plan.RollbackPlan, 4)
	assert.Contains(t, plan.RollbackPlan[0], "Amazon")

	got, err := p.Get(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Steps, got.Steps)
}

func TestCreatePlanValidation(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		in      CreateInput
		wantErr string
	}{
		{name: "missing tenant", in: CreateInput{PlatformID: "p", Source: provider.AWS, Target: provider.GCP}, wantErr: "tenant_id is required"},
		{name: "missing platform", tenant: "t", in: CreateInput{Source: provider.AWS, Target: provider.GCP}, wantErr: "platform_id is required"},
		{name: "missing source", tenant: "t", in: CreateInput{PlatformID: "p", Target: provider.GCP}, wantErr: "source is required"},
		{name: "same provider", tenant: "t", in: CreateInput{PlatformID: "p", Source: provider.GCP, Target: provider.GCP}, wantErr: "target must differ from source"},
		{name: "unknown source", tenant: "t", in: CreateInput{PlatformID: "p", Source: "ibm", Target: provider.GCP}, wantErr: "unknown provider"},
		{name: "unknown target", tenant: "t", in: CreateInput{PlatformID: "p", Source: provider.GCP, Target: "oracle"}, wantErr: "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(t)
			_, err := p.Create(context.Background(), tt.tenant, tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, validate.ErrInvalid), "error %v does not wrap ErrInvalid", err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssessRisk(t *testing.T) {
	reg := provider.DefaultRegistry()
	get := func(typ provider.Type) provider.Abstraction {
		a, ok := reg.Get(typ)
		require.True(t, ok, typ)
		return a
	}

	tests := []struct {
		source, target provider.Type
		want           store.RiskLevel
	}{
		{provider.AWS, provider.AirGapped, store.RiskHigh},
		{provider.AirGapped, provider.Hetzner, store.RiskHigh},
		{provider.Hetzner, provider.GCP, store.RiskMedium},
		{provider.OnPremise, provider.DigitalOcean, store.RiskMedium},
		{provider.Hetzner, provider.DigitalOcean, store.RiskLow},
	}
	for _, tt := range tests {
		t.Run(string(tt.source)+"->"+string(tt.target), func(t *testing.T) {
			assert.Equal(t, tt.want, AssessRisk(get(tt.source), get(tt.target)))
		})
	}
}

func startedPlan(t *testing.T, p *Planner) *store.MigrationPlan {
	t.Helper()
	ctx := context.Background()
	plan, err := p.Create(ctx, "tenant-a", CreateInput{PlatformID: "plat-1", Source: provider.GCP, Target: provider.OnPremise})
	require.NoError(t, err)
	_, err = p.Approve(ctx, plan.ID)
	require.NoError(t, err)
	plan, err = p.Start(ctx, plan.ID)
	require.NoError(t, err)
	return plan
}

func TestPlanLifecycle(t *testing.T) {
	p := newTestPlanner(t)
	ctx := context.Background()

	plan, err := p.Create(ctx, "tenant-a", CreateInput{PlatformID: "plat-1", Source: provider.Azure, Target: provider.GCP})
	require.NoError(t, err)

	_, err = p.Start(ctx, plan.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition, "draft cannot start")

	approved, err := p.Approve(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	_, err = p.Approve(ctx, plan.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	started, err := p.Start(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationInProgress, started.Status)

	_, err = p.Complete(ctx, plan.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition, "steps are still pending")

	for i := range started.Steps {
		_, err = p.RecordProgress(ctx, plan.ID, i+1, store.StepCompleted)
		require.NoError(t, err, "step %d", i+1)
	}

	done, err := p.Complete(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MigrationCompleted, done.Status)
	assert.NotNil(t, done.FinishedAt)

	_, err = p.Rollback(ctx, plan.ID, "too late")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = p.Approve(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordProgressOrdering(t *testing.T) {
	p := newTestPlanner(t)
	ctx := context.Background()
	plan := startedPlan(t, p)

	_, err := p.RecordProgress(ctx, plan.ID, 2, store.StepInProgress)
	assert.ErrorIs(t, err, ErrIllegalTransition, "step 1 not completed")

	_, err = p.RecordProgress(ctx, plan.ID, 0, store.StepInProgress)
	assert.ErrorIs(t, err, validate.ErrInvalid)
	_, err = p.RecordProgress(ctx, plan.ID, 11, store.StepInProgress)
	assert.ErrorIs(t, err, validate.ErrInvalid)

	got, err := p.RecordProgress(ctx, plan.ID, 1, store.StepInProgress)
	require.NoError(t, err)
	assert.NotNil(t, got.Steps[0].StartedAt)

	got, err = p.RecordProgress(ctx, plan.ID, 1, store.StepFailed)
	require.NoError(t, err)
	assert.Equal(t, store.StepFailed, got.Steps[0].Status)

	// retry
	_, err = p.RecordProgress(ctx, plan.ID, 1, store.StepInProgress)
	require.NoError(t, err)
	got, err = p.RecordProgress(ctx, plan.ID, 1, store.StepCompleted)
	require.NoError(t, err)
	assert.NotNil(t, got.Steps[0].CompletedAt)

	_, err = p.RecordProgress(ctx, plan.ID, 1, store.StepInProgress)
	assert.ErrorIs(t, err, ErrIllegalTransition, "completed is terminal")

	_, err = p.RecordProgress(ctx, plan.ID, 2, store.StepCompleted)
	assert.NoError(t, err)
}

func TestRollback(t *testing.T) {
	p := newTestPlanner(t)
	ctx := context.Background()
	plan := startedPlan(t, p)

	_, err := p.Rollback(ctx, plan.ID, " ")
	assert.ErrorIs(t, err, validate.ErrInvalid)

	rolled, err := p.Rollback(ctx, plan.ID, "data migration failed")
	require.NoError(t, err)
	assert.Equal(t, store.MigrationRolledBack, rolled.Status)
	assert.Equal(t, "data migration failed", rolled.RollbackReason)

	_, err = p.RecordProgress(ctx, plan.ID, 1, store.StepInProgress)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestListPlans(t *testing.T) {
	p := newTestPlanner(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	p.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}

	first, err := p.Create(ctx, "tenant-a", CreateInput{PlatformID: "a", Source: provider.AWS, Target: provider.GCP})
	require.NoError(t, err)
	second, err := p.Create(ctx, "tenant-a", CreateInput{PlatformID: "b", Source: provider.GCP, Target: provider.AWS})
	require.NoError(t, err)
	_, err = p.Create(ctx, "tenant-b", CreateInput{PlatformID: "c", Source: provider.GCP, Target: provider.AWS})
	require.NoError(t, err)

	list, err := p.List(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	_, err = p.List(ctx, "")
	assert.ErrorIs(t, err, validate.ErrInvalid)
}

func TestPlanProperties(t *testing.T) {
	p := newTestPlanner(t)
	types := p.providers.Types()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("plans are well formed for every provider pair", prop.ForAll(
		func(si, ti int) bool {
			source, target := types[si], types[ti]
			plan, err := p.Create(context.Background(), "tenant-p", CreateInput{PlatformID: "plat", Source: source, Target: target})
			if source == target {
				return errors.Is(err, validate.ErrInvalid)
			}
			if err != nil {
				return false
			}
			hours := 0
			for i, s := range plan.Steps {
				if s.Order != i+1 {
					return false
				}
				hours += s.EstimatedHours
			}
			tgt, _ := p.providers.Get(target)
			airGapped := source == provider.AirGapped || target == provider.AirGapped
			return hours == plan.EstimatedDuration &&
				plan.EstimatedCost == CostMultiplier*tgt.Cost.Monthly &&
				(plan.RiskLevel == store.RiskHigh) == airGapped
		},
		gen.IntRange(0, len(types)-1),
		gen.IntRange(0, len(types)-1),
	))

	properties.TestingRun(t)
}
