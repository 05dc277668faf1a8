// Package migration builds and tracks plans for moving a platform between
// providers.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BadgerOps/portable/internal/keylock"
	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/store"
	"github.com/BadgerOps/portable/internal/validate"
)

// ErrIllegalTransition is returned for a plan or step change that its
// current status does not allow.
var ErrIllegalTransition = errors.New("illegal migration transition")

// CostMultiplier covers running source and target side by side during the move.
const CostMultiplier = 2.0

var (
	plansCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portable_migration_plans_created_total",
		Help: "Migration plans created, by risk level.",
	}, []string{"risk"})

	planTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portable_migration_plan_transitions_total",
		Help: "Migration plan status changes, by new status.",
	}, []string{"status"})
)

// CreateInput describes a migration request.
type CreateInput struct {
	PlatformID string        `json:"platform_id" validate:"required"`
	Source     provider.Type `json:"source" validate:"required"`
	Target     provider.Type `json:"target" validate:"required,nefield=Source"`
}

// Planner creates migration plans and applies their status changes.
type Planner struct {
	repo      store.MigrationRepository
	providers *provider.Registry
	template  *Template
	locks     *keylock.Locker
	logger    *slog.Logger
	now       func() time.Time
}

// NewPlanner creates a Planner using the compiled-in plan template.
func NewPlanner(repo store.MigrationRepository, providers *provider.Registry, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		repo:      repo,
		providers: providers,
		template:  DefaultTemplate(),
		locks:     keylock.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create builds and stores a draft plan.
func (p *Planner) Create(ctx context.Context, tenantID string, in CreateInput) (*store.MigrationPlan, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validate.Errorf("tenant_id is required")
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	source, err := p.providers.Lookup(in.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %w", validate.ErrInvalid, err)
	}
	target, err := p.providers.Lookup(in.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: target: %w", validate.ErrInvalid, err)
	}

	steps, rollback, hours := p.template.render(source, target)
	now := p.now()
	plan := &store.MigrationPlan{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		PlatformID:        in.PlatformID,
		Source:            source.Type,
		Target:            target.Type,
		Steps:             steps,
		EstimatedDuration: hours,
		EstimatedCost:     CostMultiplier * target.Cost.Monthly,
		Currency:          target.Cost.Currency,
		RiskLevel:         AssessRisk(source, target),
		RollbackPlan:      rollback,
		Status:            store.MigrationDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := p.repo.CreateMigrationPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("storing migration plan: %w", err)
	}
	plansCreated.WithLabelValues(string(plan.RiskLevel)).Inc()
	p.logger.Info("migration plan created",
		"id", plan.ID,
		"tenant", tenantID,
		"source", plan.Source,
		"target", plan.Target,
		"risk", plan.RiskLevel,
		"hours", plan.EstimatedDuration,
	)
	return plan, nil
}

// Approve moves a draft plan to approved.
func (p *Planner) Approve(ctx context.Context, id string) (*store.MigrationPlan, error) {
	return p.advance(ctx, id, store.MigrationDraft, store.MigrationApproved, func(plan *store.MigrationPlan, now time.Time) error {
		plan.ApprovedAt = &now
		return nil
	})
}

// Start moves an approved plan to in_progress.
func (p *Planner) Start(ctx context.Context, id string) (*store.MigrationPlan, error) {
	return p.advance(ctx, id, store.MigrationApproved, store.MigrationInProgress, func(plan *store.MigrationPlan, now time.Time) error {
		plan.StartedAt = &now
		return nil
	})
}

// Complete finishes an in_progress plan whose steps are all completed.
func (p *Planner) Complete(ctx context.Context, id string) (*store.MigrationPlan, error) {
	return p.advance(ctx, id, store.MigrationInProgress, store.MigrationCompleted, func(plan *store.MigrationPlan, now time.Time) error {
		for _, s := range plan.Steps {
			if s.Status != store.StepCompleted {
				return fmt.Errorf("%w: step %d (%s) is %s", ErrIllegalTransition, s.Order, s.Name, s.Status)
			}
		}
		plan.FinishedAt = &now
		return nil
	})
}

// Rollback abandons an in_progress plan.
func (p *Planner) Rollback(ctx context.Context, id, reason string) (*store.MigrationPlan, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, validate.Errorf("rollback reason is required")
	}
	return p.advance(ctx, id, store.MigrationInProgress, store.MigrationRolledBack, func(plan *store.MigrationPlan, now time.Time) error {
		plan.RollbackReason = reason
		plan.FinishedAt = &now
		return nil
	})
}

// advance applies from -> to under the plan's lock.
func (p *Planner) advance(ctx context.Context, id string, from, to store.MigrationStatus, apply func(*store.MigrationPlan, time.Time) error) (*store.MigrationPlan, error) {
	plan, err := p.update(ctx, id, func(plan *store.MigrationPlan, now time.Time) error {
		if plan.Status != from {
			return fmt.Errorf("%w: plan %s is %s, want %s", ErrIllegalTransition, plan.ID, plan.Status, from)
		}
		if err := apply(plan, now); err != nil {
			return err
		}
		plan.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	planTransitions.WithLabelValues(string(to)).Inc()
	p.logger.Info("migration plan "+string(to), "id", id)
	return plan, nil
}

// stepTransitions lists legal step status changes. A failed step may be
// retried.
var stepTransitions = map[store.StepStatus][]store.StepStatus{
	store.StepPending:    {store.StepInProgress, store.StepCompleted, store.StepFailed},
	store.StepInProgress: {store.StepCompleted, store.StepFailed},
	store.StepFailed:     {store.StepInProgress},
}

// RecordProgress sets the status of one step of an in_progress plan.
// Steps run in order: a step cannot start or complete before every earlier
// step is completed.
func (p *Planner) RecordProgress(ctx context.Context, id string, order int, status store.StepStatus) (*store.MigrationPlan, error) {
	return p.update(ctx, id, func(plan *store.MigrationPlan, now time.Time) error {
		if plan.Status != store.MigrationInProgress {
			return fmt.Errorf("%w: plan %s is %s, want %s", ErrIllegalTransition, plan.ID, plan.Status, store.MigrationInProgress)
		}
		if order < 1 || order > len(plan.Steps) {
			return validate.Errorf("step order %d out of range 1..%d", order, len(plan.Steps))
		}

		step := &plan.Steps[order-1]
		if !legalStep(step.Status, status) {
			return fmt.Errorf("%w: step %d is %s, cannot become %s", ErrIllegalTransition, order, step.Status, status)
		}
		if status != store.StepFailed {
			for _, prev := range plan.Steps[:order-1] {
				if prev.Status != store.StepCompleted {
					return fmt.Errorf("%w: step %d (%s) is still %s", ErrIllegalTransition, prev.Order, prev.Name, prev.Status)
				}
			}
		}

		if step.StartedAt == nil && status != store.StepFailed {
			step.StartedAt = &now
		}
		if status == store.StepCompleted {
			step.CompletedAt = &now
		}
		step.Status = status
		return nil
	})
}

func legalStep(from, to store.StepStatus) bool {
	for _, s := range stepTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// update loads the plan, applies fn and saves it under the plan's lock.
func (p *Planner) update(ctx context.Context, id string, fn func(*store.MigrationPlan, time.Time) error) (*store.MigrationPlan, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	plan, err := p.repo.GetMigrationPlan(ctx, id)
	if err != nil {
		return nil, err
	}

	now := p.now()
	if now.Before(plan.UpdatedAt) {
		now = plan.UpdatedAt
	}
	if err := fn(plan, now); err != nil {
		return nil, err
	}
	plan.UpdatedAt = now

	if err := p.repo.UpdateMigrationPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("saving migration plan: %w", err)
	}
	return plan, nil
}

// Get returns a plan by ID.
func (p *Planner) Get(ctx context.Context, id string) (*store.MigrationPlan, error) {
	return p.repo.GetMigrationPlan(ctx, id)
}

// List returns a tenant's plans, newest first.
func (p *Planner) List(ctx context.Context, tenantID string) ([]*store.MigrationPlan, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validate.Errorf("tenant_id is required")
	}
	return p.repo.ListMigrationPlans(ctx, tenantID)
}
