package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// StepError records the failure of one month-end step for one owner.
type StepError struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// MonthEndReport is the per-owner outcome of the month-end automation.
type MonthEndReport struct {
	OwnerID        int64             `json:"owner_id"`
	RunID          string            `json:"run_id"`
	RolledOver     core.Money        `json:"rolled_over"`
	BudgetsCarried int               `json:"budgets_carried"`
	Recurring      *ProcessingReport `json:"recurring,omitempty"`
	Errors         []StepError       `json:"errors,omitempty"`
}

// Failed reports whether any step failed.
func (r *MonthEndReport) Failed() bool {
	return len(r.Errors) > 0
}

// Orchestrator composes the balance service, budget manager and schedule
// engine into the month-boundary automation.
type Orchestrator struct {
	store    *storage.SQLiteRepository
	balances *BalanceService
	budgets  *BudgetManager
	engine   *ScheduleEngine

	// sweepConcurrency bounds the all-owners worker pool.
	sweepConcurrency int
}

func NewOrchestrator(store *storage.SQLiteRepository, balances *BalanceService, budgets *BudgetManager, engine *ScheduleEngine, sweepConcurrency int) *Orchestrator {
	if sweepConcurrency < 1 {
		sweepConcurrency = 1
	}
	return &Orchestrator{
		store:            store,
		balances:         balances,
		budgets:          budgets,
		engine:           engine,
		sweepConcurrency: sweepConcurrency,
	}
}

// PerformMonthEndAutomation runs the three month-end steps for one owner in
// fixed order: rollover, then budget carry-over, then recurring catch-up.
// Rollover comes first so the new month's current balance starts at zero;
// carry-over precedes catch-up so budgets exist before boundary
// transactions land. Each step is isolated: a failure is recorded on the
// report and the remaining steps still run.
func (o *Orchestrator) PerformMonthEndAutomation(ctx context.Context, ownerID int64, now time.Time) *MonthEndReport {
	report := &MonthEndReport{OwnerID: ownerID, RunID: uuid.NewString()}

	slog.InfoContext(ctx, "Month-end automation started",
		"run_id", report.RunID,
		"owner_id", ownerID)

	moved, err := o.balances.Rollover(ctx, ownerID, now)
	if err != nil {
		report.Errors = append(report.Errors, StepError{Step: "rollover", Message: err.Error()})
		slog.ErrorContext(ctx, "Rollover failed",
			"run_id", report.RunID, "owner_id", ownerID, "error", err)
	} else {
		report.RolledOver = moved
	}

	month, year := int(now.UTC().Month()), now.UTC().Year()
	carried, err := o.budgets.CopyBudgetsToNewMonth(ctx, ownerID, month, year)
	if err != nil {
		report.Errors = append(report.Errors, StepError{Step: "budgets", Message: err.Error()})
		slog.ErrorContext(ctx, "Budget carry-over failed",
			"run_id", report.RunID, "owner_id", ownerID, "error", err)
	} else {
		report.BudgetsCarried = len(carried)
	}

	recurring, err := o.engine.ProcessDueObligationsForOwner(ctx, ownerID, now)
	if err != nil {
		report.Errors = append(report.Errors, StepError{Step: "recurring", Message: err.Error()})
		slog.ErrorContext(ctx, "Recurring catch-up failed",
			"run_id", report.RunID, "owner_id", ownerID, "error", err)
	} else {
		report.Recurring = recurring
	}

	slog.InfoContext(ctx, "Month-end automation finished",
		"run_id", report.RunID,
		"owner_id", ownerID,
		"rolled_over_cents", report.RolledOver.Cents,
		"budgets_carried", report.BudgetsCarried,
		"step_errors", len(report.Errors))

	return report
}

// PerformMonthEndAutomationForAllUsers sweeps every owner through
// PerformMonthEndAutomation on a bounded worker pool. One owner's failures
// stay on that owner's report and never block the others; only failing to
// enumerate owners at all is an error.
func (o *Orchestrator) PerformMonthEndAutomationForAllUsers(ctx context.Context, now time.Time) ([]*MonthEndReport, error) {
	ownerIDs, err := o.store.ListOwnerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate owners: %w", err)
	}

	reports := make([]*MonthEndReport, len(ownerIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.sweepConcurrency)
	for i, ownerID := range ownerIDs {
		i, ownerID := i, ownerID
		g.Go(func() error {
			reports[i] = o.PerformMonthEndAutomation(ctx, ownerID, now)
			return nil
		})
	}
	// Workers only record failures in their reports.
	_ = g.Wait()

	failed := 0
	for _, r := range reports {
		if r.Failed() {
			failed++
		}
	}
	slog.InfoContext(ctx, "Month-end sweep complete",
		"owners", len(ownerIDs),
		"failed", failed,
		"concurrency", o.sweepConcurrency)

	return reports, nil
}
