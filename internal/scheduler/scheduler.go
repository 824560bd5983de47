// Package scheduler owns the timers that drive the periodic jobs. Exactly
// one scheduler instance runs per process; the conditional occurrence
// claim in storage keeps overlapping runs harmless anyway.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bilancio/internal/services"
)

// DueProcessor is the daily job surface.
type DueProcessor interface {
	ProcessDueObligations(ctx context.Context, now time.Time) (*services.ProcessingReport, error)
	UpcomingReminders(ctx context.Context, now time.Time) (int, error)
}

// MonthEndRunner is the monthly job surface.
type MonthEndRunner interface {
	PerformMonthEndAutomationForAllUsers(ctx context.Context, now time.Time) ([]*services.MonthEndReport, error)
}

// Scheduler registers one cron entry per cadence and fans each tick out to
// the corresponding service.
type Scheduler struct {
	engine   DueProcessor
	monthEnd MonthEndRunner

	dailySpec   string
	monthlySpec string

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

func New(engine DueProcessor, monthEnd MonthEndRunner, dailySpec, monthlySpec string) *Scheduler {
	return &Scheduler{
		engine:      engine,
		monthEnd:    monthEnd,
		dailySpec:   dailySpec,
		monthlySpec: monthlySpec,
	}
}

// Start registers both cadences and starts the timer loop. Jobs receive
// ctx; cancelling it does not stop the timers, call Stop for that.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))

	if _, err := c.AddFunc(s.dailySpec, func() { s.RunDaily(ctx, time.Now()) }); err != nil {
		return fmt.Errorf("register daily job %q: %w", s.dailySpec, err)
	}
	if _, err := c.AddFunc(s.monthlySpec, func() { s.RunMonthEnd(ctx, time.Now()) }); err != nil {
		return fmt.Errorf("register monthly job %q: %w", s.monthlySpec, err)
	}

	c.Start()
	s.cron = c
	s.started = true

	slog.InfoContext(ctx, "Scheduler started",
		"daily", s.dailySpec,
		"monthly", s.monthlySpec)
	return nil
}

// Stop halts the timers and waits for any running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	slog.Info("Scheduler stopped")
}

// RunDaily executes one daily tick: materialize due obligations, then
// publish reminders. Also the entry point for a manual catch-up run.
func (s *Scheduler) RunDaily(ctx context.Context, now time.Time) {
	report, err := s.engine.ProcessDueObligations(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Daily obligation run failed", "error", err)
	} else {
		slog.InfoContext(ctx, "Daily obligation run finished",
			"run_id", report.RunID,
			"processed", len(report.Processed),
			"expired", len(report.Expired),
			"errors", len(report.Errors))
	}

	reminders, err := s.engine.UpcomingReminders(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Reminder run failed", "error", err)
		return
	}
	if reminders > 0 {
		slog.InfoContext(ctx, "Reminders published", "count", reminders)
	}
}

// RunMonthEnd executes one month-boundary tick across all owners.
func (s *Scheduler) RunMonthEnd(ctx context.Context, now time.Time) {
	reports, err := s.monthEnd.PerformMonthEndAutomationForAllUsers(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Month-end sweep failed", "error", err)
		return
	}
	failed := 0
	for _, r := range reports {
		if r.Failed() {
			failed++
		}
	}
	slog.InfoContext(ctx, "Month-end sweep finished",
		"owners", len(reports),
		"failed", failed)
}
