package services

import (
	"context"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

func newOrchestrator(store *storage.SQLiteRepository, events EventPublisher, concurrency int) *Orchestrator {
	balances := NewBalanceService(store, events)
	budgets := NewBudgetManager(store)
	engine := NewScheduleEngine(store, events)
	return NewOrchestrator(store, balances, budgets, engine, concurrency)
}

func TestPerformMonthEndAutomation(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	rec := &eventRecorder{}
	orch := newOrchestrator(store, rec, 1)
	ctx := context.Background()

	// April state: money on both accounts, one budget, one obligation due
	// on the boundary.
	insertTransaction(t, store, owner, 100000, core.Income, core.TagMain, core.NewDate(2025, 4, 1))
	insertTransaction(t, store, owner, 80000, core.Income, core.TagCurrent, core.NewDate(2025, 4, 2))
	insertTransaction(t, store, owner, 30000, core.Expense, core.TagCurrent, core.NewDate(2025, 4, 20))
	createBudget(t, NewBudgetManager(store), owner, "Food", 50000, 4, 2025)

	rent := monthlyObligation(owner, 90000, core.NewDate(2025, 5, 1))
	if err := NewScheduleEngine(store, nil).CreateObligation(ctx, rent); err != nil {
		t.Fatalf("CreateObligation() error = %v", err)
	}

	now := time.Date(2025, 5, 1, 0, 10, 0, 0, time.UTC)
	report := orch.PerformMonthEndAutomation(ctx, owner, now)

	if report.Failed() {
		t.Fatalf("report errors = %+v, want none", report.Errors)
	}
	if report.RolledOver.Cents != 50000 {
		t.Errorf("rolled over = %d, want 50000", report.RolledOver.Cents)
	}
	if report.BudgetsCarried != 1 {
		t.Errorf("budgets carried = %d, want 1", report.BudgetsCarried)
	}
	if report.Recurring == nil || len(report.Recurring.Processed) != 1 {
		t.Fatalf("recurring = %+v, want rent processed", report.Recurring)
	}

	// Rollover ran before the catch-up, so current holds exactly the
	// boundary obligation and main absorbed the April leftover.
	current, err := store.GetAccount(ctx, owner, core.TagCurrent)
	if err != nil {
		t.Fatalf("GetAccount(current) error = %v", err)
	}
	main, err := store.GetAccount(ctx, owner, core.TagMain)
	if err != nil {
		t.Fatalf("GetAccount(main) error = %v", err)
	}
	if current.Balance.Cents != -90000 {
		t.Errorf("current = %d, want -90000", current.Balance.Cents)
	}
	if main.Balance.Cents != 150000 {
		t.Errorf("main = %d, want 150000", main.Balance.Cents)
	}

	t.Run("value conserved", func(t *testing.T) {
		// Total across accounts equals the pre-rollover total plus the
		// boundary obligation.
		total := current.Balance.Cents + main.Balance.Cents
		if total != 60000 {
			t.Errorf("total = %d, want 150000 - 90000", total)
		}
	})

	t.Run("may budgets fresh", func(t *testing.T) {
		may, err := store.BudgetsForMonth(ctx, owner, 5, 2025)
		if err != nil {
			t.Fatalf("BudgetsForMonth() error = %v", err)
		}
		if len(may) != 1 || may[0].Spent.Cents != 0 {
			t.Errorf("may budgets = %+v, want Food with zero spent", may)
		}
	})

	t.Run("repeat run converges", func(t *testing.T) {
		again := orch.PerformMonthEndAutomation(ctx, owner, now)
		if again.Failed() {
			t.Fatalf("repeat errors = %+v", again.Errors)
		}
		// The second rollover sweeps the boundary obligation into main;
		// nothing else is duplicated.
		if again.RolledOver.Cents != -90000 {
			t.Errorf("second rollover = %d, want -90000", again.RolledOver.Cents)
		}
		if len(again.Recurring.Processed) != 0 {
			t.Errorf("second recurring = %v, want none", again.Recurring.Processed)
		}
		may, err := store.BudgetsForMonth(ctx, owner, 5, 2025)
		if err != nil {
			t.Fatalf("BudgetsForMonth() error = %v", err)
		}
		if len(may) != 1 {
			t.Errorf("may budgets after repeat = %d, want still 1", len(may))
		}
		main, err := store.GetAccount(ctx, owner, core.TagMain)
		if err != nil {
			t.Fatalf("GetAccount(main) error = %v", err)
		}
		if main.Balance.Cents != 60000 {
			t.Errorf("main after repeat = %d, want 60000", main.Balance.Cents)
		}
	})
}

func TestPerformMonthEndAutomationStepIsolation(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	orch := newOrchestrator(store, nil, 1)
	ctx := context.Background()

	// A malformed obligation makes the recurring step report an item
	// error; rollover and budgets still complete.
	insertTransaction(t, store, owner, 70000, core.Income, core.TagCurrent, core.NewDate(2025, 4, 3))
	createBudget(t, NewBudgetManager(store), owner, "Food", 50000, 4, 2025)

	bad := monthlyObligation(owner, 10000, core.NewDate(2025, 4, 1))
	bad.EndDate = core.NewDate(2025, 3, 1)
	bad.NextOccurrence = core.NewDate(2025, 4, 1)
	bad.IsActive = true
	if err := store.CreateObligation(ctx, bad); err != nil {
		t.Fatalf("CreateObligation() error = %v", err)
	}

	now := time.Date(2025, 5, 1, 0, 10, 0, 0, time.UTC)
	report := orch.PerformMonthEndAutomation(ctx, owner, now)

	if report.RolledOver.Cents != 70000 {
		t.Errorf("rolled over = %d, want 70000", report.RolledOver.Cents)
	}
	if report.BudgetsCarried != 1 {
		t.Errorf("budgets carried = %d, want 1", report.BudgetsCarried)
	}
	if report.Recurring == nil || len(report.Recurring.Errors) != 1 {
		t.Fatalf("recurring = %+v, want one item error", report.Recurring)
	}
	if len(report.Errors) != 0 {
		t.Errorf("step errors = %+v, item failures stay on the recurring report", report.Errors)
	}
}

func TestPerformMonthEndAutomationForAllUsers(t *testing.T) {
	store := newTestStore(t)
	orch := newOrchestrator(store, nil, 3)
	ctx := context.Background()

	var owners []int64
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		id, err := store.CreateOwner(ctx, email)
		if err != nil {
			t.Fatalf("CreateOwner(%s) error = %v", email, err)
		}
		owners = append(owners, id)
	}
	for i, owner := range owners {
		insertTransaction(t, store, owner, int64(i+1)*10000, core.Income, core.TagCurrent, core.NewDate(2025, 4, 10))
	}

	now := time.Date(2025, 5, 1, 0, 10, 0, 0, time.UTC)
	reports, err := orch.PerformMonthEndAutomationForAllUsers(ctx, now)
	if err != nil {
		t.Fatalf("PerformMonthEndAutomationForAllUsers() error = %v", err)
	}
	if len(reports) != len(owners) {
		t.Fatalf("reports = %d, want %d", len(reports), len(owners))
	}

	for i, owner := range owners {
		r := reports[i]
		if r == nil || r.OwnerID != owner {
			t.Fatalf("reports[%d] = %+v, want owner %d", i, r, owner)
		}
		if r.Failed() {
			t.Errorf("owner %d errors = %+v", owner, r.Errors)
		}
		want := int64(i+1) * 10000
		if r.RolledOver.Cents != want {
			t.Errorf("owner %d rolled over = %d, want %d", owner, r.RolledOver.Cents, want)
		}
		main, err := store.GetAccount(ctx, owner, core.TagMain)
		if err != nil {
			t.Fatalf("GetAccount(main) error = %v", err)
		}
		if main.Balance.Cents != want {
			t.Errorf("owner %d main = %d, want %d", owner, main.Balance.Cents, want)
		}
	}
}

func TestPerformMonthEndAutomationNoOwnerData(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	orch := newOrchestrator(store, nil, 1)

	report := orch.PerformMonthEndAutomation(context.Background(),
		owner, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	if report.Failed() {
		t.Errorf("errors = %+v, want an empty owner to succeed", report.Errors)
	}
	if report.RolledOver.Cents != 0 || report.BudgetsCarried != 0 {
		t.Errorf("report = %+v, want all-zero outcome", report)
	}
}
