package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

func createBudget(t *testing.T, m *BudgetManager, owner int64, category string, limit int64, month, year int) {
	t.Helper()
	b := &core.BudgetPeriod{
		OwnerID:  owner,
		Category: category,
		Limit:    core.Money{Cents: limit},
		Month:    month,
		Year:     year,
	}
	if err := m.CreateBudgetPeriod(context.Background(), b); err != nil {
		t.Fatalf("CreateBudgetPeriod(%s) error = %v", category, err)
	}
}

func spend(t *testing.T, store *storage.SQLiteRepository, owner int64, category string, cents int64, on core.Date) {
	t.Helper()
	tx := &core.LedgerTransaction{
		OwnerID:    owner,
		Amount:     core.Money{Cents: cents},
		Direction:  core.Expense,
		Category:   category,
		Tag:        core.TagCurrent,
		OccurredOn: on,
	}
	if err := store.InsertTransaction(context.Background(), tx); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
}

func TestCreateBudgetPeriod(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	mgr := NewBudgetManager(store)
	ctx := context.Background()

	createBudget(t, mgr, owner, "Food", 50000, 4, 2025)

	t.Run("duplicate key rejected", func(t *testing.T) {
		dup := &core.BudgetPeriod{
			OwnerID:  owner,
			Category: "Food",
			Limit:    core.Money{Cents: 99999},
			Month:    4,
			Year:     2025,
		}
		if err := mgr.CreateBudgetPeriod(ctx, dup); err == nil {
			t.Error("duplicate budget period should fail")
		}
	})

	t.Run("invalid month rejected", func(t *testing.T) {
		bad := &core.BudgetPeriod{
			OwnerID:  owner,
			Category: "Food",
			Limit:    core.Money{Cents: 1000},
			Month:    13,
			Year:     2025,
		}
		if err := mgr.CreateBudgetPeriod(ctx, bad); !errors.Is(err, core.ErrInvalidMonth) {
			t.Errorf("error = %v, want ErrInvalidMonth", err)
		}
	})
}

func TestCopyBudgetsToNewMonth(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	mgr := NewBudgetManager(store)
	ctx := context.Background()

	createBudget(t, mgr, owner, "Food", 50000, 4, 2025)
	createBudget(t, mgr, owner, "Transport", 30000, 4, 2025)
	spend(t, store, owner, "Food", 35000, core.NewDate(2025, 4, 12))
	spend(t, store, owner, "Transport", 30000, core.NewDate(2025, 4, 28))

	carried, err := mgr.CopyBudgetsToNewMonth(ctx, owner, 5, 2025)
	if err != nil {
		t.Fatalf("CopyBudgetsToNewMonth() error = %v", err)
	}
	if len(carried) != 2 {
		t.Fatalf("carried = %d budgets, want 2", len(carried))
	}
	byCategory := map[string]core.BudgetPeriod{}
	for _, b := range carried {
		byCategory[b.Category] = b
	}
	for category, wantLimit := range map[string]int64{"Food": 50000, "Transport": 30000} {
		b, ok := byCategory[category]
		if !ok {
			t.Fatalf("category %s not carried", category)
		}
		if b.Limit.Cents != wantLimit {
			t.Errorf("%s limit = %d, want %d", category, b.Limit.Cents, wantLimit)
		}
		if b.Spent.Cents != 0 {
			t.Errorf("%s spent = %d, want 0 in the fresh month", category, b.Spent.Cents)
		}
		if b.Month != 5 || b.Year != 2025 {
			t.Errorf("%s period = %d/%d, want 5/2025", category, b.Month, b.Year)
		}
	}

	t.Run("source month unchanged", func(t *testing.T) {
		april, err := store.BudgetsForMonth(ctx, owner, 4, 2025)
		if err != nil {
			t.Fatalf("BudgetsForMonth() error = %v", err)
		}
		spent := map[string]int64{}
		for _, b := range april {
			spent[b.Category] = b.Spent.Cents
		}
		if spent["Food"] != 35000 || spent["Transport"] != 30000 {
			t.Errorf("april spent = %v, want Food 35000, Transport 30000", spent)
		}
	})

	t.Run("repeat is idempotent", func(t *testing.T) {
		again, err := mgr.CopyBudgetsToNewMonth(ctx, owner, 5, 2025)
		if err != nil {
			t.Fatalf("CopyBudgetsToNewMonth() error = %v", err)
		}
		if len(again) != 2 {
			t.Errorf("budgets after repeat = %d, want still 2", len(again))
		}
	})

	t.Run("existing target month wins", func(t *testing.T) {
		createBudget(t, mgr, owner, "Travel", 80000, 6, 2025)
		june, err := mgr.CopyBudgetsToNewMonth(ctx, owner, 6, 2025)
		if err != nil {
			t.Fatalf("CopyBudgetsToNewMonth() error = %v", err)
		}
		if len(june) != 1 || june[0].Category != "Travel" {
			t.Errorf("june budgets = %+v, want only the user-defined Travel", june)
		}
	})
}

func TestCopyBudgetsSkipsGapMonths(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	mgr := NewBudgetManager(store)
	ctx := context.Background()

	// Budgets last defined in November 2024; carrying into February 2025
	// sources from November, not from the empty months between.
	createBudget(t, mgr, owner, "Food", 45000, 11, 2024)

	carried, err := mgr.CopyBudgetsToNewMonth(ctx, owner, 2, 2025)
	if err != nil {
		t.Fatalf("CopyBudgetsToNewMonth() error = %v", err)
	}
	if len(carried) != 1 || carried[0].Limit.Cents != 45000 {
		t.Errorf("carried = %+v, want Food 45000 from 11/2024", carried)
	}
}

func TestCopyBudgetsNothingToCarry(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	mgr := NewBudgetManager(store)

	carried, err := mgr.CopyBudgetsToNewMonth(context.Background(), owner, 5, 2025)
	if err != nil {
		t.Fatalf("CopyBudgetsToNewMonth() error = %v", err)
	}
	if len(carried) != 0 {
		t.Errorf("carried = %+v, want none for an owner with no budgets", carried)
	}

	if _, err := mgr.CopyBudgetsToNewMonth(context.Background(), owner, 0, 2025); !errors.Is(err, core.ErrInvalidMonth) {
		t.Errorf("invalid month error = %v, want ErrInvalidMonth", err)
	}
}

func TestCurrentMonthBudgets(t *testing.T) {
	store := newTestStore(t)
	owner := newTestOwner(t, store)
	mgr := NewBudgetManager(store)
	ctx := context.Background()

	createBudget(t, mgr, owner, "Food", 50000, 4, 2025)

	now := time.Date(2025, 5, 3, 9, 0, 0, 0, time.UTC)
	budgets, err := mgr.CurrentMonthBudgets(ctx, owner, now)
	if err != nil {
		t.Fatalf("CurrentMonthBudgets() error = %v", err)
	}
	if len(budgets) != 1 || budgets[0].Month != 5 || budgets[0].Year != 2025 {
		t.Fatalf("budgets = %+v, want Food carried into 5/2025", budgets)
	}

	// Spending in the new month shows up on the recomputed view.
	spend(t, store, owner, "Food", 12000, core.NewDate(2025, 5, 2))
	budgets, err = mgr.CurrentMonthBudgets(ctx, owner, now)
	if err != nil {
		t.Fatalf("CurrentMonthBudgets() error = %v", err)
	}
	if budgets[0].Spent.Cents != 12000 {
		t.Errorf("spent = %d, want 12000", budgets[0].Spent.Cents)
	}
}
