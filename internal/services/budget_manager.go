package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// BudgetManager maintains one budget-limit snapshot per (owner, category,
// month, year) and carries limits across month boundaries. Spent-to-date is
// always recomputed from the ledger, so a freshly carried month starts at
// zero by construction.
type BudgetManager struct {
	store *storage.SQLiteRepository
}

func NewBudgetManager(store *storage.SQLiteRepository) *BudgetManager {
	return &BudgetManager{store: store}
}

// CurrentMonthBudgets returns the budgets for the month containing now,
// carrying them over from the most recent prior month when none exist yet.
func (m *BudgetManager) CurrentMonthBudgets(ctx context.Context, ownerID int64, now time.Time) ([]core.BudgetPeriod, error) {
	month, year := int(now.UTC().Month()), now.UTC().Year()

	budgets, err := m.store.BudgetsForMonth(ctx, ownerID, month, year)
	if err != nil {
		return nil, err
	}
	if len(budgets) > 0 {
		return budgets, nil
	}
	return m.CopyBudgetsToNewMonth(ctx, ownerID, month, year)
}

// CreateBudgetPeriod stores a user-defined budget for one month. The
// uniqueness constraint rejects a second period for the same key.
func (m *BudgetManager) CreateBudgetPeriod(ctx context.Context, b *core.BudgetPeriod) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("validate budget period: %w", err)
	}
	inserted, err := m.store.InsertBudgetPeriod(ctx, b)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("budget period for %s %d/%d already exists", b.Category, b.Month, b.Year)
	}
	return nil
}

// CopyBudgetsToNewMonth carries the most recent prior month's budget
// limits into (month, year), forcing spent back to zero. The operation is
// idempotent: inserts ride the uniqueness constraint on (owner, category,
// month, year) and conflicts are ignored, so concurrent callers and
// repeated runs converge on the same single set of periods.
func (m *BudgetManager) CopyBudgetsToNewMonth(ctx context.Context, ownerID int64, month, year int) ([]core.BudgetPeriod, error) {
	if month < 1 || month > 12 {
		return nil, core.ErrInvalidMonth
	}

	existing, err := m.store.BudgetsForMonth(ctx, ownerID, month, year)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	srcMonth, srcYear, ok, err := m.store.LatestBudgetMonth(ctx, ownerID, month, year)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Nothing to carry: the owner has never defined budgets.
		return nil, nil
	}

	source, err := m.store.BudgetsForMonth(ctx, ownerID, srcMonth, srcYear)
	if err != nil {
		return nil, err
	}

	carried := 0
	for _, src := range source {
		period := &core.BudgetPeriod{
			OwnerID:    ownerID,
			Category:   src.Category,
			Limit:      src.Limit,
			Month:      month,
			Year:       year,
			Icon:       src.Icon,
			IsTemplate: src.IsTemplate,
		}
		inserted, err := m.store.InsertBudgetPeriod(ctx, period)
		if err != nil {
			return nil, fmt.Errorf("carry budget %s: %w", src.Category, err)
		}
		if inserted {
			carried++
		}
	}

	slog.InfoContext(ctx, "Budgets carried over",
		"owner_id", ownerID,
		"from", fmt.Sprintf("%d/%d", srcMonth, srcYear),
		"to", fmt.Sprintf("%d/%d", month, year),
		"carried", carried)

	return m.store.BudgetsForMonth(ctx, ownerID, month, year)
}
