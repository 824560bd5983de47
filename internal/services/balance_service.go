package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// BalanceService derives the two named balances per owner from the ledger.
// Balances are always full recomputes: incremental counters drift under
// concurrent writers and partial failures, a recompute self-heals.
type BalanceService struct {
	store  *storage.SQLiteRepository
	events EventPublisher
}

func NewBalanceService(store *storage.SQLiteRepository, events EventPublisher) *BalanceService {
	return &BalanceService{store: store, events: events}
}

// SyncAccountBalance recomputes and persists the balance for (owner, tag).
// Call it after every ledger mutation touching that account. An empty
// ledger is not an error: the balance is zero.
func (s *BalanceService) SyncAccountBalance(ctx context.Context, ownerID int64, tag core.AccountTag) (core.Money, error) {
	if !tag.Valid() {
		return core.Money{}, core.ErrInvalidTag
	}
	cents, err := s.store.SyncAccountBalance(ctx, ownerID, tag)
	if err != nil {
		return core.Money{}, fmt.Errorf("sync balance %d/%s: %w", ownerID, tag, err)
	}
	return core.Money{Cents: cents}, nil
}

// Account returns the persisted balance snapshot for (owner, tag).
func (s *BalanceService) Account(ctx context.Context, ownerID int64, tag core.AccountTag) (core.Account, error) {
	if !tag.Valid() {
		return core.Account{}, core.ErrInvalidTag
	}
	return s.store.GetAccount(ctx, ownerID, tag)
}

// Rollover transfers the current balance into main at a month boundary.
// The transfer is written to the ledger itself and both balances are
// recomputed in the same transaction, so no value is created or destroyed
// and a later resync reproduces the same numbers. Returns the signed
// amount moved.
func (s *BalanceService) Rollover(ctx context.Context, ownerID int64, now time.Time) (core.Money, error) {
	moved, err := s.store.RolloverBalances(ctx, ownerID, now)
	if err != nil {
		return core.Money{}, fmt.Errorf("rollover %d: %w", ownerID, err)
	}

	slog.InfoContext(ctx, "Rollover completed",
		"owner_id", ownerID,
		"moved_cents", moved)

	if s.events != nil {
		ev := amqp.NewEvent(amqp.EventRolloverCompleted, ownerID)
		ev.AmountCents = moved
		if err := s.events.Publish(ctx, ev); err != nil {
			slog.WarnContext(ctx, "Failed to publish rollover event",
				"owner_id", ownerID, "error", err)
		}
	}

	return core.Money{Cents: moved}, nil
}
