// Package notify turns the engine's published events into user-facing
// notifications. Delivery here is structured log output; an email or push
// transport would slot into the dispatcher without touching the consumer
// loop.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
)

// ObligationReader loads the obligation behind a reminder so the
// notification can carry its category and amount, not just an id.
type ObligationReader interface {
	GetObligation(ctx context.Context, id int64) (*core.RecurringObligation, error)
}

// Dispatcher handles one consumed event at a time. A returned error means
// the event should be redelivered; unknown event types are dropped instead,
// so a newer publisher never wedges the queue.
type Dispatcher struct {
	store ObligationReader
}

func NewDispatcher(store ObligationReader) *Dispatcher {
	return &Dispatcher{store: store}
}

func (d *Dispatcher) Handle(ctx context.Context, ev amqp.Event) error {
	switch ev.Type {
	case amqp.EventTransactionMaterialized:
		slog.InfoContext(ctx, "Obligation charged",
			"owner_id", ev.OwnerID,
			"obligation_id", ev.ObligationID,
			"transaction_id", ev.TransactionID,
			"amount", core.Money{Cents: ev.AmountCents}.String(),
			"due_date", ev.DueDate.Format("2006-01-02"))

	case amqp.EventObligationReminder:
		o, err := d.store.GetObligation(ctx, ev.ObligationID)
		if err != nil {
			return fmt.Errorf("load obligation %d for reminder: %w", ev.ObligationID, err)
		}
		slog.InfoContext(ctx, "Obligation due soon",
			"owner_id", o.OwnerID,
			"obligation_id", o.ID,
			"category", o.Category,
			"amount", o.Amount.String(),
			"due_date", o.NextOccurrence.Format("2006-01-02"))

	case amqp.EventObligationDeactivated:
		slog.InfoContext(ctx, "Obligation deactivated",
			"owner_id", ev.OwnerID,
			"obligation_id", ev.ObligationID)

	case amqp.EventRolloverCompleted:
		slog.InfoContext(ctx, "Month-end rollover completed",
			"owner_id", ev.OwnerID,
			"moved", core.Money{Cents: ev.AmountCents}.String())

	default:
		slog.WarnContext(ctx, "Dropping event of unknown type", "type", ev.Type)
	}
	return nil
}
