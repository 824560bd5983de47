package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// EventPublisher is the fire-and-forget notification sink. A nil publisher
// disables publishing; errors are logged and never fail an operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev amqp.Event) error
}

// ItemError records one obligation that failed during a batch run.
type ItemError struct {
	ObligationID int64  `json:"obligation_id"`
	Message      string `json:"message"`
}

// ProcessingReport summarizes one due-obligation batch run. Partial failure
// is normal: errors accumulate here instead of aborting the run.
type ProcessingReport struct {
	RunID     string      `json:"run_id"`
	Processed []int64     `json:"processed,omitempty"`
	Expired   []int64     `json:"expired,omitempty"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// ScheduleEngine owns recurring obligation templates: it materializes due
// occurrences into ledger transactions and advances their schedule.
type ScheduleEngine struct {
	store  *storage.SQLiteRepository
	events EventPublisher
}

func NewScheduleEngine(store *storage.SQLiteRepository, events EventPublisher) *ScheduleEngine {
	return &ScheduleEngine{store: store, events: events}
}

// CreateObligation validates and stores a new template. The first
// occurrence is the start date.
func (e *ScheduleEngine) CreateObligation(ctx context.Context, o *core.RecurringObligation) error {
	o.IsActive = true
	o.NextOccurrence = o.StartDate
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validate obligation: %w", err)
	}
	if err := e.store.CreateObligation(ctx, o); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Obligation created",
		"obligation_id", o.ID,
		"owner_id", o.OwnerID,
		"frequency", o.Frequency,
		"next_occurrence", o.NextOccurrence.Format("2006-01-02"))
	return nil
}

// DeactivateObligation manually flips a template to its terminal inactive
// state and notifies the sink.
func (e *ScheduleEngine) DeactivateObligation(ctx context.Context, id int64) error {
	o, err := e.store.GetObligation(ctx, id)
	if err != nil {
		return err
	}
	changed, err := e.store.DeactivateObligation(ctx, id)
	if err != nil {
		return err
	}
	if changed {
		e.publishDeactivated(ctx, "", o.OwnerID, id)
	}
	return nil
}

// ListObligations returns all templates for an owner, active or not.
func (e *ScheduleEngine) ListObligations(ctx context.Context, ownerID int64) ([]core.RecurringObligation, error) {
	return e.store.ObligationsByOwner(ctx, ownerID)
}

// ProcessDueObligations materializes every active obligation whose next
// occurrence is not after now. Each item is handled independently: one
// malformed or failing obligation never aborts the run. The returned
// report is the only surface for partial failure.
//
// Overlapping runs are safe: advancing the next occurrence is a
// conditional update filtered on its previous value, so at most one run
// wins each occurrence and only the winner writes the transaction.
func (e *ScheduleEngine) ProcessDueObligations(ctx context.Context, now time.Time) (*ProcessingReport, error) {
	due, err := e.store.DueObligations(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("select due obligations: %w", err)
	}
	return e.processBatch(ctx, now, due)
}

// ProcessDueObligationsForOwner is the owner-scoped variant used by the
// month-end catch-up step, so one owner's sweep does not walk every other
// owner's templates.
func (e *ScheduleEngine) ProcessDueObligationsForOwner(ctx context.Context, ownerID int64, now time.Time) (*ProcessingReport, error) {
	due, err := e.store.DueObligationsByOwner(ctx, ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("select due obligations for owner %d: %w", ownerID, err)
	}
	return e.processBatch(ctx, now, due)
}

func (e *ScheduleEngine) processBatch(ctx context.Context, now time.Time, due []core.RecurringObligation) (*ProcessingReport, error) {
	report := &ProcessingReport{RunID: uuid.NewString()}
	today := core.DateOf(now)

	slog.InfoContext(ctx, "Processing due obligations",
		"run_id", report.RunID,
		"due", len(due),
		"processing_date", today.Format("2006-01-02"))

	for _, o := range due {
		e.processOne(ctx, report, today, o)
	}

	slog.InfoContext(ctx, "Due obligation processing complete",
		"run_id", report.RunID,
		"processed", len(report.Processed),
		"expired", len(report.Expired),
		"errors", len(report.Errors))

	return report, nil
}

func (e *ScheduleEngine) processOne(ctx context.Context, report *ProcessingReport, today core.Date, o core.RecurringObligation) {
	fail := func(err error) {
		slog.ErrorContext(ctx, "Failed to process obligation",
			"run_id", report.RunID,
			"obligation_id", o.ID,
			"error", err)
		report.Errors = append(report.Errors, ItemError{ObligationID: o.ID, Message: err.Error()})
	}

	// The collaborator layer rejects malformed templates at creation, but
	// skip and report anything that slipped through.
	if err := o.Validate(); err != nil {
		fail(fmt.Errorf("malformed obligation: %w", err))
		return
	}

	// Ended templates expire without producing a transaction.
	if !o.EndDate.IsZero() && o.EndDate.Before(today.Time) {
		changed, err := e.store.DeactivateObligation(ctx, o.ID)
		if err != nil {
			fail(fmt.Errorf("expire obligation: %w", err))
			return
		}
		if changed {
			report.Expired = append(report.Expired, o.ID)
			e.publishDeactivated(ctx, report.RunID, o.OwnerID, o.ID)
			slog.InfoContext(ctx, "Obligation expired",
				"run_id", report.RunID,
				"obligation_id", o.ID,
				"end_date", o.EndDate.Format("2006-01-02"))
		}
		return
	}

	next, err := core.NextOccurrence(o.NextOccurrence, o.Frequency)
	if err != nil {
		fail(fmt.Errorf("compute next occurrence: %w", err))
		return
	}

	won, err := e.store.ClaimOccurrence(ctx, o.ID, o.NextOccurrence, next)
	if err != nil {
		fail(fmt.Errorf("claim occurrence: %w", err))
		return
	}
	if !won {
		// A concurrent run already took this occurrence.
		slog.DebugContext(ctx, "Occurrence claimed elsewhere",
			"run_id", report.RunID,
			"obligation_id", o.ID)
		return
	}

	// The transaction is dated at the due date, not the processing time,
	// so late catch-up runs stay historically accurate.
	tx := &core.LedgerTransaction{
		OwnerID:      o.OwnerID,
		Amount:       o.Amount,
		Direction:    o.Direction,
		Category:     o.Category,
		Description:  o.Description,
		OccurredOn:   o.NextOccurrence,
		Tag:          core.TagCurrent,
		ObligationID: o.ID,
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		fail(fmt.Errorf("materialize transaction: %w", err))
		return
	}

	if _, err := e.store.SyncAccountBalance(ctx, o.OwnerID, core.TagCurrent); err != nil {
		fail(fmt.Errorf("resync current balance: %w", err))
		return
	}

	report.Processed = append(report.Processed, o.ID)

	if e.events != nil {
		ev := amqp.NewEvent(amqp.EventTransactionMaterialized, o.OwnerID)
		ev.RunID = report.RunID
		ev.ObligationID = o.ID
		ev.TransactionID = tx.ID
		ev.AmountCents = o.Amount.Cents
		ev.DueDate = o.NextOccurrence.Time
		if err := e.events.Publish(ctx, ev); err != nil {
			slog.WarnContext(ctx, "Failed to publish materialization event",
				"obligation_id", o.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Materialized obligation",
		"run_id", report.RunID,
		"obligation_id", o.ID,
		"transaction_id", tx.ID,
		"amount_cents", o.Amount.Cents,
		"due_date", o.NextOccurrence.Format("2006-01-02"),
		"next_occurrence", next.Format("2006-01-02"))
}

// UpcomingReminders publishes a reminder event for every active obligation
// flagged for reminders whose next occurrence falls within its lead window.
// Returns the number published.
func (e *ScheduleEngine) UpcomingReminders(ctx context.Context, now time.Time) (int, error) {
	if e.events == nil {
		return 0, nil
	}
	upcoming, err := e.store.RemindersDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("select reminders: %w", err)
	}

	published := 0
	for _, o := range upcoming {
		ev := amqp.NewEvent(amqp.EventObligationReminder, o.OwnerID)
		ev.ObligationID = o.ID
		ev.AmountCents = o.Amount.Cents
		ev.DueDate = o.NextOccurrence.Time
		if err := e.events.Publish(ctx, ev); err != nil {
			slog.WarnContext(ctx, "Failed to publish reminder",
				"obligation_id", o.ID, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

func (e *ScheduleEngine) publishDeactivated(ctx context.Context, runID string, ownerID, obligationID int64) {
	if e.events == nil {
		return
	}
	ev := amqp.NewEvent(amqp.EventObligationDeactivated, ownerID)
	ev.RunID = runID
	ev.ObligationID = obligationID
	if err := e.events.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Failed to publish deactivation event",
			"obligation_id", obligationID, "error", err)
	}
}
