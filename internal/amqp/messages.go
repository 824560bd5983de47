package amqp

import (
	"encoding/json"
	"time"
)

type EventType string

// Event types published to the sink. Delivery and formatting are the
// consumer's concern; the scheduler only fires and forgets.
const (
	EventTransactionMaterialized EventType = "transaction.materialized"
	EventObligationDeactivated   EventType = "obligation.deactivated"
	EventObligationReminder      EventType = "obligation.reminder"
	EventRolloverCompleted       EventType = "rollover.completed"
)

// Event is the message published for every notable ledger-side effect.
// Consumers fetch full records from the store by ID; the payload stays
// lightweight on purpose.
type Event struct {
	Type          EventType `json:"type"`
	RunID         string    `json:"run_id,omitempty"`
	OwnerID       int64     `json:"owner_id"`
	ObligationID  int64     `json:"obligation_id,omitempty"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	DueDate       time.Time `json:"due_date,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(typ EventType, ownerID int64) Event {
	return Event{
		Type:      typ,
		OwnerID:   ownerID,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON creates an event from JSON bytes.
func EventFromJSON(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
