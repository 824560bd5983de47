package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	BiWeekly  Frequency = "bi-weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

const (
	TagMain    AccountTag = "main"
	TagCurrent AccountTag = "current"
)

type (
	Frequency string

	Direction string

	// AccountTag partitions the ledger into two logical balances per owner.
	AccountTag string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurringObligation is a template for a repeating cash movement.
	// NextOccurrence is advanced only by the schedule engine (via the
	// conditional claim) or recomputed on explicit edit.
	RecurringObligation struct {
		ID               int64
		OwnerID          int64
		Amount           Money
		Direction        Direction
		Category         string
		Description      string
		Frequency        Frequency
		StartDate        Date
		EndDate          Date // zero means no end
		NextOccurrence   Date
		IsActive         bool
		Remind           bool
		RemindDaysBefore int
	}

	// LedgerTransaction is one immutable money movement. ObligationID is
	// set when the transaction was materialized from a recurring template.
	LedgerTransaction struct {
		ID           int64
		OwnerID      int64
		Amount       Money
		Direction    Direction
		Category     string
		Description  string
		OccurredOn   Date
		Tag          AccountTag
		ObligationID int64 // 0 when entered manually
	}

	// Account is one named balance per (owner, tag). Balance is only ever
	// written by a full recompute from the ledger or by the rollover
	// transfer, never incremented elsewhere.
	Account struct {
		OwnerID          int64
		Tag              AccountTag
		Balance          Money
		LastRolloverDate Date
	}

	// BudgetPeriod is a per-category monthly spending limit. Spent is
	// recomputed from the ledger on read and never stored.
	BudgetPeriod struct {
		ID         int64
		OwnerID    int64
		Category   string
		Limit      Money
		Spent      Money
		Month      int
		Year       int
		Icon       string
		IsTemplate bool
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidTag       = errors.New("invalid account tag")
	ErrEmptyCategory    = errors.New("empty category")
	ErrZeroStartDate    = errors.New("start date cannot be zero")
	ErrEndBeforeStart   = errors.New("end date must not precede start date")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrOwnerNotFound    = errors.New("owner not found")
	ErrNotFound         = errors.New("not found")
)

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

// Unix returns the date as unix seconds, 0 for the zero date. Dates are
// persisted this way so range comparisons in SQL stay numeric.
func (d Date) Unix() int64 {
	if d.IsZero() {
		return 0
	}
	return d.Time.Unix()
}

// DateFromUnix is the inverse of Unix.
func DateFromUnix(sec int64) Date {
	if sec == 0 {
		return Date{}
	}
	return Date{Time: time.Unix(sec, 0).UTC()}
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, BiWeekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

func (d Direction) Valid() bool {
	return d == Income || d == Expense
}

func (t AccountTag) Valid() bool {
	return t == TagMain || t == TagCurrent
}

// Signed returns the ledger contribution of an amount moving in direction d:
// positive for income, negative for expense.
func (d Direction) Signed(m Money) int64 {
	if d == Expense {
		return -m.Cents
	}
	return m.Cents
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (o RecurringObligation) Validate() error {
	if err := o.Amount.Validate(); err != nil {
		return err
	}
	if !o.Direction.Valid() {
		return ErrInvalidDirection
	}
	if !o.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if strings.TrimSpace(o.Category) == "" {
		return ErrEmptyCategory
	}
	if o.StartDate.IsZero() {
		return ErrZeroStartDate
	}
	if !o.EndDate.IsZero() && o.EndDate.Before(o.StartDate.Time) {
		return ErrEndBeforeStart
	}
	return nil
}

func (t LedgerTransaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Direction.Valid() {
		return ErrInvalidDirection
	}
	if !t.Tag.Valid() {
		return ErrInvalidTag
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if t.OccurredOn.IsZero() {
		return errors.New("occurrence date cannot be zero")
	}
	return nil
}

func (b BudgetPeriod) Validate() error {
	if err := b.Limit.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if b.Month < 1 || b.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// PreviousMonth returns the (month, year) pair immediately before the given
// one, wrapping January back to December of the previous year.
func PreviousMonth(month, year int) (int, int) {
	if month == 1 {
		return 12, year - 1
	}
	return month - 1, year
}
