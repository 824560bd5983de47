package core

import (
	"testing"
	"time"
)

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -5}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestDirectionSigned(t *testing.T) {
	if got := Income.Signed(Money{Cents: 1500}); got != 1500 {
		t.Errorf("income signed = %d, want 1500", got)
	}
	if got := Expense.Signed(Money{Cents: 1500}); got != -1500 {
		t.Errorf("expense signed = %d, want -1500", got)
	}
}

func TestDateUnixRoundTrip(t *testing.T) {
	d := NewDate(2025, 7, 14)
	if got := DateFromUnix(d.Unix()); !got.Equal(d.Time) {
		t.Errorf("round trip = %v, want %v", got, d)
	}
	if got := (Date{}).Unix(); got != 0 {
		t.Errorf("zero date unix = %d, want 0", got)
	}
	if got := DateFromUnix(0); !got.IsZero() {
		t.Errorf("DateFromUnix(0) = %v, want zero date", got)
	}
}

func TestDateOfTruncates(t *testing.T) {
	ts := time.Date(2025, 5, 3, 17, 45, 12, 0, time.UTC)
	if got := DateOf(ts); !got.Equal(NewDate(2025, 5, 3).Time) {
		t.Errorf("DateOf = %v, want midnight", got)
	}
}

func TestRecurringObligationValidate(t *testing.T) {
	good := RecurringObligation{
		OwnerID:   1,
		Amount:    Money{Cents: 1000},
		Direction: Expense,
		Category:  "Casa",
		Frequency: Monthly,
		StartDate: NewDate(2025, 1, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(o *RecurringObligation)
		wantErr error
	}{
		{"zero amount", func(o *RecurringObligation) { o.Amount.Cents = 0 }, ErrInvalidAmount},
		{"bad direction", func(o *RecurringObligation) { o.Direction = "transfer" }, ErrInvalidDirection},
		{"bad frequency", func(o *RecurringObligation) { o.Frequency = "hourly" }, ErrInvalidFrequency},
		{"empty category", func(o *RecurringObligation) { o.Category = "  " }, ErrEmptyCategory},
		{"zero start", func(o *RecurringObligation) { o.StartDate = Date{} }, ErrZeroStartDate},
		{"end before start", func(o *RecurringObligation) { o.EndDate = NewDate(2024, 12, 1) }, ErrEndBeforeStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := good
			tt.mutate(&o)
			if err := o.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerTransactionValidate(t *testing.T) {
	good := LedgerTransaction{
		OwnerID:    1,
		Amount:     Money{Cents: 250},
		Direction:  Income,
		Category:   "Stipendio",
		OccurredOn: NewDate(2025, 2, 1),
		Tag:        TagCurrent,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := good
	bad.Tag = "savings"
	if err := bad.Validate(); err != ErrInvalidTag {
		t.Errorf("bad tag: got %v, want ErrInvalidTag", err)
	}
}

func TestBudgetPeriodValidate(t *testing.T) {
	good := BudgetPeriod{OwnerID: 1, Category: "Spesa", Limit: Money{Cents: 50000}, Month: 3, Year: 2025}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := good
	bad.Month = 13
	if err := bad.Validate(); err != ErrInvalidMonth {
		t.Errorf("month 13: got %v, want ErrInvalidMonth", err)
	}
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		month, year         int
		wantMonth, wantYear int
	}{
		{3, 2025, 2, 2025},
		{1, 2025, 12, 2024},
		{12, 2025, 11, 2025},
	}
	for _, tt := range tests {
		m, y := PreviousMonth(tt.month, tt.year)
		if m != tt.wantMonth || y != tt.wantYear {
			t.Errorf("PreviousMonth(%d, %d) = (%d, %d), want (%d, %d)",
				tt.month, tt.year, m, y, tt.wantMonth, tt.wantYear)
		}
	}
}
