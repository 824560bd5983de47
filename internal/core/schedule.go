package core

import "time"

// NextOccurrence returns the occurrence strictly after d for the given
// frequency.
//
// Month-based frequencies (monthly, quarterly, yearly) clamp the day to the
// last day of the target month instead of letting the calendar overflow:
// Jan 31 + 1 month is Feb 28 (29 in leap years), not Mar 2-3. The clamped day
// is not re-anchored afterwards, so Jan 31 -> Feb 28 -> Mar 28. This mirrors
// how the monthly target day is clamped when deciding dueness.
func NextOccurrence(d Date, f Frequency) (Date, error) {
	if d.IsZero() {
		return Date{}, ErrZeroStartDate
	}
	switch f {
	case Daily:
		return DateOf(d.AddDate(0, 0, 1)), nil
	case Weekly:
		return DateOf(d.AddDate(0, 0, 7)), nil
	case BiWeekly:
		return DateOf(d.AddDate(0, 0, 14)), nil
	case Monthly:
		return addMonthsClamped(d, 1), nil
	case Quarterly:
		return addMonthsClamped(d, 3), nil
	case Yearly:
		return addMonthsClamped(d, 12), nil
	default:
		return Date{}, ErrInvalidFrequency
	}
}

func addMonthsClamped(d Date, months int) Date {
	y, m, day := d.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return NewDate(target.Year(), int(target.Month()), day)
}

// daysIn returns the number of days in the given month; day 0 of the next
// month normalizes to the last day of this one.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
