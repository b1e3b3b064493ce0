// Package billingdate computes the calendar dates on which a contract bills.
package billingdate

import "time"

// LastDay is the billing-day sentinel for "last calendar day of the month".
const LastDay = 99

type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleAnnual  Cycle = "annual"
)

// Valid reports whether day is an accepted billing-day setting.
func Valid(day int) bool {
	return (day >= 1 && day <= 28) || day == LastDay
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayInMonth resolves a billing day to a concrete date in year/month at UTC midnight.
// 1-28 map to themselves and LastDay maps to 28/29/30/31. Values outside the
// accepted set are clamped into the month so the function is total.
func DayInMonth(day int, year int, month time.Month) time.Time {
	last := DaysIn(year, month)
	switch {
	case day == LastDay || day > last:
		day = last
	case day < 1:
		day = 1
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Schedule is the billing calendar of one contract.
type Schedule struct {
	Day         int
	Cycle       Cycle
	AnchorMonth time.Month
}

// OnOrAfter returns the first billing date that is not before t's calendar day.
func (s Schedule) OnOrAfter(t time.Time) time.Time {
	day := truncate(t)
	if s.Cycle == CycleAnnual {
		anchor := s.anchor()
		candidate := DayInMonth(s.Day, day.Year(), anchor)
		if candidate.Before(day) {
			candidate = DayInMonth(s.Day, day.Year()+1, anchor)
		}
		return candidate
	}

	candidate := DayInMonth(s.Day, day.Year(), day.Month())
	if candidate.Before(day) {
		next := time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		candidate = DayInMonth(s.Day, next.Year(), next.Month())
	}
	return candidate
}

// Next returns the first billing date strictly after t's calendar day.
func (s Schedule) Next(t time.Time) time.Time {
	return s.OnOrAfter(truncate(t).AddDate(0, 0, 1))
}

// Previous returns the last billing date strictly before t's calendar day.
func (s Schedule) Previous(t time.Time) time.Time {
	day := truncate(t)
	if s.Cycle == CycleAnnual {
		candidate := DayInMonth(s.Day, day.Year(), s.anchor())
		if !candidate.Before(day) {
			candidate = DayInMonth(s.Day, day.Year()-1, s.anchor())
		}
		return candidate
	}

	candidate := DayInMonth(s.Day, day.Year(), day.Month())
	if !candidate.Before(day) {
		prev := time.Date(day.Year(), day.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		candidate = DayInMonth(s.Day, prev.Year(), prev.Month())
	}
	return candidate
}

// IsBillingDate reports whether t falls on a billing date.
func (s Schedule) IsBillingDate(t time.Time) bool {
	return s.OnOrAfter(t).Equal(truncate(t))
}

// Dates returns n consecutive billing dates starting on or after from.
func (s Schedule) Dates(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	current := s.OnOrAfter(from)
	for i := 0; i < n; i++ {
		out = append(out, current)
		current = s.Next(current)
	}
	return out
}

func (s Schedule) anchor() time.Month {
	if s.AnchorMonth < time.January || s.AnchorMonth > time.December {
		return time.January
	}
	return s.AnchorMonth
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
