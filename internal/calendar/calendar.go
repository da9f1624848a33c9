package calendar

import (
	"errors"
	"time"
)

// Calendar maps calendar dates to a client's fiscal billing periods. A
// fiscal year labelled Y starts on StartMonth of calendar year Y and spans
// PeriodsPerYear consecutive months (period index 1..PeriodsPerYear).
// All date arithmetic for billing lives here; no other package constructs
// period boundaries or counts months.
type Calendar struct {
	StartMonth     time.Month
	PeriodsPerYear int
	// DueDay is the day of the period's first month on which the charge
	// falls due.
	DueDay int
}

var (
	ErrInvalidStartMonth = errors.New("invalid_start_month")
	ErrInvalidPeriods    = errors.New("invalid_periods_per_year")
	ErrInvalidPeriod     = errors.New("invalid_period_index")
)

// New validates and returns a calendar.
func New(startMonth time.Month, periodsPerYear, dueDay int) (Calendar, error) {
	if startMonth < time.January || startMonth > time.December {
		return Calendar{}, ErrInvalidStartMonth
	}
	if periodsPerYear < 1 || periodsPerYear > 12 {
		return Calendar{}, ErrInvalidPeriods
	}
	if dueDay < 1 || dueDay > 28 {
		dueDay = 1
	}
	return Calendar{StartMonth: startMonth, PeriodsPerYear: periodsPerYear, DueDay: dueDay}, nil
}

// PeriodForDate returns the fiscal year and period index containing date.
func (c Calendar) PeriodForDate(date time.Time) (fiscalYear, periodIndex int) {
	date = date.UTC()
	months := int(date.Month()) - int(c.StartMonth)
	fiscalYear = date.Year()
	if months < 0 {
		months += 12
		fiscalYear--
	}
	if months >= c.PeriodsPerYear {
		months = c.PeriodsPerYear - 1
	}
	return fiscalYear, months + 1
}

// PeriodStart returns the first day of the given period, midnight UTC.
func (c Calendar) PeriodStart(fiscalYear, periodIndex int) (time.Time, error) {
	if periodIndex < 1 || periodIndex > c.PeriodsPerYear {
		return time.Time{}, ErrInvalidPeriod
	}
	month := int(c.StartMonth) + periodIndex - 1
	year := fiscalYear
	for month > 12 {
		month -= 12
		year++
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
}

// DueDate returns the date the period's base charge falls due.
func (c Calendar) DueDate(fiscalYear, periodIndex int) (time.Time, error) {
	start, err := c.PeriodStart(fiscalYear, periodIndex)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(start.Year(), start.Month(), c.DueDay, 0, 0, 0, 0, time.UTC), nil
}

// MonthsBetween returns the calendar-month difference from from to to:
// the number of month boundaries crossed, regardless of day of month.
// Any March date is two months after any January date of the same year.
// Zero when to is not after from.
func MonthsBetween(from, to time.Time) int {
	from = from.UTC()
	to = to.UTC()
	if !to.After(from) {
		return 0
	}
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
