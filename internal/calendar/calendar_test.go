package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 12, 1)
	assert.ErrorIs(t, err, ErrInvalidStartMonth)

	_, err = New(time.January, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidPeriods)

	cal, err := New(time.January, 12, 40)
	require.NoError(t, err)
	assert.Equal(t, 1, cal.DueDay) // out-of-range due day falls back to 1
}

func TestPeriodForDate_CalendarYear(t *testing.T) {
	cal, err := New(time.January, 12, 1)
	require.NoError(t, err)

	fy, idx := cal.PeriodForDate(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2026, fy)
	assert.Equal(t, 1, idx)

	fy, idx = cal.PeriodForDate(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2026, fy)
	assert.Equal(t, 12, idx)
}

func TestPeriodForDate_JulyFiscalStart(t *testing.T) {
	cal, err := New(time.July, 12, 1)
	require.NoError(t, err)

	fy, idx := cal.PeriodForDate(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2026, fy)
	assert.Equal(t, 1, idx)

	// March 2027 belongs to the fiscal year that started July 2026.
	fy, idx = cal.PeriodForDate(time.Date(2027, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2026, fy)
	assert.Equal(t, 9, idx)
}

func TestPeriodStartAndDueDate(t *testing.T) {
	cal, err := New(time.July, 12, 5)
	require.NoError(t, err)

	start, err := cal.PeriodStart(2026, 8)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC), start)

	due, err := cal.DueDate(2026, 8)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 2, 5, 0, 0, 0, 0, time.UTC), due)

	_, err = cal.PeriodStart(2026, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = cal.PeriodStart(2026, 13)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestMonthsBetween(t *testing.T) {
	jan11 := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, MonthsBetween(jan11, jan11))
	assert.Equal(t, 0, MonthsBetween(jan11, time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, MonthsBetween(jan11, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, MonthsBetween(jan11, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 12, MonthsBetween(jan11, time.Date(2027, 1, 11, 0, 0, 0, 0, time.UTC)))

	// Day of month is irrelevant once the month boundary is crossed.
	jan20 := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, MonthsBetween(jan20, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, MonthsBetween(jan20, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))

	// Reversed range counts nothing.
	assert.Equal(t, 0, MonthsBetween(jan11, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)))
}
