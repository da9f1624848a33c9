// Package penalty computes compound late-payment penalties. It is pure:
// the result is a function of the obligation snapshot, the as-of date,
// and the frozen rate snapshot, with no hidden accumulators, so callers
// may recompute at any time and always get the same answer for the same
// ledger state.
package penalty

import (
	"errors"
	"time"

	"github.com/mlandesman/SAMS-sub020/internal/calendar"
	rateconfigdomain "github.com/mlandesman/SAMS-sub020/internal/rateconfig/domain"
	"github.com/shopspring/decimal"
)

// Obligation is the minimal slice of ledger state penalty math needs.
type Obligation struct {
	BaseAmount  int64
	PaidBase    int64
	PaidPenalty int64
	// Start is the first day of the billing period; an as-of date before
	// it means the caller resolved the wrong period.
	Start   time.Time
	DueDate time.Time
}

var (
	ErrNegativeBase  = errors.New("negative_base_amount")
	ErrMissingDue    = errors.New("missing_due_date")
	ErrNegativeRate  = errors.New("negative_penalty_rate")
	ErrBeforeBilling = errors.New("as_of_before_billing")
)

// Accrued returns the total penalty accrued on ob as of asOf, in minor
// currency units.
//
// The penalty compounds monthly on the unpaid base remaining at
// computation time: unpaid × ((1+rate)^n − 1), where n is the
// calendar-month difference from the end of the grace period (minimum 1
// once past grace), rounded half-up to the nearest minor unit. Inside
// the grace window the accrued penalty is zero. A fully paid obligation
// freezes its penalty at whatever was actually collected.
func Accrued(ob Obligation, asOf time.Time, rs rateconfigdomain.RateSnapshot) (int64, error) {
	if ob.BaseAmount < 0 {
		return 0, ErrNegativeBase
	}
	if ob.DueDate.IsZero() {
		return 0, ErrMissingDue
	}
	if rs.PenaltyRate.IsNegative() {
		return 0, ErrNegativeRate
	}
	if !ob.Start.IsZero() && asOf.Before(ob.Start) {
		return 0, ErrBeforeBilling
	}

	unpaid := ob.BaseAmount - ob.PaidBase
	if unpaid <= 0 {
		return ob.PaidPenalty, nil
	}

	graceEnd := ob.DueDate.AddDate(0, 0, rs.GraceDays)
	if !asOf.After(graceEnd) {
		return 0, nil
	}

	cycles := calendar.MonthsBetween(graceEnd, asOf)
	if cycles < 1 {
		cycles = 1
	}

	// (1+rate)^n − 1, applied to the unpaid base, round half-up.
	factor := decimal.NewFromInt(1).Add(rs.PenaltyRate).Pow(decimal.NewFromInt(int64(cycles))).Sub(decimal.NewFromInt(1))
	amount := decimal.NewFromInt(unpaid).Mul(factor).Round(0)
	return amount.IntPart(), nil
}

// Due returns the penalty still owed after subtracting what has been
// collected. Never negative.
func Due(ob Obligation, asOf time.Time, rs rateconfigdomain.RateSnapshot) (int64, error) {
	accrued, err := Accrued(ob, asOf, rs)
	if err != nil {
		return 0, err
	}
	due := accrued - ob.PaidPenalty
	if due < 0 {
		due = 0
	}
	return due, nil
}
