// Package allocation distributes a payment across a unit's outstanding
// obligations: oldest period first, base charge before penalty within a
// period, and any remainder becomes a credit addition. The allocator
// mutates nothing; the caller commits the returned plan.
package allocation

import (
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Outstanding is one unpaid obligation as seen at allocation time. The
// caller computes PenaltyDue against the period's frozen rate snapshot
// before calling Allocate.
type Outstanding struct {
	ObligationID snowflake.ID
	FiscalYear   int
	PeriodIndex  int
	UnpaidBase   int64
	PenaltyDue   int64
}

// Allocation is the portion of a payment applied to one obligation.
type Allocation struct {
	ObligationID   snowflake.ID
	FiscalYear     int
	PeriodIndex    int
	BasePortion    int64
	PenaltyPortion int64
}

// Plan is the full outcome of allocating one payment. Conservation holds
// exactly: Σ BasePortion + Σ PenaltyPortion + CreditDelta = payment amount.
type Plan struct {
	Allocations []Allocation
	CreditDelta int64
}

var (
	ErrInvalidAmount = errors.New("invalid_payment_amount")
	ErrInvalidOrder  = errors.New("obligations_not_ascending")
	ErrNegativeOwed  = errors.New("negative_outstanding_amount")
)

// Allocate distributes amount across obligations. The slice must already
// be sorted strictly ascending by (fiscal year, period index); the
// allocator validates rather than re-sorts, so a caller bug surfaces as
// ErrInvalidOrder instead of a silently reordered ledger.
func Allocate(amount int64, obligations []Outstanding) (Plan, error) {
	if amount <= 0 {
		return Plan{}, ErrInvalidAmount
	}
	if err := validateOrder(obligations); err != nil {
		return Plan{}, err
	}

	plan := Plan{Allocations: make([]Allocation, 0, len(obligations))}
	remaining := amount

	for _, ob := range obligations {
		if remaining == 0 {
			break
		}

		alloc := Allocation{
			ObligationID: ob.ObligationID,
			FiscalYear:   ob.FiscalYear,
			PeriodIndex:  ob.PeriodIndex,
		}

		// Base before penalty within the same obligation: penalty for a
		// period only shrinks once its base is cleared, which keeps the
		// penalty engine's recomputation meaningful.
		if ob.UnpaidBase > 0 {
			alloc.BasePortion = min64(remaining, ob.UnpaidBase)
			remaining -= alloc.BasePortion
		}
		if remaining > 0 && ob.PenaltyDue > 0 && alloc.BasePortion == ob.UnpaidBase {
			alloc.PenaltyPortion = min64(remaining, ob.PenaltyDue)
			remaining -= alloc.PenaltyPortion
		}

		if alloc.BasePortion > 0 || alloc.PenaltyPortion > 0 {
			plan.Allocations = append(plan.Allocations, alloc)
		}

		// Move on only when this obligation is fully satisfied.
		if alloc.BasePortion < ob.UnpaidBase || alloc.PenaltyPortion < ob.PenaltyDue {
			break
		}
	}

	// Whatever survives all obligations is the only path by which a
	// payment feeds the credit balance.
	plan.CreditDelta = remaining
	return plan, nil
}

func validateOrder(obligations []Outstanding) error {
	for i, ob := range obligations {
		if ob.UnpaidBase < 0 || ob.PenaltyDue < 0 {
			return ErrNegativeOwed
		}
		if i == 0 {
			continue
		}
		prev := obligations[i-1]
		if ob.FiscalYear < prev.FiscalYear {
			return ErrInvalidOrder
		}
		if ob.FiscalYear == prev.FiscalYear && ob.PeriodIndex <= prev.PeriodIndex {
			return ErrInvalidOrder
		}
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
