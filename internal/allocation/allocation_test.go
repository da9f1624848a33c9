package allocation

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func out(id int64, fy, idx int, base, penalty int64) Outstanding {
	return Outstanding{
		ObligationID: snowflake.ID(id),
		FiscalYear:   fy,
		PeriodIndex:  idx,
		UnpaidBase:   base,
		PenaltyDue:   penalty,
	}
}

func planTotal(p Plan) int64 {
	total := p.CreditDelta
	for _, a := range p.Allocations {
		total += a.BasePortion + a.PenaltyPortion
	}
	return total
}

func TestAllocate_OldestFirstBaseBeforePenalty(t *testing.T) {
	obs := []Outstanding{
		out(1, 2026, 1, 10000, 500),
		out(2, 2026, 2, 10000, 0),
	}

	plan, err := Allocate(11000, obs)
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 2)

	assert.Equal(t, int64(10000), plan.Allocations[0].BasePortion)
	assert.Equal(t, int64(500), plan.Allocations[0].PenaltyPortion)
	assert.Equal(t, int64(500), plan.Allocations[1].BasePortion)
	assert.Equal(t, int64(0), plan.Allocations[1].PenaltyPortion)
	assert.Equal(t, int64(0), plan.CreditDelta)
	assert.Equal(t, int64(11000), planTotal(plan))
}

func TestAllocate_PartialStopsAtFirstUnsatisfied(t *testing.T) {
	obs := []Outstanding{
		out(1, 2026, 1, 10000, 500),
		out(2, 2026, 2, 10000, 0),
	}

	plan, err := Allocate(5000, obs)
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)

	assert.Equal(t, int64(5000), plan.Allocations[0].BasePortion)
	assert.Equal(t, int64(0), plan.Allocations[0].PenaltyPortion)
	assert.Equal(t, int64(0), plan.CreditDelta)
}

func TestAllocate_PenaltyOnlyAfterBaseCleared(t *testing.T) {
	// Exactly covers the base; the penalty stays outstanding and nothing
	// touches the next period.
	obs := []Outstanding{
		out(1, 2026, 1, 10000, 500),
		out(2, 2026, 2, 10000, 0),
	}

	plan, err := Allocate(10000, obs)
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, int64(10000), plan.Allocations[0].BasePortion)
	assert.Equal(t, int64(0), plan.Allocations[0].PenaltyPortion)
	assert.Equal(t, int64(0), plan.CreditDelta)
}

func TestAllocate_OverflowBecomesCredit(t *testing.T) {
	obs := []Outstanding{
		out(1, 2026, 1, 10000, 0),
	}

	plan, err := Allocate(14000, obs)
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, int64(10000), plan.Allocations[0].BasePortion)
	assert.Equal(t, int64(4000), plan.CreditDelta)
	assert.Equal(t, int64(14000), planTotal(plan))
}

func TestAllocate_NoObligationsAllCredit(t *testing.T) {
	plan, err := Allocate(2500, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Allocations)
	assert.Equal(t, int64(2500), plan.CreditDelta)
}

func TestAllocate_SpansFiscalYears(t *testing.T) {
	obs := []Outstanding{
		out(1, 2025, 12, 10000, 1500),
		out(2, 2026, 1, 10000, 0),
		out(3, 2026, 2, 10000, 0),
	}

	plan, err := Allocate(25000, obs)
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 3)
	assert.Equal(t, 2025, plan.Allocations[0].FiscalYear)
	assert.Equal(t, int64(1500), plan.Allocations[0].PenaltyPortion)
	assert.Equal(t, int64(10000), plan.Allocations[1].BasePortion)
	assert.Equal(t, int64(3500), plan.Allocations[2].BasePortion)
	assert.Equal(t, int64(0), plan.CreditDelta)
	assert.Equal(t, int64(25000), planTotal(plan))
}

func TestAllocate_Validation(t *testing.T) {
	_, err := Allocate(0, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Allocate(-100, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Allocate(1000, []Outstanding{
		out(1, 2026, 2, 10000, 0),
		out(2, 2026, 1, 10000, 0),
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = Allocate(1000, []Outstanding{
		out(1, 2026, 1, 10000, 0),
		out(2, 2026, 1, 10000, 0),
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = Allocate(1000, []Outstanding{out(1, 2026, 1, -50, 0)})
	assert.ErrorIs(t, err, ErrNegativeOwed)
}

func TestAllocate_Conservation(t *testing.T) {
	obs := []Outstanding{
		out(1, 2026, 1, 46000, 2300),
		out(2, 2026, 2, 46000, 1150),
		out(3, 2026, 3, 46000, 0),
	}

	for _, amount := range []int64{1, 46000, 48300, 95450, 141450, 200000} {
		plan, err := Allocate(amount, obs)
		require.NoError(t, err)
		assert.Equal(t, amount, planTotal(plan), "amount %d", amount)
	}
}
