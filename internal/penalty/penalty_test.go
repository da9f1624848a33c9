package penalty

import (
	"testing"
	"time"

	rateconfigdomain "github.com/mlandesman/SAMS-sub020/internal/rateconfig/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(rate string, graceDays int) rateconfigdomain.RateSnapshot {
	return rateconfigdomain.RateSnapshot{
		UnitRate:    10000,
		PenaltyRate: decimal.RequireFromString(rate),
		GraceDays:   graceDays,
	}
}

func obligation(base, paidBase, paidPenalty int64) Obligation {
	return Obligation{
		BaseAmount:  base,
		PaidBase:    paidBase,
		PaidPenalty: paidPenalty,
		Start:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAccrued_CompoundsMonthly(t *testing.T) {
	// 10000 at 5%/month, grace 10 days, two whole cycles past grace:
	// 10000 * (1.05^2 - 1) = 1025.
	asOf := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got, err := Accrued(obligation(10000, 0, 0), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(1025), got)
}

func TestAccrued_MidMonthDueCountsMonthBoundaries(t *testing.T) {
	// Due Jan 10, grace 10 days: grace ends Jan 20. By Mar 15 two month
	// boundaries have passed, so two cycles accrue even though fewer than
	// two whole months elapsed since the grace end.
	ob := Obligation{
		BaseAmount: 10000,
		Start:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:    time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	asOf := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	got, err := Accrued(ob, asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(1025), got)
}

func TestAccrued_SingleCycle(t *testing.T) {
	asOf := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	got, err := Accrued(obligation(10000, 0, 0), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)
}

func TestAccrued_MinimumOneCyclePastGrace(t *testing.T) {
	// Past grace but no month boundary crossed yet still accrues one cycle.
	asOf := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	got, err := Accrued(obligation(10000, 0, 0), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)
}

func TestAccrued_ZeroInsideGrace(t *testing.T) {
	asOf := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	got, err := Accrued(obligation(10000, 0, 0), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestAccrued_CompoundsOnUnpaidRemainder(t *testing.T) {
	// Half the base paid: penalty compounds on the 5000 still owed.
	asOf := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got, err := Accrued(obligation(10000, 5000, 0), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(513), got) // 5000 * (1.05^2 - 1) = 512.5, round half-up
}

func TestAccrued_FullyPaidFreezesPenalty(t *testing.T) {
	asOf := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err := Accrued(obligation(10000, 10000, 500), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)
}

func TestAccrued_Idempotent(t *testing.T) {
	asOf := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	ob := obligation(123457, 10000, 0)
	rs := snapshot("0.0375", 15)

	first, err := Accrued(ob, asOf, rs)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Accrued(ob, asOf, rs)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAccrued_ConfigurationErrors(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := Accrued(obligation(-1, 0, 0), asOf, snapshot("0.05", 10))
	assert.ErrorIs(t, err, ErrNegativeBase)

	ob := obligation(10000, 0, 0)
	ob.DueDate = time.Time{}
	_, err = Accrued(ob, asOf, snapshot("0.05", 10))
	assert.ErrorIs(t, err, ErrMissingDue)

	_, err = Accrued(obligation(10000, 0, 0), asOf, snapshot("-0.05", 10))
	assert.ErrorIs(t, err, ErrNegativeRate)

	before := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err = Accrued(obligation(10000, 0, 0), before, snapshot("0.05", 10))
	assert.ErrorIs(t, err, ErrBeforeBilling)
}

func TestDue_SubtractsCollected(t *testing.T) {
	asOf := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	due, err := Due(obligation(10000, 0, 300), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Equal(t, int64(725), due)

	// Collected more than currently accrued never goes negative.
	due, err = Due(obligation(10000, 0, 2000), asOf, snapshot("0.05", 10))
	require.NoError(t, err)
	assert.Zero(t, due)
}
