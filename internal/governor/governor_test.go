package governor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/errs"
)

func TestModeEscalatesWithSpend(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(30, now, zerolog.Nop())

	assert.Equal(t, domain.GovernorNormal, g.Mode(now))

	require.NoError(t, g.Charge(now, 10)) // 33%
	assert.Equal(t, domain.GovernorCaution, g.Mode(now))

	require.NoError(t, g.Charge(now, 11)) // 70%
	assert.Equal(t, domain.GovernorEmergency, g.Mode(now))

	require.NoError(t, g.Charge(now, 9)) // 100%
	assert.Equal(t, domain.GovernorShutdown, g.Mode(now))
}

func TestChargeAppliesOverBudgetSpendAndReachesShutdown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(30, now, zerolog.Nop())

	err := g.Charge(now, 31)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.BudgetExceeded))
	assert.Equal(t, domain.GovernorShutdown, g.Mode(now), "post-facto charge must still be applied so mode reaches shutdown")
	assert.Equal(t, 30.0, g.Ledger(now).SpentUSD, "spend clamps to the daily budget")
}

func TestChargeCrossingBudgetAcrossMultipleChargesReachesShutdown(t *testing.T) {
	// spec.md scenario S5: daily budget $30; charges total $29.50, then a
	// final $1.00 charge. Mode must transition to shutdown.
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(30, now, zerolog.Nop())

	require.NoError(t, g.Charge(now, 29.50))
	assert.Equal(t, domain.GovernorEmergency, g.Mode(now))

	err := g.Charge(now, 1.00)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.BudgetExceeded))
	assert.Equal(t, domain.GovernorShutdown, g.Mode(now))
}

func TestBudgetResetsOnNewDay(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	g := New(30, day1, zerolog.Nop())
	require.NoError(t, g.Charge(day1, 25))
	assert.Equal(t, domain.GovernorEmergency, g.Mode(day1))

	day2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, domain.GovernorNormal, g.Mode(day2))
	ledger := g.Ledger(day2)
	assert.Equal(t, 0.0, ledger.SpentUSD)
}

func TestCanAffordReflectsRemainingBudget(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(30, now, zerolog.Nop())
	require.NoError(t, g.Charge(now, 20))

	assert.True(t, g.CanAfford(now, 10))
	assert.False(t, g.CanAfford(now, 11))
}
