package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPoolMetricAprConsistent covers spec invariant 1: apr_total must equal
// apr_fee+apr_incentive within 1e-6.
func TestPoolMetricAprConsistent(t *testing.T) {
	ok := PoolMetric{AprTotal: 0.25, AprFee: 0.10, AprIncentive: 0.15}
	assert.True(t, ok.AprConsistent())

	bad := PoolMetric{AprTotal: 0.25, AprFee: 0.10, AprIncentive: 0.10}
	assert.False(t, bad.AprConsistent())

	// within rounding tolerance
	rounding := PoolMetric{AprTotal: 0.2500001, AprFee: 0.10, AprIncentive: 0.15}
	assert.True(t, rounding.AprConsistent())
}

func TestPoolMetricPairKeyOrderIndependent(t *testing.T) {
	a := PoolMetric{Pair: [2]string{"AERO", "WETH"}}
	b := PoolMetric{Pair: [2]string{"WETH", "AERO"}}
	assert.Equal(t, a.PairKey(), b.PairKey())
}

// TestPatternUpdateFromOutcome covers spec invariant 2: 0 <= successes <=
// occurrences, and confidence == (successes+1)/(occurrences+2) immediately
// after update.
func TestPatternUpdateFromOutcome(t *testing.T) {
	p := &Pattern{Occurrences: 2, Successes: 1, Confidence: 0.5}

	p.UpdateFromOutcome(true, time.Now())
	require.Equal(t, 3, p.Occurrences)
	require.Equal(t, 2, p.Successes)
	assert.InDelta(t, float64(3)/float64(5), p.Confidence, 1e-9)
	assert.LessOrEqual(t, p.Successes, p.Occurrences)
	assert.GreaterOrEqual(t, p.Successes, 0)

	p.UpdateFromOutcome(false, time.Now())
	require.Equal(t, 4, p.Occurrences)
	require.Equal(t, 2, p.Successes)
	assert.InDelta(t, float64(3)/float64(6), p.Confidence, 1e-9)
}

func TestPatternIsStable(t *testing.T) {
	p := &Pattern{Occurrences: 9}
	assert.False(t, p.IsStable())
	p.Occurrences = 10
	assert.True(t, p.IsStable())
}

func TestEmotionalStateMultipliers(t *testing.T) {
	d := Desperate.Multipliers()
	assert.Equal(t, 1.5, d.AprImprovementFloor)
	assert.InDelta(t, 1.1, d.ConfidenceFloor, 1e-9)

	c := Confident.Multipliers()
	assert.Equal(t, 0.8, c.AprImprovementFloor)

	s := Stable.Multipliers()
	assert.Equal(t, 1.0, s.AprImprovementFloor)
	assert.Equal(t, 1.0, s.ConfidenceFloor)
}
