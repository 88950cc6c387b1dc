package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu96/project-athena-sub001/internal/domain"
)

func TestPromoteFromObservationsCreatesPatternAtThreshold(t *testing.T) {
	e := NewEngine(nil, zerolog.Nop())
	apr := 40.0
	at := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)

	obs := []domain.Memory{
		{ID: "a", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
		{ID: "b", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
		{ID: "c", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
	}

	promoted, err := e.PromoteFromObservations(context.Background(), obs, at)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, 3, promoted[0].Occurrences)
	assert.Equal(t, InitialConfidence, promoted[0].Confidence)

	// a second call with the same observations must not create a duplicate.
	again, err := e.PromoteFromObservations(context.Background(), obs, at)
	require.NoError(t, err)
	assert.Len(t, again, 0)
	assert.Len(t, e.Patterns(), 1)
}

func TestPromoteFromObservationsBelowThresholdDoesNotPromote(t *testing.T) {
	e := NewEngine(nil, zerolog.Nop())
	apr := 40.0
	at := time.Now()

	obs := []domain.Memory{
		{ID: "a", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
		{ID: "b", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
	}

	promoted, err := e.PromoteFromObservations(context.Background(), obs, at)
	require.NoError(t, err)
	assert.Len(t, promoted, 0)
}

func TestReinforceFromOutcomeAppliesLaplaceSmoothing(t *testing.T) {
	e := NewEngine(nil, zerolog.Nop())
	apr := 40.0
	at := time.Now()
	obs := []domain.Memory{
		{ID: "a", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
		{ID: "b", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
		{ID: "c", Category: domain.CategoryGasOptimizationWindows, Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr}, Timestamp: at},
	}
	promoted, err := e.PromoteFromObservations(context.Background(), obs, at)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	id := promoted[0].ID

	updated := e.ReinforceFromOutcome([]string{id}, true, at.Add(time.Hour))
	require.Len(t, updated, 1)
	assert.Equal(t, 4, updated[0].Occurrences)
	assert.Equal(t, 1, updated[0].Successes)
	assert.InDelta(t, 2.0/6.0, updated[0].Confidence, 1e-9)
}

func TestResolveTieBreaksByConfidenceThenOccurrencesThenRecency(t *testing.T) {
	now := time.Now()
	candidates := []domain.Pattern{
		{ID: "p1", Confidence: 0.8, Occurrences: 5, LastReinforcedAt: now.Add(-time.Hour)},
		{ID: "p2", Confidence: 0.8, Occurrences: 10, LastReinforcedAt: now.Add(-2 * time.Hour)},
		{ID: "p3", Confidence: 0.6, Occurrences: 100, LastReinforcedAt: now},
	}

	best, ok := Resolve(candidates)
	require.True(t, ok)
	assert.Equal(t, "p2", best.ID, "higher occurrences should win when confidence ties")
}

func TestResolveEmptyReturnsFalse(t *testing.T) {
	_, ok := Resolve(nil)
	assert.False(t, ok)
}
