package cognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu96/project-athena-sub001/internal/clock"
	"github.com/sonu96/project-athena-sub001/internal/config"
	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/executor"
	"github.com/sonu96/project-athena-sub001/internal/market"
	"github.com/sonu96/project-athena-sub001/internal/memory"
	"github.com/sonu96/project-athena-sub001/internal/pattern"
	"github.com/sonu96/project-athena-sub001/internal/profile"
	"github.com/sonu96/project-athena-sub001/internal/rebalance"
)

// --- fakes ---

type fakeDocStore struct {
	mu   sync.Mutex
	docs map[string]domain.Memory
}

func newFakeDocStore() *fakeDocStore { return &fakeDocStore{docs: make(map[string]domain.Memory)} }

func (f *fakeDocStore) Put(_ context.Context, m domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == "" {
		m.ID = "mem-" + time.Now().String() + "-" + m.Content
	}
	f.docs[m.ID] = m
	return nil
}

func (f *fakeDocStore) Get(_ context.Context, id string) (domain.Memory, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.docs[id]
	return m, ok, nil
}

func (f *fakeDocStore) Query(_ context.Context, _ memory.Filter) ([]domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Memory
	for _, m := range f.docs {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeDocStore) All(ctx context.Context) ([]domain.Memory, error) { return f.Query(ctx, memory.Filter{}) }

func (f *fakeDocStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeDocStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

type fakeIndex struct{ mu sync.Mutex }

func (f *fakeIndex) Index(context.Context, domain.Memory) error                           { return nil }
func (f *fakeIndex) Search(context.Context, string, int) ([]memory.ScoredID, error) { return nil, nil }

type fakeGateway struct {
	refs    []domain.PoolRef
	metrics map[string]domain.PoolMetric
	gas     domain.GasQuote
}

func (g *fakeGateway) SearchOpportunities(context.Context, float64, float64, int) ([]domain.PoolRef, error) {
	return g.refs, nil
}

func (g *fakeGateway) GetPoolMetrics(_ context.Context, poolID string) (domain.PoolMetric, error) {
	return g.metrics[poolID], nil
}

func (g *fakeGateway) GetGasPrice(context.Context, string) (domain.GasQuote, error) {
	return g.gas, nil
}

func (g *fakeGateway) GetSwapQuote(_ context.Context, tokenIn, _ string, _ float64) (domain.Quote, error) {
	return domain.Quote{AmountOut: 1.0}, nil
}

type fakePositions struct{ positions []domain.Position }

func (p fakePositions) Positions(context.Context) ([]domain.Position, error) { return p.positions, nil }

func testConfig() *config.Config {
	return &config.Config{
		CyclePeriod:         300 * time.Second,
		ObservationPeriod:   time.Hour,
		MinPatternsToTrade:  1,
		ConfidenceFloor:     0.5,
		MinAprForMemory:     20,
		MinVolumeForMemory:  100000,
		MaxMemoriesPerCycle: 50,
		Stablecoins:         map[string]struct{}{"USDC": {}},
	}
}

func newTestLoop(t *testing.T, cfg *config.Config, gw Gateway, positions PositionSource, exec executor.Executor, budget BudgetGovernor) (*Loop, *fakeDocStore) {
	t.Helper()
	docs := newFakeDocStore()
	memStore := memory.NewStore(&fakeIndex{}, docs, zerolog.Nop())
	profiles := profile.NewStore(zerolog.Nop())
	patterns := pattern.NewEngine(memStore, zerolog.Nop())
	rebalancer := rebalance.New(rebalance.Thresholds{
		AprImprovementFloor:   5,
		ConfidenceFloor:       0.5,
		CompoundMinValueUSD:   50,
		CompoundOptimalGasUSD: 30,
		CompoundAlpha:         0.85,
	}, nil, nil, zerolog.Nop())
	mockClock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	l := New(Deps{
		Config:     cfg,
		Clock:      mockClock,
		Gateway:    gw,
		PriceCache: market.NewPriceCache(cfg, zerolog.Nop()),
		Profiles:   profiles,
		Memory:     memStore,
		Patterns:   patterns,
		Rebalancer: rebalancer,
		Budget:     budget,
		Executor:   exec,
		Positions:  positions,
		Log:        zerolog.Nop(),
	})
	return l, docs
}

type fakeBudget struct {
	mode domain.GovernorMode
}

func (f *fakeBudget) Mode(time.Time) domain.GovernorMode           { return f.mode }
func (f *fakeBudget) CanAfford(time.Time, float64) bool            { return true }
func (f *fakeBudget) Charge(time.Time, float64) error              { return nil }

func TestStrategizeAndDecideEmitsAtMostOneDecisionPerPool(t *testing.T) {
	// spec.md invariant 6: for any single pool in one cycle, at most one
	// Decision is emitted, even if two positions (which should never happen
	// upstream) share a PoolID.
	positions := fakePositions{positions: []domain.Position{
		{ID: "pos-1", PoolID: "pool-a", CurrentValueUSD: 1000},
		{ID: "pos-2", PoolID: "pool-a", CurrentValueUSD: 2000},
		{ID: "pos-3", PoolID: "pool-b", CurrentValueUSD: 3000},
	}}
	l, _ := newTestLoop(t, testConfig(), &fakeGateway{}, positions, nil, &fakeBudget{mode: domain.GovernorNormal})

	decisions, err := l.strategizeAndDecide(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, d := range decisions {
		seen[d.SourcePool]++
	}
	for poolID, count := range seen {
		assert.LessOrEqual(t, count, 1, "pool %s got %d decisions in one cycle", poolID, count)
	}
	assert.LessOrEqual(t, len(decisions), 2, "pool-a must contribute at most one decision despite two positions")
}

func TestLoadTransitionsInitToObserve(t *testing.T) {
	l, _ := newTestLoop(t, testConfig(), &fakeGateway{}, fakePositions{}, nil, &fakeBudget{mode: domain.GovernorNormal})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Load(nil, now)
	assert.Equal(t, domain.ModeObserve, l.State().Mode)
}

func TestControlPauseThenResumeRestoresPriorMode(t *testing.T) {
	l, _ := newTestLoop(t, testConfig(), &fakeGateway{}, fakePositions{}, nil, &fakeBudget{mode: domain.GovernorNormal})
	now := time.Now()
	l.Load(nil, now)
	require.NoError(t, l.Control(CommandForceTrade, now))
	require.Equal(t, domain.ModeTrade, l.State().Mode)

	require.NoError(t, l.Control(CommandPause, now))
	assert.Equal(t, domain.ModePaused, l.State().Mode)

	require.NoError(t, l.Control(CommandResume, now))
	assert.Equal(t, domain.ModeTrade, l.State().Mode)
}

func TestControlForceObserveResetsObservationClock(t *testing.T) {
	l, _ := newTestLoop(t, testConfig(), &fakeGateway{}, fakePositions{}, nil, &fakeBudget{mode: domain.GovernorNormal})
	now := time.Now()
	l.Load(nil, now)
	require.NoError(t, l.Control(CommandForceTrade, now))
	require.NoError(t, l.Control(CommandForceObserve, now.Add(time.Hour)))
	assert.Equal(t, domain.ModeObserve, l.State().Mode)
	assert.Equal(t, now.Add(time.Hour), l.State().ObservationStartedAt)
}

func TestTickWritesQualifyingObservationMemories(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{
		refs: []domain.PoolRef{{PoolID: "pool-a"}, {PoolID: "pool-b"}},
		metrics: map[string]domain.PoolMetric{
			"pool-a": {PoolID: "pool-a", AprTotal: 50, TVLUSD: 1_000_000, Volume24hUSD: 10000, GasPriceGwei: 1},
			"pool-b": {PoolID: "pool-b", AprTotal: 2, TVLUSD: 1_000_000, Volume24hUSD: 1000, GasPriceGwei: 1},
		},
		gas: domain.GasQuote{Gwei: 1, NativeUSD: 1},
	}
	l, docs := newTestLoop(t, cfg, gw, fakePositions{}, executor.NewMemory(func(d domain.Decision) (domain.Outcome, error) {
		return domain.Outcome{Status: domain.OutcomeExecuted, ExecutedAt: time.Now()}, nil
	}), &fakeBudget{mode: domain.GovernorNormal})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Load(nil, now)

	require.NoError(t, l.Tick(context.Background()))

	_, ok := l.profiles.Get("pool-a")
	assert.True(t, ok)
	assert.Equal(t, 1, docs.count(), "only pool-a (apr >= 20) should qualify for a memory write")
}

func TestEvaluateTradeGatePromotesAfterObservationPeriodAndPatternCount(t *testing.T) {
	cfg := testConfig()
	l, _ := newTestLoop(t, cfg, &fakeGateway{}, fakePositions{}, nil, &fakeBudget{mode: domain.GovernorNormal})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Load(nil, now)

	// Seed a promoted, confident pattern directly via the pattern engine.
	observations := make([]domain.Memory, 0, 3)
	for i := 0; i < 3; i++ {
		observations = append(observations, domain.Memory{
			Type:     domain.MemoryObservation,
			Category: domain.CategoryPoolAnalysis,
			Metadata: domain.MemoryMetadata{Pool: "pool-a", Apr: floatPtr(50)},
			Timestamp: now,
		})
	}
	_, err := l.patterns.PromoteFromObservations(context.Background(), observations, now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(l.patterns.Patterns()), 1)

	later := now.Add(2 * time.Hour)
	l.evaluateTradeGate(later)
	assert.Equal(t, domain.ModeTrade, l.State().Mode)
}

func TestStoppedReflectsEmergencyStop(t *testing.T) {
	l, _ := newTestLoop(t, testConfig(), &fakeGateway{}, fakePositions{}, nil, &fakeBudget{mode: domain.GovernorNormal})
	now := time.Now()
	assert.False(t, l.Stopped(now))

	require.NoError(t, l.Control(CommandEmergencyStop, now))
	assert.True(t, l.Stopped(now))
}

func TestStoppedReflectsBudgetShutdown(t *testing.T) {
	l, _ := newTestLoop(t, testConfig(), &fakeGateway{}, fakePositions{}, nil, &fakeBudget{mode: domain.GovernorShutdown})
	assert.True(t, l.Stopped(time.Now()))
}

func floatPtr(f float64) *float64 { return &f }
