// Package cognition implements C8: the state-machine driver that sequences
// observation, memory, pattern promotion, decision-making, execution, and
// learning once per cycle tick, and handles the INIT/OBSERVE/TRADE/PAUSED
// mode transitions and control commands.
package cognition

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/clock"
	"github.com/sonu96/project-athena-sub001/internal/config"
	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/errs"
	"github.com/sonu96/project-athena-sub001/internal/executor"
	"github.com/sonu96/project-athena-sub001/internal/market"
	"github.com/sonu96/project-athena-sub001/internal/memory"
	"github.com/sonu96/project-athena-sub001/internal/pattern"
	"github.com/sonu96/project-athena-sub001/internal/profile"
	"github.com/sonu96/project-athena-sub001/internal/rebalance"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// Command is a one-shot control input (spec.md section 4.10/6).
type Command string

const (
	CommandPause         Command = "pause"
	CommandResume        Command = "resume"
	CommandForceTrade     Command = "force_trade"
	CommandForceObserve   Command = "force_observe"
	CommandEmergencyStop Command = "emergency_stop"
)

// categoriesForRemember are the pattern categories recalled for active
// positions in the REMEMBER step (spec.md section 4.8 step 2).
var categoriesForRemember = []domain.MemoryCategory{
	domain.CategoryAprDegradationPatterns,
	domain.CategoryGasOptimizationWindows,
	domain.CategoryTvlImpactPatterns,
}

// topKOpportunities is the number of SearchOpportunities results the OBSERVE
// step fetches full metrics for.
const topKOpportunities = 20

// searchMinApr/searchMinVolume seed SearchOpportunities's own floor; well
// below the memory-storage threshold so the profile store still sees pools
// that don't individually qualify for a Memory write.
const (
	searchMinApr    = 0
	searchMinVolume = 0
)

// Gateway is the narrow C2 surface the loop needs.
type Gateway interface {
	SearchOpportunities(ctx context.Context, minApr, minVolume24h float64, limit int) ([]domain.PoolRef, error)
	GetPoolMetrics(ctx context.Context, poolID string) (domain.PoolMetric, error)
	GetGasPrice(ctx context.Context, chain string) (domain.GasQuote, error)
	GetSwapQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (domain.Quote, error)
}

// PositionSource supplies the externally-owned position snapshot (spec.md
// section 6: positions/{id} is "latest snapshot supplied by the Executor").
type PositionSource interface {
	Positions(ctx context.Context) ([]domain.Position, error)
}

// Loop is C8: the single-threaded, cooperative per-cycle driver.
type Loop struct {
	cfg        *config.Config
	clock      clock.Clock
	gateway    Gateway
	priceCache *market.PriceCache
	profiles   *profile.Store
	mem        *memory.Store
	patterns   *pattern.Engine
	rebalancer *rebalance.Rebalancer
	budget     BudgetGovernor
	exec       executor.Executor
	positions  PositionSource
	log        zerolog.Logger

	onDecision func(domain.Decision)
	onOutcome  func(domain.Outcome)
	onCycle    func(domain.CycleRecord)

	mu               sync.Mutex
	state            domain.AgentState
	modeBeforePause  domain.Mode
	emergencyStopped bool
	skipTickForEmergency bool
	seq              int64
}

// BudgetGovernor is the narrow C9 surface the loop consults for mode-gated
// behavior (doubling tick period, stop on shutdown) and charges for gas spent.
type BudgetGovernor interface {
	Mode(now time.Time) domain.GovernorMode
	CanAfford(now time.Time, amountUSD float64) bool
	Charge(now time.Time, amountUSD float64) error
}

// Deps bundles the Loop's collaborators (spec.md section 9: inject an
// explicit configuration record rather than reach for global singletons).
type Deps struct {
	Config     *config.Config
	Clock      clock.Clock
	Gateway    Gateway
	PriceCache *market.PriceCache
	Profiles   *profile.Store
	Memory     *memory.Store
	Patterns   *pattern.Engine
	Rebalancer *rebalance.Rebalancer
	Budget     BudgetGovernor
	Executor   executor.Executor
	Positions  PositionSource
	Log        zerolog.Logger

	OnDecision func(domain.Decision)
	OnOutcome  func(domain.Outcome)
	OnCycle    func(domain.CycleRecord)
}

// New builds the cognitive loop with a fresh AgentState in mode INIT.
func New(d Deps) *Loop {
	now := d.Clock.Now()
	return &Loop{
		cfg:        d.Config,
		clock:      d.Clock,
		gateway:    d.Gateway,
		priceCache: d.PriceCache,
		profiles:   d.Profiles,
		mem:        d.Memory,
		patterns:   d.Patterns,
		rebalancer: d.Rebalancer,
		budget:     d.Budget,
		exec:       d.Executor,
		positions:  d.Positions,
		log:        logger.Scoped(d.Log, "cognition"),
		onDecision: d.OnDecision,
		onOutcome:  d.OnOutcome,
		onCycle:    d.OnCycle,
		state: domain.AgentState{
			Mode:                 domain.ModeInit,
			ObservationStartedAt: now,
			EmotionalState:       domain.Stable,
		},
	}
}

// State returns a snapshot of the current agent state, for C10 StateQuery.
func (l *Loop) State() domain.AgentState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Load transitions INIT -> OBSERVE, starting the observation clock. Call
// once at startup after restoring any persisted AgentState.
func (l *Loop) Load(state *domain.AgentState, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state != nil {
		l.state = *state
	}
	if l.state.Mode == domain.ModeInit {
		l.state.Mode = domain.ModeObserve
		l.state.ObservationStartedAt = now
	}
}

// Control applies a one-shot control command (spec.md section 4.10/6).
func (l *Loop) Control(cmd Command, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch cmd {
	case CommandPause:
		if l.state.Mode != domain.ModePaused {
			l.modeBeforePause = l.state.Mode
			l.state.Mode = domain.ModePaused
		}
	case CommandResume:
		if l.state.Mode == domain.ModePaused {
			l.state.Mode = l.modeBeforePause
		}
	case CommandForceTrade:
		if l.state.Mode == domain.ModeObserve {
			l.state.Mode = domain.ModeTrade
		}
	case CommandForceObserve:
		l.state.Mode = domain.ModeObserve
		l.state.ObservationStartedAt = now
	case CommandEmergencyStop:
		l.emergencyStopped = true
		l.state.Mode = domain.ModePaused
	default:
		return errs.New(errs.Invariant, "cognition.Control", fmt.Errorf("unrecognized command %q", cmd))
	}
	l.state.LastAction = string(cmd)
	return nil
}

// Stopped reports whether an EmergencyStop command has been applied or the
// budget governor has tripped shutdown; the caller (main) should stop the
// scheduler and exit with the matching code.
func (l *Loop) Stopped(now time.Time) bool {
	l.mu.Lock()
	stopped := l.emergencyStopped
	l.mu.Unlock()
	if stopped {
		return true
	}
	return l.budget.Mode(now) == domain.GovernorShutdown
}

// Tick runs exactly one cycle: OBSERVE, REMEMBER, ANALYZE/THEORIZE,
// STRATEGIZE & DECIDE, EXECUTE, LEARN (spec.md section 4.8). It matches
// scheduler.TickHandler's signature.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.clock.Now()

	l.mu.Lock()
	mode := l.state.Mode
	l.mu.Unlock()

	if mode == domain.ModePaused {
		l.log.Debug().Msg("tick skipped: agent paused")
		return nil
	}

	// Emergency mode doubles the effective tick period by running the full
	// sequence on every other tick (spec.md section 4.9 (i)).
	if l.budget.Mode(now) == domain.GovernorEmergency {
		l.mu.Lock()
		skip := l.skipTickForEmergency
		l.skipTickForEmergency = !skip
		l.mu.Unlock()
		if !skip {
			l.log.Debug().Msg("tick skipped: emergency budget mode doubles cycle period")
			return nil
		}
	}

	cycleNumber := l.nextCycleNumber()
	record := domain.CycleRecord{CycleNumber: cycleNumber, StartedAt: now}

	observations, metrics, err := l.observe(ctx, now)
	if err != nil {
		return err
	}

	l.remember(ctx, now)

	if _, err := l.patterns.PromoteFromObservations(ctx, observations, now); err != nil {
		l.log.Warn().Err(err).Msg("pattern promotion failed")
	}
	record.ObservationsCount = len(metrics)

	l.mu.Lock()
	currentMode := l.state.Mode
	l.mu.Unlock()

	l.evaluateTradeGate(now)

	if currentMode == domain.ModeTrade {
		decisions, err := l.strategizeAndDecide(ctx, now)
		if err != nil {
			l.log.Warn().Err(err).Msg("strategize/decide failed")
		} else {
			outcomes := l.execute(ctx, decisions)
			l.learn(ctx, now, decisions, outcomes)
			record.Decisions = decisions
			for _, o := range outcomes {
				record.GasUsedUSD += o.GasSpentUSD
			}
		}
	}

	record.FinishedAt = l.clock.Now()
	l.mu.Lock()
	record.Mode = l.state.Mode
	record.EmotionalState = l.state.EmotionalState
	l.mu.Unlock()

	if l.onCycle != nil {
		l.onCycle(record)
	}
	return nil
}

func (l *Loop) nextCycleNumber() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.CycleNumber++
	l.seq = 0
	return l.state.CycleNumber
}

// observe implements step 1: pre-populate the price cache for base tokens,
// search for opportunities, fetch metrics, feed the profile store, and write
// qualifying observations to memory (capped at MaxMemoriesPerCycle).
func (l *Loop) observe(ctx context.Context, now time.Time) ([]domain.Memory, []domain.PoolMetric, error) {
	// Pre-populate the price cache for WETH/AERO via their stable pairs so
	// that TVLFromReserves, below, never needs to recurse into the very pool
	// it is pricing (spec.md section 4.3, scenario S6).
	market.PrimeBaseTokenPrices(ctx, l.priceCache, now, l.cfg.BaseTokens, market.RouteStablecoin, l.gateway)

	refs, err := l.gateway.SearchOpportunities(ctx, searchMinApr, searchMinVolume, topKOpportunities)
	if err != nil {
		return nil, nil, fmt.Errorf("cognition.observe: search opportunities: %w", err)
	}

	var metrics []domain.PoolMetric
	var observations []domain.Memory
	written := 0

	for _, ref := range refs {
		metric, err := l.gateway.GetPoolMetrics(ctx, ref.PoolID)
		if err != nil {
			l.log.Warn().Err(err).Str("pool_id", ref.PoolID).Msg("get pool metrics failed, skipping")
			continue
		}
		if tvl, ok := market.TVLFromReserves(ctx, l.priceCache, now, metric, market.RouteStablecoin, l.gateway); ok {
			metric.TVLUSD = tvl
		} else if len(metric.Reserves) > 0 {
			l.log.Warn().Str("pool_id", metric.PoolID).Msg("tvl unresolved from reserves, reporting 0")
			metric.TVLUSD = 0
		}
		metrics = append(metrics, metric)

		_, anomaly := l.profiles.Update(metric, now)
		if anomaly != nil {
			l.log.Info().Str("pool_id", anomaly.PoolID).Float64("sigma", anomaly.Sigma).Msg("apr anomaly detected")
		}

		if written >= l.cfg.MaxMemoriesPerCycle {
			continue
		}
		if !qualifiesForMemory(metric, l.cfg) {
			continue
		}

		m := observationMemory(metric, anomaly, now)
		if err := l.mem.Remember(ctx, m); err != nil {
			l.log.Warn().Err(err).Msg("remember observation failed")
			continue
		}
		observations = append(observations, m)
		written++
	}

	return observations, metrics, nil
}

// qualifiesForMemory applies the storage threshold of spec.md section 4.8
// step 1: APR >= min_apr_for_memory OR volume >= min_volume_for_memory OR
// imbalanced reserves.
func qualifiesForMemory(m domain.PoolMetric, cfg *config.Config) bool {
	if m.AprTotal >= cfg.MinAprForMemory {
		return true
	}
	if m.Volume24hUSD >= cfg.MinVolumeForMemory {
		return true
	}
	return imbalancedReserves(m)
}

// imbalancedReserves reports whether a two-token pool's reserves deviate
// from an even split by more than 20 percentage points, compared on raw
// token amounts (not USD value), a cheap proxy for the shape of the
// underlying curve.
func imbalancedReserves(m domain.PoolMetric) bool {
	if len(m.Reserves) != 2 {
		return false
	}
	var amounts []float64
	for _, v := range m.Reserves {
		amounts = append(amounts, v)
	}
	total := amounts[0] + amounts[1]
	if total <= 0 {
		return false
	}
	ratio := amounts[0] / total
	return ratio < 0.3 || ratio > 0.7
}

func observationMemory(m domain.PoolMetric, anomaly *profile.Anomaly, now time.Time) domain.Memory {
	apr := m.AprTotal
	tvl := m.TVLUSD
	vol := m.Volume24hUSD
	category := domain.CategoryPoolAnalysis
	content := fmt.Sprintf("pool %s apr=%.2f%% tvl=%.0f volume=%.0f", m.PoolID, m.AprTotal, m.TVLUSD, m.Volume24hUSD)
	if anomaly != nil {
		category = domain.CategoryAprAnomaly
		content = fmt.Sprintf("pool %s apr anomaly: %.2f vs bucket mean %.2f (%.1f sigma)", m.PoolID, anomaly.Value, anomaly.BucketMean, anomaly.Sigma)
	}
	return domain.Memory{
		Type:     domain.MemoryObservation,
		Category: category,
		Content:  content,
		Metadata: domain.MemoryMetadata{
			Pool: m.PoolID,
			Apr:  &apr,
			TVL:  &tvl,
			Volume: &vol,
		},
		Confidence: 0.6,
		Timestamp:  now,
	}
}

// remember implements step 2: recall relevant patterns for active positions
// in the three named pattern categories. The recalled memories are not used
// directly here (they feed STRATEGIZE & DECIDE via the pattern engine's own
// in-memory pattern set) but the recall keeps the memory store's recall-count
// bookkeeping current per spec.md section 3.
func (l *Loop) remember(ctx context.Context, now time.Time) {
	positions, err := l.positions.Positions(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("fetch positions failed")
		return
	}
	for _, pos := range positions {
		for _, cat := range categoriesForRemember {
			f := memory.Filter{Category: cat, PoolPair: [2]string{pos.PoolID, pos.PoolID}, HasPoolPair: true}
			_, err := l.mem.Recall(ctx, string(cat), f, 10)
			if err != nil {
				l.log.Warn().Err(err).Str("pool_id", pos.PoolID).Str("category", string(cat)).Msg("recall failed")
			}
		}
	}
}

// evaluateTradeGate applies the OBSERVE -> TRADE transition of spec.md
// section 4.8: elapsed observation period AND enough confident patterns.
// The transition never reverses except via an explicit force_observe
// control command.
func (l *Loop) evaluateTradeGate(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Mode != domain.ModeObserve {
		return
	}
	elapsed := now.Sub(l.state.ObservationStartedAt) >= l.cfg.ObservationPeriod
	confidentCount := 0
	for _, p := range l.patterns.Patterns() {
		if p.Confidence >= l.cfg.ConfidenceFloor {
			confidentCount++
		}
	}
	if elapsed && confidentCount >= l.cfg.MinPatternsToTrade {
		l.state.Mode = domain.ModeTrade
	}
}

// strategizeAndDecide implements step 4: call the Rebalancer for every
// active position, building candidate pools from the profile store and
// current gas price.
func (l *Loop) strategizeAndDecide(ctx context.Context, now time.Time) ([]domain.Decision, error) {
	positions, err := l.positions.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("cognition.strategizeAndDecide: positions: %w", err)
	}
	gasQuote, err := l.gateway.GetGasPrice(ctx, "base")
	if err != nil {
		l.log.Warn().Err(err).Msg("gas price fetch failed, proceeding with zero gas estimate")
	}

	emotional := l.State().EmotionalState
	candidates := l.buildCandidates(gasQuote)

	// Positions are assumed one-per-pool; this guard enforces spec.md
	// invariant 6 (at most one Decision per pool per cycle) even if that
	// assumption is ever violated upstream, rather than emitting conflicting
	// decisions for the same pool.
	seenPools := make(map[string]bool, len(positions))

	var decisions []domain.Decision
	for _, pos := range positions {
		if seenPools[pos.PoolID] {
			l.log.Warn().Str("pool_id", pos.PoolID).Str("position_id", pos.ID).
				Msg("skipping position: pool already decided this cycle")
			continue
		}

		currentProfile, _ := l.profiles.Get(pos.PoolID)
		currentPatterns := l.patternsForPool(pos.PoolID)

		l.mu.Lock()
		l.seq++
		seq := l.seq
		cycleNumber := l.state.CycleNumber
		l.mu.Unlock()

		d, err := l.rebalancer.Evaluate(ctx, cycleNumber, seq, pos, currentProfile, currentPatterns, candidates, gasQuote.NativeUSD, emotional, true, now)
		if err != nil {
			l.log.Warn().Err(err).Str("position_id", pos.ID).Msg("evaluate failed")
			continue
		}
		seenPools[pos.PoolID] = true
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func (l *Loop) buildCandidates(gasQuote domain.GasQuote) []rebalance.CandidatePool {
	var out []rebalance.CandidatePool
	for _, p := range l.profiles.Snapshot() {
		out = append(out, rebalance.CandidatePool{
			PoolID:     p.PoolID,
			Profile:    p,
			Patterns:   l.patternsForPool(p.PoolID),
			GasCostUSD: gasQuote.NativeUSD,
		})
	}
	return out
}

func (l *Loop) patternsForPool(poolID string) []domain.Pattern {
	var out []domain.Pattern
	for _, p := range l.patterns.Patterns() {
		if _, ok := p.AffectedPools[poolID]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// execute implements step 5: submit each decision to the external Executor.
// Decisions carrying a future defer_until are skipped: they are neither
// emitted nor submitted, and they are not kept for a later cycle.
func (l *Loop) execute(ctx context.Context, decisions []domain.Decision) []domain.Outcome {
	now := l.clock.Now()
	outcomes := make([]domain.Outcome, 0, len(decisions))
	for _, d := range decisions {
		if d.DeferUntil != nil && now.Before(*d.DeferUntil) {
			l.log.Debug().Str("decision_id", d.ID).Time("defer_until", *d.DeferUntil).Msg("decision deferred")
			continue
		}
		if l.onDecision != nil {
			l.onDecision(d)
		}
		if d.Type == domain.DecisionHold {
			continue
		}
		o, err := l.exec.Submit(ctx, d)
		if err != nil {
			l.log.Warn().Err(err).Str("decision_id", d.ID).Msg("executor submit failed")
			o = domain.Outcome{DecisionID: d.ID, Status: domain.OutcomeFailed, ExecutedAt: now, Error: err.Error()}
		}
		if l.onOutcome != nil {
			l.onOutcome(o)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// learn implements step 6: write outcome memories, reinforce pattern
// confidence, and update AgentState.
func (l *Loop) learn(ctx context.Context, now time.Time, decisions []domain.Decision, outcomes []domain.Outcome) {
	byDecision := make(map[string]domain.Outcome, len(outcomes))
	for _, o := range outcomes {
		byDecision[o.DecisionID] = o
	}

	var totalValue float64
	for _, d := range decisions {
		o, ok := byDecision[d.ID]
		if !ok {
			continue
		}
		profitable := o.Status == domain.OutcomeExecuted && o.RealizedNetUSD > 0
		l.patterns.ReinforceFromOutcome(d.PatternRefs, profitable, now)

		content := fmt.Sprintf("decision %s outcome=%s realized_net_usd=%.2f", d.ID, o.Status, o.RealizedNetUSD)
		m := domain.Memory{
			Type:       domain.MemoryOutcome,
			Category:   domain.CategoryStrategyPerformance,
			Content:    content,
			Confidence: 0.8,
			Timestamp:  now,
			References: append([]string{d.ID}, d.PatternRefs...),
		}
		if err := l.mem.Remember(ctx, m); err != nil {
			l.log.Warn().Err(err).Msg("remember outcome failed")
		}
		if o.GasSpentUSD > 0 {
			if err := l.budget.Charge(now, o.GasSpentUSD); err != nil {
				l.log.Warn().Err(err).Msg("charge budget failed")
			}
		}
		totalValue += o.RealizedNetUSD
	}

	l.mu.Lock()
	l.state.LastAction = "learn"
	l.state.EmotionalState = deriveEmotionalState(l.budget.Mode(now), totalValue)
	l.mu.Unlock()
}

// deriveEmotionalState maps the governor's budget pressure and the cycle's
// realized PnL to the emotional state that modulates the rebalancer's
// thresholds (spec.md section 4.7's open question on how emotional_state is
// set): budget pressure dominates (desperate under emergency/shutdown,
// cautious under caution), a profitable normal cycle turns confident, an
// unprofitable one stays stable.
func deriveEmotionalState(mode domain.GovernorMode, cycleRealizedNetUSD float64) domain.EmotionalState {
	switch mode {
	case domain.GovernorShutdown, domain.GovernorEmergency:
		return domain.Desperate
	case domain.GovernorCaution:
		return domain.Cautious
	default:
		if cycleRealizedNetUSD > 0 {
			return domain.Confident
		}
		return domain.Stable
	}
}
