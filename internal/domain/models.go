// Package domain defines the core entities of the cognitive loop: pool
// metrics and profiles, memories, patterns, positions, decisions, outcomes,
// and process-wide agent state. These types are the single source of truth
// shared by every other package; no package redefines them.
package domain

import "time"

// EmotionalState is a tagged variant modulating rebalancer thresholds. All
// behavioral coupling to mood flows through Multipliers below — no string
// comparisons scattered through the decision logic.
type EmotionalState int

const (
	Desperate EmotionalState = iota
	Cautious
	Stable
	Confident
)

// String returns a human-readable name.
func (e EmotionalState) String() string {
	switch e {
	case Desperate:
		return "desperate"
	case Cautious:
		return "cautious"
	case Stable:
		return "stable"
	case Confident:
		return "confident"
	default:
		return "unknown"
	}
}

// ThresholdMultipliers is the single translation table from emotional state
// to rebalancer threshold adjustments (spec.md section 4.7/9).
type ThresholdMultipliers struct {
	AprImprovementFloor float64
	ConfidenceFloor     float64
}

// Multipliers returns the threshold multiplier table entry for e.
func (e EmotionalState) Multipliers() ThresholdMultipliers {
	switch e {
	case Desperate:
		return ThresholdMultipliers{AprImprovementFloor: 1.5, ConfidenceFloor: 1.1}
	case Confident:
		return ThresholdMultipliers{AprImprovementFloor: 0.8, ConfidenceFloor: 1.0}
	default: // Stable, Cautious
		return ThresholdMultipliers{AprImprovementFloor: 1.0, ConfidenceFloor: 1.0}
	}
}

// Mode is the cognitive loop's phase.
type Mode int

const (
	ModeInit Mode = iota
	ModeObserve
	ModeTrade
	ModePaused
)

// String returns a human-readable name.
func (m Mode) String() string {
	switch m {
	case ModeInit:
		return "init"
	case ModeObserve:
		return "observe"
	case ModeTrade:
		return "trade"
	case ModePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// GovernorMode is the Cost Governor's operating mode.
type GovernorMode int

const (
	GovernorNormal GovernorMode = iota
	GovernorCaution
	GovernorEmergency
	GovernorShutdown
)

// String returns a human-readable name.
func (m GovernorMode) String() string {
	switch m {
	case GovernorNormal:
		return "normal"
	case GovernorCaution:
		return "caution"
	case GovernorEmergency:
		return "emergency"
	case GovernorShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// MemoryType is the closed set of memory kinds from spec.md section 3.
type MemoryType string

const (
	MemoryObservation MemoryType = "observation"
	MemoryPattern     MemoryType = "pattern"
	MemoryStrategy    MemoryType = "strategy"
	MemoryOutcome     MemoryType = "outcome"
	MemoryLearning    MemoryType = "learning"
	MemoryError       MemoryType = "error"
)

// MemoryCategory is the closed set of memory categories from spec.md section 3.
type MemoryCategory string

const (
	CategoryMarketPattern           MemoryCategory = "market_pattern"
	CategoryGasOptimizationWindows  MemoryCategory = "gas_optimization_windows"
	CategoryStrategyPerformance     MemoryCategory = "strategy_performance"
	CategoryPoolBehavior            MemoryCategory = "pool_behavior"
	CategoryPoolAnalysis            MemoryCategory = "pool_analysis"
	CategoryUserPreference          MemoryCategory = "user_preference"
	CategoryErrorLearning           MemoryCategory = "error_learning"
	CategoryProfitSource            MemoryCategory = "profit_source"
	CategoryAprDegradationPatterns  MemoryCategory = "apr_degradation_patterns"
	CategoryCompoundRoiPatterns     MemoryCategory = "compound_roi_patterns"
	CategoryPoolLifecyclePatterns   MemoryCategory = "pool_lifecycle_patterns"
	CategoryRebalanceSuccessMetrics MemoryCategory = "rebalance_success_metrics"
	CategoryTvlImpactPatterns       MemoryCategory = "tvl_impact_patterns"
	CategoryRebalanceTiming         MemoryCategory = "rebalance_timing"
	CategoryCompoundThreshold       MemoryCategory = "compound_threshold"
	CategoryGaugeEmissions          MemoryCategory = "gauge_emissions"
	CategoryVolumeTracking          MemoryCategory = "volume_tracking"
	CategoryArbitrageOpportunity    MemoryCategory = "arbitrage_opportunity"
	CategoryNewPool                 MemoryCategory = "new_pool"
	CategoryAprAnomaly              MemoryCategory = "apr_anomaly"
	CategoryFeeCollection           MemoryCategory = "fee_collection"
	CategoryCrossPoolCorrelation    MemoryCategory = "cross_pool_correlation"
)

// DecisionType is the closed set of decision kinds emitted on the DecisionStream.
type DecisionType string

const (
	DecisionHold      DecisionType = "hold"
	DecisionCompound  DecisionType = "compound"
	DecisionRebalance DecisionType = "rebalance"
	DecisionExit      DecisionType = "exit"
	DecisionEnter     DecisionType = "enter"
)

// OutcomeStatus is the closed set of outcome statuses.
type OutcomeStatus string

const (
	OutcomeExecuted OutcomeStatus = "executed"
	OutcomeDeferred OutcomeStatus = "deferred"
	OutcomeRejected OutcomeStatus = "rejected"
	OutcomeFailed   OutcomeStatus = "failed"
)

// PoolMetric is one sample of a pool, keyed by (PoolID, Timestamp).
type PoolMetric struct {
	PoolID         string
	Pair           [2]string
	Stable         bool
	AprTotal       float64
	AprFee         float64
	AprIncentive   float64
	TVLUSD         float64
	Volume24hUSD   float64
	Reserves       map[string]float64 // token_id -> amount
	GasPriceGwei   float64
	Timestamp      time.Time
}

// AprConsistent reports whether AprTotal equals AprFee+AprIncentive within
// the 1e-6 tolerance required by spec.md section 8 invariant 1.
func (m PoolMetric) AprConsistent() bool {
	diff := m.AprTotal - (m.AprFee + m.AprIncentive)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1e-6
}

// PairKey returns a stable, order-independent key for a pool's token pair.
func (m PoolMetric) PairKey() string {
	a, b := m.Pair[0], m.Pair[1]
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}

// PoolRef is the lightweight row SearchOpportunities returns before a full
// PoolMetric is fetched (spec.md section 6 wire contract).
type PoolRef struct {
	PoolID       string
	Pair         [2]string
	Stable       bool
	AprTotal     float64
	AprFee       float64
	AprIncentive float64
	TVLUSD       float64
	Volume24hUSD float64
	Timestamp    time.Time
}

// Quote is the GetSwapQuote response shape.
type Quote struct {
	AmountOut        float64
	PriceImpact      float64
	Route            []string
	EstimatedGasGwei float64
}

// GasQuote is the GetGasPrice response shape.
type GasQuote struct {
	Gwei      float64
	NativeUSD float64
}

// HourlyBucket holds running average metrics and sample count for one hour
// of the day (0-23).
type HourlyBucket struct {
	Hour         int
	Count        int
	MeanApr      float64
	MeanTVL      float64
	MeanVolume   float64
	MeanGasGwei  float64
}

// DailyBucket holds running average metrics and sample count for one weekday.
type DailyBucket struct {
	Weekday    time.Weekday
	Count      int
	MeanApr    float64
	MeanTVL    float64
	MeanVolume float64
}

// Range tracks a min/max pair.
type Range struct {
	Min float64
	Max float64
}

// PoolProfile is the derived, per-pool rolling-statistics entity (spec.md
// section 3/4.4). Created lazily on first metric, updated every cycle that
// sees the pool, persisted on every update, never destroyed.
type PoolProfile struct {
	PoolID   string
	Pair     [2]string

	AprRange    Range
	TVLRange    Range
	VolumeRange Range

	Window []PoolMetric // sliding window, capped at ProfileWindowSize

	HourlyBuckets [24]HourlyBucket
	DailyBuckets  [7]DailyBucket

	TypicalVolumeToTVL float64
	VolatilityScore    float64 // stdev of apr over window
	GasCorrelation     float64 // Pearson(apr, gas), only when >= 20 samples

	ObservationCount int
	ConfidenceScore  float64
	LastUpdated      time.Time
}

// ProfileWindowSize is the sliding-window cap N from spec.md section 3.
const ProfileWindowSize = 100

// MinSamplesForGasCorrelation is the minimum sample count before C4 computes
// a gas correlation coefficient (spec.md section 4.4 step 4).
const MinSamplesForGasCorrelation = 20

// Memory is a durable, categorized, confidence-weighted observation/pattern/
// outcome (spec.md section 3).
type Memory struct {
	ID         string
	Type       MemoryType
	Category   MemoryCategory
	Content    string
	Metadata   MemoryMetadata
	Confidence float64
	Timestamp  time.Time
	References []string
	RecallCount int
}

// MemoryMetadata is the structured + opaque metadata attached to a Memory.
// Pool/Apr/TVL/Volume/PatternType are priority fields that truncation must
// never drop (spec.md section 3 invariant); Extra holds arbitrary
// serializable keys subject to the 2000-byte overall size cap.
type MemoryMetadata struct {
	Pool        string   `msgpack:"pool,omitempty"`
	Apr         *float64 `msgpack:"apr,omitempty"`
	TVL         *float64 `msgpack:"tvl,omitempty"`
	Volume      *float64 `msgpack:"volume,omitempty"`
	PatternType string   `msgpack:"pattern_type,omitempty"`
	Extra       map[string]interface{} `msgpack:"extra,omitempty"`
}

// MaxMemoryMetadataBytes is the serialized-size cap from spec.md section 3/8.
const MaxMemoryMetadataBytes = 2000

// Pattern is promoted from repeated observations (spec.md section 3/4.6).
type Pattern struct {
	ID               string
	PatternType      string
	Description      string
	Occurrences      int
	Successes        int
	Confidence       float64
	DiscoveredAt     time.Time
	LastReinforcedAt time.Time
	AffectedPools    map[string]struct{}
	Metadata         map[string]interface{}
}

// StablePatternOccurrences is the occurrence count at which a pattern is
// considered stable and exempt from confidence decay (spec.md section 4.6 step 5).
const StablePatternOccurrences = 10

// UpdateFromOutcome applies Laplace-smoothed confidence update from an
// outcome (spec.md section 4.6 step 4): occurrences++, successes++ if
// profitable, confidence = (successes+1)/(occurrences+2).
func (p *Pattern) UpdateFromOutcome(profitable bool, at time.Time) {
	p.Occurrences++
	if profitable {
		p.Successes++
	}
	p.Confidence = float64(p.Successes+1) / float64(p.Occurrences+2)
	p.LastReinforcedAt = at
}

// IsStable reports whether the pattern has enough occurrences to be exempt
// from decay.
func (p *Pattern) IsStable() bool {
	return p.Occurrences >= StablePatternOccurrences
}

// Position is a held LP position, read-only from the core's viewpoint;
// lifecycle is owned by the external Executor.
type Position struct {
	ID                string
	PoolID            string
	EntryValueUSD     float64
	CurrentValueUSD   float64
	PendingRewardsUSD float64
	EntryApr          float64
	EntryTimestamp    time.Time
	LastCompoundAt    time.Time
}

// CycleRecord is a per-cycle audit entry, append-only.
type CycleRecord struct {
	CycleNumber      int64
	StartedAt        time.Time
	FinishedAt       time.Time
	Mode             Mode
	ObservationsCount int
	Decisions        []Decision
	GasUsedUSD       float64
	EmotionalState   EmotionalState
}

// AgentState is the process-wide, single-instance state.
type AgentState struct {
	CycleNumber          int64
	Mode                 Mode
	ObservationStartedAt time.Time
	LastAction           string
	EmotionalState       EmotionalState
	TotalValueUSD        float64
	Positions            []Position
}

// Decision is emitted on the DecisionStream (spec.md section 6, stable schema).
type Decision struct {
	ID                string
	CycleNumber       int64
	Seq               int64 // per-cycle sequence number for DecisionStream total ordering
	Timestamp         time.Time
	Type              DecisionType
	PositionID        string
	SourcePool        string
	TargetPool        string
	AmountUSD         float64
	RationaleText     string
	Confidence        float64
	PredictedNetUSD24h float64
	PatternRefs       []string
	DeferUntil        *time.Time
}

// Outcome is consumed by the loop to close the learning loop (spec.md section 6).
type Outcome struct {
	DecisionID    string
	Status        OutcomeStatus
	RealizedNetUSD float64
	GasSpentUSD   float64
	ExecutedAt    time.Time
	Error         string
}

// BudgetLedger is the Cost Governor's per-day running total and mode.
type BudgetLedger struct {
	Day          time.Time // truncated to day boundary
	SpentUSD     float64
	DailyBudgetUSD float64
	Mode         GovernorMode
}
