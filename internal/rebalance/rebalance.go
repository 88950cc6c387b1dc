// Package rebalance implements C7: for each position, evaluate HOLD,
// COMPOUND, REBALANCE_TO(pool'), and EXIT, and emit the alternative with the
// highest expected net value over a 24-hour horizon.
package rebalance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/llm"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// Thresholds holds the configured gating values from spec.md sections 4.7/6.
type Thresholds struct {
	AprImprovementFloor   float64 // percentage points, default 5
	ConfidenceFloor       float64 // default 0.7
	CompoundMinValueUSD   float64 // default 50
	CompoundOptimalGasUSD float64 // default 30
	CompoundAlpha         float64 // default 0.85
}

// Governor is the narrow collaborator the rebalancer needs from C9: the
// current mode, which decides whether LLM narration runs and, in emergency
// mode, suppresses rebalance candidates and halves the compound gas ceiling.
type Governor interface {
	Mode(now time.Time) domain.GovernorMode
}

// Rebalancer evaluates positions and emits decisions.
type Rebalancer struct {
	thresholds Thresholds
	llmClient  llm.LLM
	governor   Governor
	log        zerolog.Logger
}

// New builds a Rebalancer. llmClient may be nil (narration falls back to a
// templated rationale).
func New(thresholds Thresholds, llmClient llm.LLM, governor Governor, log zerolog.Logger) *Rebalancer {
	return &Rebalancer{
		thresholds: thresholds,
		llmClient:  llmClient,
		governor:   governor,
		log:        logger.Scoped(log, "rebalance"),
	}
}

// alternative is one of the four candidates evaluated per position.
type alternative struct {
	decisionType domain.DecisionType
	targetPool   string
	predictedNet float64
	confidence   float64
	predictedApr float64
	deferUntil   *time.Time
	patternRefs  []string
	rationale    string
	viable       bool
}

// Evaluate produces the Decision for one position, given its own pool's
// profile and candidate pools' profiles (already fetched by the caller),
// the matching patterns for each pool, current gas price, the agent's
// emotional state, and whether the agent is currently in trade mode
// (spec.md section 4.7).
func (r *Rebalancer) Evaluate(
	ctx context.Context,
	cycleNumber int64,
	seq int64,
	pos domain.Position,
	currentProfile domain.PoolProfile,
	currentPatterns []domain.Pattern,
	candidates []CandidatePool,
	gasPriceUSD float64,
	emotional domain.EmotionalState,
	inTradeMode bool,
	now time.Time,
) (domain.Decision, error) {
	mult := emotional.Multipliers()
	aprFloor := r.thresholds.AprImprovementFloor * mult.AprImprovementFloor
	confFloor := r.thresholds.ConfidenceFloor * mult.ConfidenceFloor

	currentApr := predictedApr(currentProfile, currentPatterns, now)

	hold := alternative{decisionType: domain.DecisionHold, predictedNet: 0, viable: true, predictedApr: currentApr}

	govMode := domain.GovernorNormal
	if r.governor != nil {
		govMode = r.governor.Mode(now)
	}
	emergency := govMode == domain.GovernorEmergency

	compound := r.evaluateCompound(pos, currentProfile, currentApr, gasPriceUSD, confFloor, emergency)
	exit := evaluateExit(pos, currentApr, confFloor)

	// spec.md section 4.7 boundary behavior: a cycle running while the
	// governor is in emergency mode emits no rebalance decisions at all.
	var bestRebalance alternative
	haveRebalance := false
	if inTradeMode && !emergency {
		for _, c := range candidates {
			alt := r.evaluateRebalance(pos, c, currentApr, aprFloor, confFloor, now)
			if alt.viable && (!haveRebalance || alt.predictedNet > bestRebalance.predictedNet) {
				bestRebalance = alt
				haveRebalance = true
			}
		}
	}

	// Evaluate every viable alternative (compound, exit, best rebalance) in a
	// fixed priority order — compound first, then exit, then rebalance — so
	// that equal-value ties favor the lower-execution-risk action.
	best := hold
	for _, alt := range []alternative{compound, exit, bestRebalance} {
		if !alt.viable {
			continue
		}
		if alt.predictedNet > best.predictedNet {
			best = alt
		}
	}

	d := domain.Decision{
		ID:                  uuid.NewString(),
		CycleNumber:         cycleNumber,
		Seq:                 seq,
		Timestamp:           now,
		Type:                best.decisionType,
		PositionID:          pos.ID,
		SourcePool:          pos.PoolID,
		TargetPool:          best.targetPool,
		AmountUSD:           pos.CurrentValueUSD,
		Confidence:          best.confidence,
		PredictedNetUSD24h:  best.predictedNet,
		PatternRefs:         best.patternRefs,
		DeferUntil:          best.deferUntil,
	}
	d.RationaleText = r.narrate(ctx, d, best, now)

	return d, nil
}

// evaluateCompound applies the COMPOUND gating of spec.md section 4.7. Under
// governor emergency mode the gas ceiling tightens to half the configured
// optimal-gas threshold (spec.md section 4.7 boundary behavior).
func (r *Rebalancer) evaluateCompound(pos domain.Position, profile domain.PoolProfile, currentApr, gasPriceUSD float64, confFloor float64, emergency bool) alternative {
	t := r.thresholds
	if pos.PendingRewardsUSD < t.CompoundMinValueUSD {
		return alternative{decisionType: domain.DecisionCompound}
	}
	gasCeiling := t.CompoundOptimalGasUSD
	if emergency {
		gasCeiling = 0.5 * t.CompoundOptimalGasUSD
	}
	if gasPriceUSD > gasCeiling {
		return alternative{decisionType: domain.DecisionCompound}
	}
	netAfterGas := pos.PendingRewardsUSD - gasPriceUSD
	if netAfterGas < t.CompoundAlpha*pos.PendingRewardsUSD {
		return alternative{decisionType: domain.DecisionCompound}
	}

	gasWindowOK := gasWindowEndorses(profile)
	if !gasWindowOK {
		return alternative{decisionType: domain.DecisionCompound}
	}

	return alternative{
		decisionType: domain.DecisionCompound,
		predictedNet: netAfterGas,
		confidence:   confFloor,
		predictedApr: currentApr,
		viable:       true,
		rationale:    "pending rewards clear gas and alpha floor within an endorsed gas window",
	}
}

// gasWindowEndorses reports whether the current hour's gas bucket mean is at
// or below the profile's overall mean gas (a cheap-gas window), or whether
// no gas data exists yet (absent pattern = pass per spec.md section 4.7).
func gasWindowEndorses(profile domain.PoolProfile) bool {
	if profile.ObservationCount == 0 {
		return true
	}
	hour := time.Now().UTC().Hour()
	bucket := profile.HourlyBuckets[hour]
	if bucket.Count == 0 {
		return true
	}
	overall := overallMeanGas(profile)
	return bucket.MeanGasGwei <= overall
}

func overallMeanGas(profile domain.PoolProfile) float64 {
	if len(profile.Window) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range profile.Window {
		sum += m.GasPriceGwei
	}
	return sum / float64(len(profile.Window))
}

// evaluateExit covers spec.md section 4.7's fourth alternative: leaving a
// pool whose predicted APR has gone negative (incentives no longer cover
// impermanent loss and fees). Its expected value is the loss avoided by
// withdrawing now rather than holding through another day of negative carry.
func evaluateExit(pos domain.Position, currentApr float64, confFloor float64) alternative {
	exitConfidence := 1.0 // deterministic threshold trigger, not pattern-derived
	if currentApr >= 0 || exitConfidence < confFloor {
		return alternative{decisionType: domain.DecisionExit}
	}
	notional := pos.CurrentValueUSD
	if notional <= 0 {
		notional = 1.0
	}
	avoidedLoss := -currentApr / 100.0 / 365.0 * notional
	return alternative{
		decisionType: domain.DecisionExit,
		predictedNet: avoidedLoss,
		confidence:   exitConfidence,
		viable:       true,
		rationale:    fmt.Sprintf("predicted apr %.2f%% is negative, exiting avoids further carry loss", currentApr),
	}
}

// CandidatePool bundles a candidate pool's profile, its matching patterns,
// and the estimated gas cost (USD) of a swap into it.
type CandidatePool struct {
	PoolID      string
	Profile     domain.PoolProfile
	Patterns    []domain.Pattern
	GasCostUSD  float64
}

// evaluateRebalance applies the REBALANCE gating of spec.md section 4.7.
func (r *Rebalancer) evaluateRebalance(pos domain.Position, c CandidatePool, currentApr, aprFloor, confFloor float64, now time.Time) alternative {
	candidateApr := predictedApr(c.Profile, c.Patterns, now)

	pattern, ok := bestPattern(c.Patterns)
	confidence := 0.0
	if ok {
		confidence = pattern.Confidence
	}

	notional := pos.CurrentValueUSD
	if notional <= 0 {
		notional = 1.0
	}
	grossGain24h := (candidateApr - currentApr) / 100.0 / 365.0 * notional
	netGain24h := grossGain24h - c.GasCostUSD

	if grossGain24h <= 2*c.GasCostUSD {
		return alternative{decisionType: domain.DecisionRebalance}
	}
	if candidateApr-currentApr < aprFloor {
		return alternative{decisionType: domain.DecisionRebalance}
	}
	if confidence < confFloor {
		return alternative{decisionType: domain.DecisionRebalance}
	}

	var refs []string
	if ok {
		refs = []string{pattern.ID}
	}

	var deferUntil *time.Time
	if betterWindowAhead(c.Profile, now) {
		t := now.Add(6 * time.Hour)
		deferUntil = &t
	}

	return alternative{
		decisionType: domain.DecisionRebalance,
		targetPool:   c.PoolID,
		predictedNet: netGain24h,
		confidence:   confidence,
		predictedApr: candidateApr,
		patternRefs:  refs,
		deferUntil:   deferUntil,
		viable:       true,
		rationale:    fmt.Sprintf("candidate apr %.2f%% beats current %.2f%% by >= floor", candidateApr, currentApr),
	}
}

func betterWindowAhead(profile domain.PoolProfile, now time.Time) bool {
	hour := now.UTC().Hour()
	current := profile.HourlyBuckets[hour]
	if current.Count == 0 {
		return false
	}
	for h := 1; h <= 6; h++ {
		future := profile.HourlyBuckets[(hour+h)%24]
		if future.Count > 0 && future.MeanGasGwei < current.MeanGasGwei*0.7 {
			return true
		}
	}
	return false
}

func bestPattern(patterns []domain.Pattern) (domain.Pattern, bool) {
	var best domain.Pattern
	found := false
	for _, p := range patterns {
		if !found || p.Confidence > best.Confidence {
			best = p
			found = true
		}
	}
	return best, found
}

// predictedApr implements spec.md section 4.7's formula:
// predicted_apr = current_apr * decay(pool_age, patterns) + bucket_adjustment(hour, weekday).
func predictedApr(p domain.PoolProfile, patterns []domain.Pattern, now time.Time) float64 {
	currentApr := 0.0
	if len(p.Window) > 0 {
		currentApr = p.Window[len(p.Window)-1].AprTotal
	}

	decay := 1.0
	for _, pat := range patterns {
		if v, ok := pat.Metadata["decay"]; ok {
			if f, ok := v.(float64); ok {
				decay = f
			}
		}
	}

	overall := overallMeanApr(p)
	hour := now.UTC().Hour()
	weekday := now.UTC().Weekday()
	hourAdj := 0.0
	if p.HourlyBuckets[hour].Count > 0 {
		hourAdj = p.HourlyBuckets[hour].MeanApr - overall
	}
	dayAdj := 0.0
	if p.DailyBuckets[int(weekday)].Count > 0 {
		dayAdj = p.DailyBuckets[int(weekday)].MeanApr - overall
	}
	bucketAdjustment := (hourAdj + dayAdj) / 2.0

	return currentApr*decay + bucketAdjustment
}

func overallMeanApr(p domain.PoolProfile) float64 {
	if len(p.Window) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range p.Window {
		sum += m.AprTotal
	}
	return sum / float64(len(p.Window))
}

// narrate enriches the rationale with an LLM-generated explanation when the
// governor allows it; otherwise falls back to the templated rationale
// already computed numerically. The LLM never decides — only narrates
// (spec.md section 4.10 supplemental).
func (r *Rebalancer) narrate(ctx context.Context, d domain.Decision, alt alternative, now time.Time) string {
	fallback := alt.rationale
	if fallback == "" {
		fallback = fmt.Sprintf("%s: predicted net %.2f usd over 24h, confidence %.2f", d.Type, d.PredictedNetUSD24h, d.Confidence)
	}

	if r.llmClient == nil {
		return fallback
	}
	if r.governor != nil && r.governor.Mode(now) != domain.GovernorNormal {
		return fallback
	}

	prompt := fmt.Sprintf(
		"Decision type=%s source_pool=%s target_pool=%s predicted_net_usd_24h=%.2f confidence=%.2f. Explain briefly.",
		d.Type, d.SourcePool, d.TargetPool, d.PredictedNetUSD24h, d.Confidence,
	)
	rationale, err := r.llmClient.Complete(ctx, prompt)
	if err != nil {
		r.log.Warn().Err(err).Msg("llm narration failed, falling back to templated rationale")
		return fallback
	}
	if rationale.Reasoning == "" {
		return fallback
	}
	return rationale.Reasoning
}
