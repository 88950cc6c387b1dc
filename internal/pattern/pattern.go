// Package pattern implements C6: promotion of recurring observations into
// patterns, and pattern confidence maintenance from outcomes.
package pattern

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/memory"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// PromotionThreshold is the minimum fingerprint-group occurrence count
// before a new Pattern is created (spec.md section 4.6 step 3).
const PromotionThreshold = 3

// InitialConfidence is the confidence assigned to a newly promoted pattern.
const InitialConfidence = 0.5

// Engine tracks the live set of patterns and promotes new ones from
// clustered observations.
type Engine struct {
	mu       sync.Mutex
	patterns map[string]*domain.Pattern
	mem      *memory.Store
	log      zerolog.Logger
}

// NewEngine wires the pattern engine to the memory store, which receives a
// matching pattern memory whenever a pattern is promoted.
func NewEngine(mem *memory.Store, log zerolog.Logger) *Engine {
	return &Engine{
		patterns: make(map[string]*domain.Pattern),
		mem:      mem,
		log:      logger.Scoped(log, "pattern.engine"),
	}
}

// Patterns returns a snapshot of all tracked patterns.
func (e *Engine) Patterns() []domain.Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, *p)
	}
	return out
}

// PromoteFromObservations groups observations by fingerprint and creates a
// new Pattern (with a matching pattern memory) for every fingerprint with
// at least PromotionThreshold occurrences not already represented by an
// existing pattern (spec.md section 4.6 steps 1-3).
func (e *Engine) PromoteFromObservations(ctx context.Context, observations []domain.Memory, now time.Time) ([]domain.Pattern, error) {
	groups := memory.FindPatterns(observations, PromotionThreshold)

	e.mu.Lock()
	existing := make(map[string]bool, len(e.patterns))
	for fp := range e.patterns {
		existing[fp] = true
	}
	e.mu.Unlock()

	var promoted []domain.Pattern
	for _, g := range groups {
		if existing[g.Fingerprint] {
			continue
		}

		p := domain.Pattern{
			ID:               uuid.NewString(),
			PatternType:      g.Fingerprint,
			Description:      fmt.Sprintf("recurring pattern: %s (%d occurrences)", g.Fingerprint, len(g.Observations)),
			Occurrences:      len(g.Observations),
			Successes:        0,
			Confidence:       InitialConfidence,
			DiscoveredAt:     now,
			LastReinforcedAt: now,
			AffectedPools:    affectedPools(g.Observations),
		}

		e.mu.Lock()
		e.patterns[g.Fingerprint] = &p
		e.mu.Unlock()

		if e.mem != nil {
			patternMem := domain.Memory{
				ID:       p.ID,
				Type:     domain.MemoryPattern,
				Category: domain.CategoryMarketPattern,
				Content:  p.Description,
				Metadata: domain.MemoryMetadata{
					PatternType: p.PatternType,
					Extra:       map[string]interface{}{"occurrences": p.Occurrences, "pattern_id": p.ID},
				},
				Confidence: p.Confidence,
				Timestamp:  now,
			}
			if err := e.mem.Remember(ctx, patternMem); err != nil {
				return nil, fmt.Errorf("pattern.PromoteFromObservations: remember: %w", err)
			}
		}

		promoted = append(promoted, p)
	}
	return promoted, nil
}

func affectedPools(observations []domain.Memory) map[string]struct{} {
	pools := make(map[string]struct{})
	for _, m := range observations {
		if m.Metadata.Pool != "" {
			pools[m.Metadata.Pool] = struct{}{}
		}
	}
	return pools
}

// ReinforceFromOutcome locates the pattern referenced by outcome's decision
// (by id, via patternRefs) and updates its confidence using Laplace
// smoothing (spec.md section 4.6 step 4).
func (e *Engine) ReinforceFromOutcome(patternRefs []string, profitable bool, at time.Time) []domain.Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	var updated []domain.Pattern
	for _, ref := range patternRefs {
		for _, p := range e.patterns {
			if p.ID == ref {
				p.UpdateFromOutcome(profitable, at)
				updated = append(updated, *p)
			}
		}
	}
	return updated
}

// Resolve picks the best matching pattern among candidates for a given
// situation using the tie-break rule of spec.md section 4.6: highest
// confidence, then most occurrences, then most recently reinforced.
func Resolve(candidates []domain.Pattern) (domain.Pattern, bool) {
	if len(candidates) == 0 {
		return domain.Pattern{}, false
	}
	sorted := make([]domain.Pattern, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Occurrences != b.Occurrences {
			return a.Occurrences > b.Occurrences
		}
		return a.LastReinforcedAt.After(b.LastReinforcedAt)
	})
	return sorted[0], true
}
