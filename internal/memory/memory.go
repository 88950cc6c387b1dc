// Package memory implements C5: the categorized, confidence-weighted,
// semantically indexed memory store. Production vector-index and
// document-store backends are out of scope (spec.md section 1); this
// package defines the narrow abstract collaborators the core depends on
// and composes them into MemoryStore.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/errs"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// ScoredID is one vector-similarity search hit.
type ScoredID struct {
	ID         string
	Similarity float64
}

// VectorIndex is the semantic-recall collaborator (spec.md section 4.5).
type VectorIndex interface {
	Index(ctx context.Context, m domain.Memory) error
	Search(ctx context.Context, queryText string, limit int) ([]ScoredID, error)
}

// Filter narrows a DocStore query by the fields spec.md section 4.5 names.
type Filter struct {
	Category      domain.MemoryCategory
	Type          domain.MemoryType
	MinConfidence float64
	MaxAge        time.Duration
	PoolPair      [2]string
	HasPoolPair   bool
}

// DocStore is the structured-filter collaborator (spec.md section 4.5).
type DocStore interface {
	Put(ctx context.Context, m domain.Memory) error
	Get(ctx context.Context, id string) (domain.Memory, bool, error)
	Query(ctx context.Context, f Filter) ([]domain.Memory, error)
	All(ctx context.Context) ([]domain.Memory, error)
	Delete(ctx context.Context, id string) error
}

// Store composes a VectorIndex and a DocStore into the Memory Store
// operations of spec.md section 4.5.
type Store struct {
	index VectorIndex
	docs  DocStore
	log   zerolog.Logger
}

// NewStore wires the two collaborators.
func NewStore(index VectorIndex, docs DocStore, log zerolog.Logger) *Store {
	return &Store{index: index, docs: docs, log: logger.Scoped(log, "memory.store")}
}

// Remember stores memory: metadata is cleaned and truncated to 2 KB
// preserving priority fields, then written to both collaborators.
func (s *Store) Remember(ctx context.Context, m domain.Memory) error {
	truncated, err := TruncateMetadata(m.Metadata)
	if err != nil {
		return errs.New(errs.Invariant, "memory.Remember", err)
	}
	m.Metadata = truncated

	if err := s.docs.Put(ctx, m); err != nil {
		return fmt.Errorf("memory.Remember: doc store put: %w", err)
	}
	if s.index != nil {
		if err := s.index.Index(ctx, m); err != nil {
			return fmt.Errorf("memory.Remember: vector index: %w", err)
		}
	}
	return nil
}

// Recall runs vector similarity first, then applies the metadata filter,
// returning up to limit items ordered by composite score
// 0.7*similarity + 0.3*confidence. Each returned memory has its RecallCount
// incremented and written back to the DocStore.
func (s *Store) Recall(ctx context.Context, queryText string, f Filter, limit int) ([]domain.Memory, error) {
	candidateLimit := limit * 4
	if candidateLimit < limit {
		candidateLimit = limit
	}

	var hits []ScoredID
	if s.index != nil {
		var err error
		hits, err = s.index.Search(ctx, queryText, candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("memory.Recall: vector search: %w", err)
		}
	}

	type scored struct {
		mem   domain.Memory
		score float64
	}
	var results []scored
	now := time.Now()

	for _, h := range hits {
		m, ok, err := s.docs.Get(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("memory.Recall: doc store get: %w", err)
		}
		if !ok || !matches(m, f, now) {
			continue
		}
		results = append(results, scored{mem: m, score: 0.7*h.Similarity + 0.3*m.Confidence})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]domain.Memory, len(results))
	for i, r := range results {
		r.mem.RecallCount++
		if err := s.docs.Put(ctx, r.mem); err != nil {
			return nil, fmt.Errorf("memory.Recall: update recall count: %w", err)
		}
		out[i] = r.mem
	}
	return out, nil
}

func matches(m domain.Memory, f Filter, now time.Time) bool {
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.MinConfidence > 0 && m.Confidence < f.MinConfidence {
		return false
	}
	if f.MaxAge > 0 && now.Sub(m.Timestamp) > f.MaxAge {
		return false
	}
	if f.HasPoolPair && m.Metadata.Pool != f.PoolPair[0] && m.Metadata.Pool != f.PoolPair[1] {
		return false
	}
	return true
}

// RecallPoolMemories is a metadata-only query; results are chronological
// when timeWindow is set (>0), otherwise ordered by confidence descending.
func (s *Store) RecallPoolMemories(ctx context.Context, poolID string, memType domain.MemoryType, timeWindow time.Duration, limit int) ([]domain.Memory, error) {
	f := Filter{Type: memType, MaxAge: timeWindow}
	all, err := s.docs.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("memory.RecallPoolMemories: %w", err)
	}

	filtered := all[:0:0]
	for _, m := range all {
		if m.Metadata.Pool == poolID {
			filtered = append(filtered, m)
		}
	}

	if timeWindow > 0 {
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].Timestamp.Before(filtered[j].Timestamp) })
	} else {
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].Confidence > filtered[j].Confidence })
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// RememberPoolCorrelation stores a cross_pool_correlation memory.
func (s *Store) RememberPoolCorrelation(ctx context.Context, poolA, poolB, corrType string, strength float64) error {
	m := domain.Memory{
		Type:     domain.MemoryPattern,
		Category: domain.CategoryCrossPoolCorrelation,
		Content:  fmt.Sprintf("%s correlation between %s and %s: %.3f", corrType, poolA, poolB, strength),
		Metadata: domain.MemoryMetadata{
			Extra: map[string]interface{}{
				"pool_a": poolA,
				"pool_b": poolB,
				"type":   corrType,
				"strength": strength,
			},
		},
		Confidence: math.Abs(strength),
		Timestamp:  time.Now(),
	}
	return s.Remember(ctx, m)
}

// GetPoolTimeline returns pool_behavior memories for poolID over the last
// `hours`, ordered chronologically.
func (s *Store) GetPoolTimeline(ctx context.Context, poolID string, hours float64) ([]domain.Memory, error) {
	f := Filter{Category: domain.CategoryPoolBehavior, MaxAge: time.Duration(hours * float64(time.Hour))}
	all, err := s.docs.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("memory.GetPoolTimeline: %w", err)
	}
	var out []domain.Memory
	for _, m := range all {
		if m.Metadata.Pool == poolID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ObservationGroup is one fingerprint cluster returned by FindPatterns.
type ObservationGroup struct {
	Fingerprint  string
	Observations []domain.Memory
}

// FindPatterns groups observations by a deterministic fingerprint (category
// + pool + coarse-quantized key fields) and returns groups with count >=
// minOccurrences. It does not itself write pattern memories — that is C6's
// duty (spec.md section 4.5).
func FindPatterns(observations []domain.Memory, minOccurrences int) []ObservationGroup {
	groups := make(map[string][]domain.Memory)
	for _, m := range observations {
		fp := Fingerprint(m)
		groups[fp] = append(groups[fp], m)
	}

	var out []ObservationGroup
	for fp, ms := range groups {
		if len(ms) >= minOccurrences {
			out = append(out, ObservationGroup{Fingerprint: fp, Observations: ms})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// Fingerprint computes category + pool_pair + coarse-quantized key fields
// (APR to nearest 5%, TVL to a log-bucket, hour-of-day), per spec.md
// section 4.6 step 2.
func Fingerprint(m domain.Memory) string {
	aprBucket := 0.0
	if m.Metadata.Apr != nil {
		aprBucket = math.Round(*m.Metadata.Apr/5.0) * 5.0
	}
	tvlBucket := 0
	if m.Metadata.TVL != nil && *m.Metadata.TVL > 0 {
		tvlBucket = int(math.Log10(*m.Metadata.TVL))
	}
	hour := m.Timestamp.UTC().Hour()
	return fmt.Sprintf("%s|%s|apr=%.0f|tvl=%d|h=%d", m.Category, m.Metadata.Pool, aprBucket, tvlBucket, hour)
}

// TruncateMetadata serializes metadata to msgpack, dropping Extra keys (in
// deterministic sorted order) until the encoding is at most
// domain.MaxMemoryMetadataBytes — priority fields (Pool, Apr, TVL, Volume,
// PatternType) are never dropped.
func TruncateMetadata(m domain.MemoryMetadata) (domain.MemoryMetadata, error) {
	encoded, err := msgpack.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("truncate metadata: marshal: %w", err)
	}
	if len(encoded) <= domain.MaxMemoryMetadataBytes {
		return m, nil
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for len(keys) > 0 {
		last := keys[len(keys)-1]
		keys = keys[:len(keys)-1]
		delete(m.Extra, last)

		encoded, err = msgpack.Marshal(m)
		if err != nil {
			return m, fmt.Errorf("truncate metadata: marshal: %w", err)
		}
		if len(encoded) <= domain.MaxMemoryMetadataBytes {
			return m, nil
		}
	}
	return m, nil
}

// Prune runs the daily confidence-decay rule (spec.md section 4.5):
// new_confidence = old_confidence * exp(-age_days/30) unless the memory is
// a stable pattern (occurrences >= 10, recorded in Metadata.Extra by C6) or
// is referenced by an active decision within the last 7 days; memories
// dropping below confidence 0.1 are deleted.
func (s *Store) Prune(ctx context.Context, now time.Time, activeRefs map[string]bool) error {
	all, err := s.docs.All(ctx)
	if err != nil {
		return fmt.Errorf("memory.Prune: %w", err)
	}

	for _, m := range all {
		if isExemptFromDecay(m, now, activeRefs) {
			continue
		}

		ageDays := now.Sub(m.Timestamp).Hours() / 24.0
		newConfidence := m.Confidence * math.Exp(-ageDays/30.0)

		if newConfidence < 0.1 {
			if err := s.docs.Delete(ctx, m.ID); err != nil {
				return fmt.Errorf("memory.Prune: delete %s: %w", m.ID, err)
			}
			continue
		}

		m.Confidence = newConfidence
		if err := s.docs.Put(ctx, m); err != nil {
			return fmt.Errorf("memory.Prune: update %s: %w", m.ID, err)
		}
	}
	return nil
}

func isExemptFromDecay(m domain.Memory, now time.Time, activeRefs map[string]bool) bool {
	if activeRefs[m.ID] {
		return true
	}
	if m.Type != domain.MemoryPattern {
		return false
	}
	occ, ok := m.Metadata.Extra["occurrences"]
	if !ok {
		return false
	}
	switch v := occ.(type) {
	case int:
		return v >= domain.StablePatternOccurrences
	case float64:
		return v >= float64(domain.StablePatternOccurrences)
	default:
		return false
	}
}
