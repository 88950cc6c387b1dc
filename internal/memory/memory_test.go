package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu96/project-athena-sub001/internal/domain"
)

// fakeDocStore is an in-process DocStore used only for tests; the real
// default adapter lives in internal/storage.
type fakeDocStore struct {
	mu   sync.Mutex
	data map[string]domain.Memory
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{data: make(map[string]domain.Memory)}
}

func (f *fakeDocStore) Put(ctx context.Context, m domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[m.ID] = m
	return nil
}

func (f *fakeDocStore) Get(ctx context.Context, id string) (domain.Memory, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.data[id]
	return m, ok, nil
}

func (f *fakeDocStore) Query(ctx context.Context, filt Filter) ([]domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var out []domain.Memory
	for _, m := range f.data {
		if matches(m, filt, now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeDocStore) All(ctx context.Context) ([]domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Memory, 0, len(f.data))
	for _, m := range f.data {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeDocStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

// fakeIndex is a trivial substring-match "vector" index for tests.
type fakeIndex struct {
	mu    sync.Mutex
	store map[string]string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{store: make(map[string]string)}
}

func (f *fakeIndex) Index(ctx context.Context, m domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[m.ID] = m.Content
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, queryText string, limit int) ([]ScoredID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []ScoredID
	for id, content := range f.store {
		if strings.Contains(strings.ToLower(content), strings.ToLower(queryText)) {
			hits = append(hits, ScoredID{ID: id, Similarity: 1.0})
		}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func TestRememberTruncatesOversizedMetadata(t *testing.T) {
	docs := newFakeDocStore()
	s := NewStore(newFakeIndex(), docs, zerolog.Nop())

	apr := 25.0
	extra := make(map[string]interface{})
	for i := 0; i < 500; i++ {
		extra[strings.Repeat("k", 4)+string(rune('a'+i%26))+string(rune('a'+i/26))] = strings.Repeat("x", 50)
	}

	m := domain.Memory{
		ID:       "mem-1",
		Type:     domain.MemoryObservation,
		Category: domain.CategoryPoolAnalysis,
		Content:  "oversized metadata test",
		Metadata: domain.MemoryMetadata{Pool: "pool-1", Apr: &apr, Extra: extra},
		Timestamp: time.Now(),
	}

	err := s.Remember(context.Background(), m)
	require.NoError(t, err)

	stored, ok, err := docs.Get(context.Background(), "mem-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pool-1", stored.Metadata.Pool, "priority field must survive truncation")
	require.NotNil(t, stored.Metadata.Apr)
	assert.Equal(t, 25.0, *stored.Metadata.Apr)
}

func TestRecallOrdersByCompositeScore(t *testing.T) {
	docs := newFakeDocStore()
	idx := newFakeIndex()
	s := NewStore(idx, docs, zerolog.Nop())

	lowConf := domain.Memory{ID: "low", Content: "gas optimization window", Confidence: 0.2, Timestamp: time.Now()}
	highConf := domain.Memory{ID: "high", Content: "gas optimization window", Confidence: 0.9, Timestamp: time.Now()}
	require.NoError(t, s.Remember(context.Background(), lowConf))
	require.NoError(t, s.Remember(context.Background(), highConf))

	results, err := s.Recall(context.Background(), "gas optimization", Filter{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].ID, "higher confidence should rank first when similarity ties")
}

func TestFindPatternsGroupsByFingerprint(t *testing.T) {
	apr := 15.0
	tvl := 500000.0
	at := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)

	makeObs := func(id string) domain.Memory {
		return domain.Memory{
			ID: id, Category: domain.CategoryGasOptimizationWindows,
			Metadata:  domain.MemoryMetadata{Pool: "pool-1", Apr: &apr, TVL: &tvl},
			Timestamp: at,
		}
	}

	obs := []domain.Memory{makeObs("o1"), makeObs("o2"), makeObs("o3")}
	groups := FindPatterns(obs, 3)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Observations, 3)

	groups2 := FindPatterns(obs, 4)
	assert.Len(t, groups2, 0)
}

func TestPruneDecaysAndDeletesLowConfidenceMemories(t *testing.T) {
	docs := newFakeDocStore()
	s := NewStore(nil, docs, zerolog.Nop())

	now := time.Now()
	old := now.Add(-200 * 24 * time.Hour)

	require.NoError(t, docs.Put(context.Background(), domain.Memory{ID: "stale", Confidence: 0.15, Timestamp: old}))
	require.NoError(t, docs.Put(context.Background(), domain.Memory{ID: "fresh", Confidence: 0.9, Timestamp: now}))

	err := s.Prune(context.Background(), now, nil)
	require.NoError(t, err)

	_, ok, _ := docs.Get(context.Background(), "stale")
	assert.False(t, ok, "low-confidence aged memory should be pruned")

	fresh, ok, _ := docs.Get(context.Background(), "fresh")
	assert.True(t, ok)
	assert.InDelta(t, 0.9, fresh.Confidence, 0.01)
}

func TestPruneExemptsActiveReferences(t *testing.T) {
	docs := newFakeDocStore()
	s := NewStore(nil, docs, zerolog.Nop())

	now := time.Now()
	old := now.Add(-200 * 24 * time.Hour)
	require.NoError(t, docs.Put(context.Background(), domain.Memory{ID: "referenced", Confidence: 0.15, Timestamp: old}))

	err := s.Prune(context.Background(), now, map[string]bool{"referenced": true})
	require.NoError(t, err)

	_, ok, _ := docs.Get(context.Background(), "referenced")
	assert.True(t, ok, "memory referenced by an active decision must not be pruned")
}
