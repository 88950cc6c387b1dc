package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/memory"
)

// VectorIndex is a reference memory.VectorIndex backend. A real semantic
// index (embeddings + ANN search) is out of scope per spec.md section 1; no
// library in the retrieval pack offers one, so this ranks by Jaccard overlap
// of lower-cased content tokens, which is enough to exercise Recall's
// similarity-then-filter pipeline without a vector database dependency.
type VectorIndex struct {
	db *DB
}

// NewVectorIndex wraps an opened DB as a memory.VectorIndex.
func NewVectorIndex(db *DB) *VectorIndex {
	return &VectorIndex{db: db}
}

var _ memory.VectorIndex = (*VectorIndex)(nil)

func (v *VectorIndex) Index(ctx context.Context, m domain.Memory) error {
	_, err := v.db.conn.ExecContext(ctx, `
		INSERT INTO vector_entries (id, content) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content
	`, m.ID, m.Content)
	if err != nil {
		return fmt.Errorf("storage.VectorIndex.Index: %w", err)
	}
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, queryText string, limit int) ([]memory.ScoredID, error) {
	rows, err := v.db.conn.QueryContext(ctx, `SELECT id, content FROM vector_entries`)
	if err != nil {
		return nil, fmt.Errorf("storage.VectorIndex.Search: %w", err)
	}
	defer rows.Close()

	queryTokens := tokenize(queryText)
	var scored []memory.ScoredID
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("storage.VectorIndex.Search: scan: %w", err)
		}
		sim := jaccard(queryTokens, tokenize(content))
		if sim > 0 {
			scored = append(scored, memory.ScoredID{ID: id, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		out[f] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
