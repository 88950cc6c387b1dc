package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/memory"
)

// DocStore is the default memory.DocStore backend: SQLite with filter
// columns (category, type and pool, which are indexed; confidence and
// timestamp, which are not) plus a JSON blob for the rest of the record,
// queried by filtering on those columns first and only then decoding the
// blobs that pass.
type DocStore struct {
	db *DB
}

// NewDocStore wraps an opened DB as a memory.DocStore.
func NewDocStore(db *DB) *DocStore {
	return &DocStore{db: db}
}

var _ memory.DocStore = (*DocStore)(nil)

func (d *DocStore) Put(ctx context.Context, m domain.Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("storage.DocStore.Put: marshal: %w", err)
	}
	_, err = d.db.conn.ExecContext(ctx, `
		INSERT INTO memories (id, type, category, pool, confidence, timestamp_unix, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, category=excluded.category, pool=excluded.pool,
			confidence=excluded.confidence, timestamp_unix=excluded.timestamp_unix, data=excluded.data
	`, m.ID, string(m.Type), string(m.Category), m.Metadata.Pool, m.Confidence, m.Timestamp.Unix(), data)
	if err != nil {
		return fmt.Errorf("storage.DocStore.Put: %w", err)
	}
	return nil
}

func (d *DocStore) Get(ctx context.Context, id string) (domain.Memory, bool, error) {
	var data []byte
	err := d.db.conn.QueryRowContext(ctx, `SELECT data FROM memories WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return domain.Memory{}, false, nil
	}
	if err != nil {
		return domain.Memory{}, false, fmt.Errorf("storage.DocStore.Get: %w", err)
	}
	var m domain.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Memory{}, false, fmt.Errorf("storage.DocStore.Get: unmarshal: %w", err)
	}
	return m, true, nil
}

func (d *DocStore) Query(ctx context.Context, f memory.Filter) ([]domain.Memory, error) {
	query := `SELECT data FROM memories WHERE 1=1`
	var args []interface{}

	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(f.Category))
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, f.MinConfidence)
	}
	if f.MaxAge > 0 {
		query += ` AND timestamp_unix >= ?`
		args = append(args, time.Now().Add(-f.MaxAge).Unix())
	}
	if f.HasPoolPair {
		query += ` AND (pool = ? OR pool = ?)`
		args = append(args, f.PoolPair[0], f.PoolPair[1])
	}

	rows, err := d.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.DocStore.Query: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (d *DocStore) All(ctx context.Context) ([]domain.Memory, error) {
	rows, err := d.db.conn.QueryContext(ctx, `SELECT data FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("storage.DocStore.All: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (d *DocStore) Delete(ctx context.Context, id string) error {
	_, err := d.db.conn.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage.DocStore.Delete: %w", err)
	}
	return nil
}

func scanMemories(rows *sql.Rows) ([]domain.Memory, error) {
	var out []domain.Memory
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var m domain.Memory
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
