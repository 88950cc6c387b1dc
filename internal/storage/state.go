package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sonu96/project-athena-sub001/internal/domain"
)

// StateStore persists the crash-recovery snapshot keys named in spec.md
// section 6: agent_state/current, cycles/{n}, pool_profiles/{pool_id},
// patterns/{id}, positions/{id}. Unlike DocStore/VectorIndex these are not
// collaborator interfaces the core depends on — they exist so
// cmd/server/main.go can resume a prior run instead of starting cold.
type StateStore struct {
	db *DB
}

// NewStateStore wraps an opened DB.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// SaveAgentState upserts the single current AgentState record.
func (s *StateStore) SaveAgentState(ctx context.Context, state domain.AgentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SaveAgentState: marshal: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO agent_state (id, data) VALUES ('current', ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, data)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SaveAgentState: %w", err)
	}
	return nil
}

// LoadAgentState returns the persisted AgentState, or ok=false if none
// exists yet (a fresh install starting cold in INIT).
func (s *StateStore) LoadAgentState(ctx context.Context) (domain.AgentState, bool, error) {
	var data []byte
	err := s.db.conn.QueryRowContext(ctx, `SELECT data FROM agent_state WHERE id = 'current'`).Scan(&data)
	if err == sql.ErrNoRows {
		return domain.AgentState{}, false, nil
	}
	if err != nil {
		return domain.AgentState{}, false, fmt.Errorf("storage.StateStore.LoadAgentState: %w", err)
	}
	var state domain.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.AgentState{}, false, fmt.Errorf("storage.StateStore.LoadAgentState: unmarshal: %w", err)
	}
	return state, true, nil
}

// AppendCycle writes one append-only CycleRecord, keyed by cycle number; a
// second write for a cycle number already stored leaves the first record as
// it is.
func (s *StateStore) AppendCycle(ctx context.Context, c domain.CycleRecord) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("storage.StateStore.AppendCycle: marshal: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO cycles (cycle_number, data) VALUES (?, ?)
		ON CONFLICT(cycle_number) DO NOTHING
	`, c.CycleNumber, data)
	if err != nil {
		return fmt.Errorf("storage.StateStore.AppendCycle: %w", err)
	}
	return nil
}

// SavePoolProfile upserts one PoolProfile, keyed by pool id.
func (s *StateStore) SavePoolProfile(ctx context.Context, p domain.PoolProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SavePoolProfile: marshal: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO pool_profiles (pool_id, data) VALUES (?, ?)
		ON CONFLICT(pool_id) DO UPDATE SET data = excluded.data
	`, p.PoolID, data)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SavePoolProfile: %w", err)
	}
	return nil
}

// LoadPoolProfiles returns every persisted PoolProfile. Startup does not
// call it; internal/profile.Store starts empty.
func (s *StateStore) LoadPoolProfiles(ctx context.Context) ([]domain.PoolProfile, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT data FROM pool_profiles`)
	if err != nil {
		return nil, fmt.Errorf("storage.StateStore.LoadPoolProfiles: %w", err)
	}
	defer rows.Close()

	var out []domain.PoolProfile
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("storage.StateStore.LoadPoolProfiles: scan: %w", err)
		}
		var p domain.PoolProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("storage.StateStore.LoadPoolProfiles: unmarshal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePattern upserts one Pattern, keyed by id.
func (s *StateStore) SavePattern(ctx context.Context, p domain.Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SavePattern: marshal: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO patterns (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, p.ID, data)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SavePattern: %w", err)
	}
	return nil
}

// LoadPatterns returns every persisted Pattern. Startup does not call it;
// internal/pattern.Engine starts empty.
func (s *StateStore) LoadPatterns(ctx context.Context) ([]domain.Pattern, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT data FROM patterns`)
	if err != nil {
		return nil, fmt.Errorf("storage.StateStore.LoadPatterns: %w", err)
	}
	defer rows.Close()

	var out []domain.Pattern
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("storage.StateStore.LoadPatterns: scan: %w", err)
		}
		var p domain.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("storage.StateStore.LoadPatterns: unmarshal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePosition upserts the latest externally-supplied Position snapshot.
func (s *StateStore) SavePosition(ctx context.Context, p domain.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SavePosition: marshal: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO positions (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, p.ID, data)
	if err != nil {
		return fmt.Errorf("storage.StateStore.SavePosition: %w", err)
	}
	return nil
}

// Positions satisfies cognition.PositionSource: the cognitive loop reads the
// latest Executor-supplied snapshot through the same table LoadPositions
// reads from a restart.
func (s *StateStore) Positions(ctx context.Context) ([]domain.Position, error) {
	return s.LoadPositions(ctx)
}

// LoadPositions returns every persisted Position snapshot.
func (s *StateStore) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT data FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("storage.StateStore.LoadPositions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("storage.StateStore.LoadPositions: scan: %w", err)
		}
		var p domain.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("storage.StateStore.LoadPositions: unmarshal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
