// Package executor defines the abstract Executor collaborator (spec.md
// section 4.10/6): the wallet/transaction execution backend is out of
// scope, but the contract it must satisfy — idempotent submission — lives
// here so the cognitive loop can be exercised end-to-end against a reference
// implementation. Submit returns its Outcome synchronously; the interface
// has no pending or promise form for in-flight transactions.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/sonu96/project-athena-sub001/internal/domain"
)

// Executor submits a Decision for execution and returns its Outcome.
// Submit must be idempotent per decision id: calling it twice with the same
// Decision.ID returns the same Outcome rather than executing twice.
type Executor interface {
	Submit(ctx context.Context, d domain.Decision) (domain.Outcome, error)
}

// Memory is a minimal in-process reference Executor: it "executes"
// immediately and deterministically, keyed by decision id, so tests and a
// development deployment can run the full loop without a real wallet
// adapter. Production executors are injected by the caller.
type Memory struct {
	mu       sync.Mutex
	outcomes map[string]domain.Outcome
	execute  func(d domain.Decision) (domain.Outcome, error)
}

// NewMemory builds a reference Executor. execute computes the Outcome for a
// not-yet-seen decision id; it is called at most once per id.
func NewMemory(execute func(d domain.Decision) (domain.Outcome, error)) *Memory {
	return &Memory{outcomes: make(map[string]domain.Outcome), execute: execute}
}

// Submit is idempotent per Decision.ID.
func (m *Memory) Submit(ctx context.Context, d domain.Decision) (domain.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.outcomes[d.ID]; ok {
		return o, nil
	}

	o, err := m.execute(d)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("executor.Submit: %w", err)
	}
	o.DecisionID = d.ID
	m.outcomes[d.ID] = o
	return o, nil
}
