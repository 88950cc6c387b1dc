package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu96/project-athena-sub001/internal/cognition"
	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/events"
)

type fakeAgent struct {
	state      domain.AgentState
	lastCmd    cognition.Command
	controlErr error
}

func (a *fakeAgent) State() domain.AgentState { return a.state }

func (a *fakeAgent) Control(cmd cognition.Command, now time.Time) error {
	a.lastCmd = cmd
	return a.controlErr
}

type fakePatterns struct{ patterns []domain.Pattern }

func (f *fakePatterns) Patterns() []domain.Pattern { return f.patterns }

func newTestServer(t *testing.T, agent *fakeAgent, patterns *fakePatterns) (*Server, *events.Bus) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	s := New(Config{
		Log:      zerolog.Nop(),
		Agent:    agent,
		Patterns: patterns,
		Bus:      bus,
		Port:     0,
		DevMode:  true,
	})
	return s, bus
}

func TestHandleStateReturnsAgentAndCycle(t *testing.T) {
	agent := &fakeAgent{state: domain.AgentState{Mode: domain.ModeTrade, CycleNumber: 3}}
	s, bus := newTestServer(t, agent, &fakePatterns{})
	bus.EmitCycle(domain.CycleRecord{CycleNumber: 3, ObservationsCount: 5})

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
}

func TestHandleDecisionsReturnsRecentlyEmitted(t *testing.T) {
	s, bus := newTestServer(t, &fakeAgent{}, &fakePatterns{})
	bus.EmitDecision(domain.Decision{ID: "dec-1", Type: domain.DecisionHold})
	bus.EmitDecision(domain.Decision{ID: "dec-2", Type: domain.DecisionCompound})

	req := httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "dec-2", got[1].ID)
}

func TestHandlePatternsReturnsActiveSet(t *testing.T) {
	patterns := &fakePatterns{patterns: []domain.Pattern{{ID: "pat-1", Confidence: 0.8}}}
	s, _ := newTestServer(t, &fakeAgent{}, patterns)

	req := httptest.NewRequest(http.MethodGet, "/api/patterns", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []domain.Pattern
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "pat-1", got[0].ID)
}

func TestHandleControlAppliesCommand(t *testing.T) {
	agent := &fakeAgent{}
	s, _ := newTestServer(t, agent, &fakePatterns{})

	body, _ := json.Marshal(controlRequest{Command: "pause", Reason: "manual review"})
	req := httptest.NewRequest(http.MethodPost, "/api/control", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cognition.CommandPause, agent.lastCmd)
}

func TestHandleControlRejectsUnknownCommand(t *testing.T) {
	agent := &fakeAgent{controlErr: assert.AnError}
	s, _ := newTestServer(t, agent, &fakePatterns{})

	body, _ := json.Marshal(controlRequest{Command: "not_a_command"})
	req := httptest.NewRequest(http.MethodPost, "/api/control", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeAgent{}, &fakePatterns{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdownStopsServerCleanly(t *testing.T) {
	s, _ := newTestServer(t, &fakeAgent{}, &fakePatterns{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
