package server

import (
	"net/http"
	"strconv"
)

const defaultDecisionLimit = 50

// stateResponse is the StateQuery payload (spec.md section 4.10): current
// AgentState and current CycleRecord together, since both describe "now".
type stateResponse struct {
	Agent interface{} `json:"agent_state"`
	Cycle interface{} `json:"cycle_record"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Agent: s.agent.State(),
		Cycle: s.history.lastCycle(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.history.lastN(limit))
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.patterns.Patterns())
}
