package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sonu96/project-athena-sub001/internal/cognition"
)

// controlRequest is the ControlInput wire shape (spec.md section 4.10):
// one-shot commands pause/resume/force_trade/force_observe/emergency_stop.
type controlRequest struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed control request")
		return
	}

	if err := s.agent.Control(cognition.Command(req.Command), time.Now()); err != nil {
		s.log.Warn().Err(err).Str("command", req.Command).Str("reason", req.Reason).Msg("control command rejected")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info().Str("command", req.Command).Str("reason", req.Reason).Msg("control command applied")
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
