package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/events"
)

// streamWriteTimeout bounds each DecisionStream frame write, mirroring the
// teacher's tradernet websocket client's writeWait constant.
const streamWriteTimeout = 10 * time.Second

// streamHeartbeat keeps idle connections from being reaped by intermediaries.
const streamHeartbeat = 30 * time.Second

// handleDecisionStream upgrades to a WebSocket and forwards every Decision
// emitted on the events.Bus until the client disconnects (spec.md section
// 4.10's DecisionStream, totally ordered by cycle_number then seq since the
// loop emits them in that order and the bus delivers synchronously).
func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Warn().Err(err).Msg("decision stream upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "decision stream closed")

	ctx := r.Context()
	out := make(chan domain.Decision, 64)

	s.bus.Subscribe(events.DecisionEmitted, func(e events.Event) {
		d, ok := e.Payload.(domain.Decision)
		if !ok {
			return
		}
		select {
		case out <- d:
		default:
			s.log.Warn().Msg("decision stream channel full, dropping decision")
		}
	})

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	s.log.Info().Msg("client connected to decision stream")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("client disconnected from decision stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case d := <-out:
			if err := writeDecision(ctx, conn, d); err != nil {
				s.log.Warn().Err(err).Msg("decision stream write failed")
				return
			}

		case <-heartbeat.C:
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(writeCtx)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("decision stream heartbeat failed")
				return
			}
		}
	}
}

func writeDecision(ctx context.Context, conn *websocket.Conn, d domain.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
