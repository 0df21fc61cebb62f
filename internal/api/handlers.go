package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/particle-bridge/internal/bridges/particle"
	"github.com/nerrad567/particle-bridge/internal/readings"
)

// healthResponse is the /health body.
type healthResponse struct {
	Status particle.HealthStatus `json:"status"`
	State  string                `json:"state"`
}

// handleHealth reports healthy while the event stream is open.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.stats()
	status := statusFor(st)

	code := http.StatusOK
	if status != particle.HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, State: st.State.String()})
}

// handleStatus returns the same document the bridge publishes on MQTT.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.stats()
	writeJSON(w, http.StatusOK, particle.NewHealthMessage(s.bridgeID, s.version, statusFor(st), st, s.startTime))
}

// readingsResponse is the /api/v1/readings body.
type readingsResponse struct {
	Readings []readings.Entry `json:"readings"`
	Count    int              `json:"count"`
}

// handleReadings lists the newest journaled readings.
func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "reading journal is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list journaled readings", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, readingsResponse{Readings: entries, Count: len(entries)})
}

func statusFor(st particle.Stats) particle.HealthStatus {
	if st.State == particle.StateStreaming {
		return particle.HealthHealthy
	}
	return particle.HealthDegraded
}
