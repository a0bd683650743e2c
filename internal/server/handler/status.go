package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/startraders/internal/engine"
)

// SweeperStatusReader exposes settlement progress.
type SweeperStatusReader interface {
	Status() engine.SweeperStatus
}

// SimulationReader reports which symbols run on synthetic prices.
type SimulationReader interface {
	Simulating() []string
}

// StatusHandler serves the backend status for operators and dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	sweeper   SweeperStatusReader // nil when this process does not settle
	oracle    SimulationReader
}

// NewStatusHandler creates a StatusHandler. sweeper may be nil.
func NewStatusHandler(mode string, startedAt time.Time, sweeper SweeperStatusReader, oracle SimulationReader) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, sweeper: sweeper, oracle: oracle}
}

// GetStatus reports mode, uptime, simulated symbols and sweeper state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"simulating":     []string{},
	}
	if h.oracle != nil {
		body["simulating"] = h.oracle.Simulating()
	}
	if h.sweeper != nil {
		body["settlement"] = h.sweeper.Status()
	}
	writeJSON(w, http.StatusOK, body)
}
