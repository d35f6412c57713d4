package handler

import (
	"net/http"
	"time"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// HeadFunc returns the most recently applied chain snapshot, false before the
// first block.
type HeadFunc func() (domain.ChainSnapshot, bool)

// StatusHandler serves the scanner status for dashboards.
type StatusHandler struct {
	mode      string
	head      HeadFunc
	queueLen  func() int
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, head HeadFunc, queueLen func() int, startedAt time.Time) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		head:      head,
		queueLen:  queueLen,
		startedAt: startedAt,
	}
}

// GetStatus responds with the current mode, head block, and queue depth.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"queue_depth":    h.queueLen(),
	}
	if snap, ok := h.head(); ok {
		resp["head_block"] = snap.Number
		resp["head_time"] = snap.Time.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
