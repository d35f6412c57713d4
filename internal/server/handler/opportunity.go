package handler

import (
	"net/http"
	"time"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/queue"
)

// oppView is the JSON shape for a single opportunity in API responses. Wei
// amounts are decimal strings.
type oppView struct {
	ID            string  `json:"id"`
	Key           string  `json:"key"`
	Strategy      string  `json:"strategy"`
	SnapshotBlock uint64  `json:"snapshot_block"`
	ValidUntil    uint64  `json:"valid_until"`
	NetProfit     string  `json:"net_profit,omitempty"`
	GasUsed       uint64  `json:"gas_used"`
	Confidence    float64 `json:"confidence"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
}

func toView(opp domain.Opportunity) oppView {
	v := oppView{
		ID:            opp.ID,
		Key:           opp.Key,
		Strategy:      string(opp.Strategy),
		SnapshotBlock: opp.SnapshotBlock,
		ValidUntil:    opp.ValidUntil,
		GasUsed:       opp.GasUsed,
		Confidence:    opp.Confidence,
		Status:        string(opp.Status),
		CreatedAt:     opp.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if opp.NetProfit != nil {
		v.NetProfit = opp.NetProfit.String()
	}
	return v
}

// OpportunityHandler serves the live queue and the persisted history.
type OpportunityHandler struct {
	queue *queue.Queue
	store domain.OpportunityStore // nil in scan mode
}

// NewOpportunityHandler creates an OpportunityHandler. store may be nil, in
// which case the history endpoint answers 404.
func NewOpportunityHandler(q *queue.Queue, store domain.OpportunityStore) *OpportunityHandler {
	return &OpportunityHandler{queue: q, store: store}
}

// ListQueued responds with the current queue contents in rank order.
// GET /api/queue
func (h *OpportunityHandler) ListQueued(w http.ResponseWriter, r *http.Request) {
	opps := h.queue.Snapshot()
	views := make([]oppView, len(opps))
	for i, opp := range opps {
		views[i] = toView(opp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(views),
		"opportunities": views,
	})
}

// ListRecent responds with the newest persisted opportunities.
// GET /api/opportunities/recent
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled in this mode")
		return
	}
	opps, err := h.store.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing recent opportunities failed")
		return
	}
	views := make([]oppView, len(opps))
	for i, opp := range opps {
		views[i] = toView(opp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(views),
		"opportunities": views,
	})
}
