package api

import (
	"context"
	"net/http"

	"github.com/okian/claimgate/internal/domain/types"
)

// ClaimLogDependencies defines the state inspection read.
type ClaimLogDependencies interface {
	InspectState(ctx context.Context) (types.StateView, error)
}

// ClaimLogHandler exposes per-claimant and per-origin records.
type ClaimLogHandler struct {
	deps ClaimLogDependencies
}

// NewClaimLogHandler creates a new claim log handler.
func NewClaimLogHandler(deps ClaimLogDependencies) *ClaimLogHandler {
	return &ClaimLogHandler{deps: deps}
}

// HandleClaimLog handles GET /claim-log requests.
func (h *ClaimLogHandler) HandleClaimLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	view, err := h.deps.InspectState(r.Context())
	if err != nil {
		writeServiceError(w, "api.claim_log", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
