package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// BalanceDependencies defines the treasury balance lookup.
type BalanceDependencies interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// BalanceHandler handles balance requests.
type BalanceHandler struct {
	deps BalanceDependencies
}

// NewBalanceHandler creates a new balance handler.
func NewBalanceHandler(deps BalanceDependencies) *BalanceHandler {
	return &BalanceHandler{deps: deps}
}

// HandleBalance handles GET /balance requests.
func (h *BalanceHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	const op = "api.balance"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	bal, err := h.deps.Balance(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal.String()})
}
