// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/claimgate/internal/app"
	"github.com/okian/claimgate/internal/domain/identity"
	"github.com/okian/claimgate/internal/domain/model"
)

// DisburseDependencies defines the orchestrator entry point.
type DisburseDependencies interface {
	EvaluateAndDisburse(ctx context.Context, req service.Request) (model.Outcome, error)
}

// claimRequest mirrors the body of POST /claim.
type claimRequest struct {
	Wallet string       `json:"wallet"`
	Score  decimalField `json:"score"`
}

// withdrawRequest mirrors the body of POST /withdraw.
type withdrawRequest struct {
	To     string       `json:"to"`
	Amount decimalField `json:"amount"`
}

// DisburseHandler handles claim and withdraw requests.
type DisburseHandler struct {
	deps    DisburseDependencies
	origins *identity.Resolver
}

// NewDisburseHandler creates a new disburse handler. A nil resolver trusts
// forwarding headers from identity.DefaultTrustedProxies only.
func NewDisburseHandler(deps DisburseDependencies, origins *identity.Resolver) *DisburseHandler {
	return &DisburseHandler{deps: deps, origins: origins}
}

func (h *DisburseHandler) origin(r *http.Request) string {
	if h.origins == nil {
		return identity.Origin(r)
	}
	return h.origins.Origin(r)
}

// HandleClaim handles POST /claim requests.
func (h *DisburseHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	const op = "api.claim"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req claimRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.disburse(w, r, op, service.Request{
		Profile:  model.ProfileClaim,
		Claimant: req.Wallet,
		Origin:   h.origin(r),
		Score:    string(req.Score),
	})
}

// HandleWithdraw handles POST /withdraw requests.
func (h *DisburseHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	const op = "api.withdraw"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.disburse(w, r, op, service.Request{
		Profile:  model.ProfileWithdraw,
		Claimant: req.To,
		Origin:   h.origin(r),
		Score:    string(req.Amount),
	})
}

func (h *DisburseHandler) disburse(w http.ResponseWriter, r *http.Request, op string, req service.Request) {
	out, err := h.deps.EvaluateAndDisburse(r.Context(), req)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeOutcome(w, out)
}
