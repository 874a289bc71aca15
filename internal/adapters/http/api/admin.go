package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	service "github.com/okian/claimgate/internal/app"
	"github.com/okian/claimgate/internal/domain/model"
)

// AdminDependencies defines operator actions.
type AdminDependencies interface {
	ResolvePending(ctx context.Context, correlationID string, res service.Resolution) (model.Outcome, error)
	ResetPeriod(ctx context.Context) error
}

// resolveRequest mirrors the body of POST /admin/pending/{id}.
type resolveRequest struct {
	Confirmed bool   `json:"confirmed"`
	TxHash    string `json:"txHash"`
}

// AdminHandler handles operator requests.
type AdminHandler struct {
	deps  AdminDependencies
	token string
}

// NewAdminHandler creates a new admin handler. An empty token disables
// authorization.
func NewAdminHandler(deps AdminDependencies, token string) *AdminHandler {
	return &AdminHandler{deps: deps, token: token}
}

func (h *AdminHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

// HandleResolvePending handles POST /admin/pending/{correlation_id} requests.
func (h *AdminHandler) HandleResolvePending(w http.ResponseWriter, r *http.Request) {
	const op = "api.resolve_pending"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/admin/pending/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.ResolvePending(r.Context(), id, service.Resolution{Confirmed: req.Confirmed, TxRef: strings.TrimSpace(req.TxHash)})
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeOutcome(w, out)
}

// HandleReset handles POST /admin/reset requests.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	const op = "api.reset"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
		return
	}
	if err := h.deps.ResetPeriod(r.Context()); err != nil {
		writeServiceError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
