// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	service "github.com/okian/claimgate/internal/app"
	"github.com/okian/claimgate/internal/domain/identity"
	"github.com/okian/claimgate/internal/domain/model"
	"github.com/okian/claimgate/internal/domain/types"
	"github.com/shopspring/decimal"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	DisburseDependencies
	AdminDependencies

	InspectState(ctx context.Context) (types.StateView, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	disburseHandler *DisburseHandler
	balanceHandler  *BalanceHandler
	claimLogHandler *ClaimLogHandler
	adminHandler    *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		disburseHandler: NewDisburseHandler(deps, o.origins),
		balanceHandler:  NewBalanceHandler(deps),
		claimLogHandler: NewClaimLogHandler(deps),
		adminHandler:    NewAdminHandler(deps, o.adminToken),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/claim", MetricsMiddleware(s.disburseHandler.HandleClaim, "claim"))
	mux.HandleFunc("/withdraw", MetricsMiddleware(s.disburseHandler.HandleWithdraw, "withdraw"))
	mux.HandleFunc("/balance", MetricsMiddleware(s.balanceHandler.HandleBalance, "balance"))
	mux.HandleFunc("/claim-log", MetricsMiddleware(s.claimLogHandler.HandleClaimLog, "claim_log"))
	mux.HandleFunc("/admin/pending/", MetricsMiddleware(s.adminHandler.HandleResolvePending, "admin_pending"))
	mux.HandleFunc("/admin/reset", MetricsMiddleware(s.adminHandler.HandleReset, "admin_reset"))
}

// Option configures a Server.
type Option func(*options)

type options struct {
	adminToken string
	origins    *identity.Resolver
}

// WithAdminToken requires "Authorization: Bearer <token>" on /admin routes.
// An empty token leaves them open.
func WithAdminToken(token string) Option {
	return func(o *options) { o.adminToken = token }
}

// WithOriginResolver sets how request origins are derived for the throttle.
func WithOriginResolver(r *identity.Resolver) Option {
	return func(o *options) { o.origins = r }
}

// decimalField accepts a JSON number or a numeric string and keeps its
// literal text, so amounts never pass through float64.
type decimalField string

func (d *decimalField) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*d = decimalField(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("must be a number or a numeric string")
	}
	*d = decimalField(s)
	return nil
}

// outcomeResponse is the body of /claim and /withdraw responses.
type outcomeResponse struct {
	Status        string `json:"status"`
	TxHash        string `json:"txHash,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	RetryAfter    int64  `json:"retryAfterSeconds,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps an outcome to its HTTP status.
func statusFor(o model.Outcome) int {
	switch o.State {
	case model.StateSettled:
		return http.StatusOK
	case model.StateUnknown:
		return http.StatusAccepted
	}
	switch o.Reason {
	case model.ReasonInvalidRequest:
		return http.StatusBadRequest
	case model.ReasonOriginThrottled, model.ReasonCooldownActive:
		return http.StatusTooManyRequests
	case model.ReasonPeriodCapExceeded:
		return http.StatusForbidden
	case model.ReasonBusy:
		return http.StatusConflict
	case model.ReasonTransferFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeOutcome(w http.ResponseWriter, o model.Outcome) {
	status := statusFor(o)
	resp := outcomeResponse{
		TxHash:        o.TxRef,
		CorrelationID: o.CorrelationID,
	}
	if !o.Amount.IsZero() {
		resp.Amount = o.Amount.String()
	}
	switch o.State {
	case model.StateSettled:
		resp.Status = "success"
	case model.StateUnknown:
		resp.Status = "pending"
		resp.Code = string(o.Reason)
		resp.Message = "transfer outcome unknown; reconcile with correlationId"
	case model.StateFailed:
		resp.Status = "failed"
	default:
		resp.Status = "rejected"
	}
	if o.Reason != model.ReasonNone && resp.Code == "" {
		resp.Code = string(o.Reason)
		resp.Message = o.Err().Error()
	}
	if o.RetryAfter > 0 {
		secs := int64(math.Ceil(o.RetryAfter.Seconds()))
		resp.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps orchestrator errors that are not outcomes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "not_started", fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, service.ErrPendingNotFound):
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, service.ErrMissingTxRef):
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w", op, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", fmt.Errorf("%s: %w", op, err))
	}
}
