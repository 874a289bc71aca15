package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Reason explains why a request did not settle.
type Reason string

// Rejection and failure reasons, in the order the checks run.
const (
	ReasonNone              Reason = ""
	ReasonInvalidRequest    Reason = "INVALID_REQUEST"
	ReasonOriginThrottled   Reason = "ORIGIN_THROTTLED"
	ReasonCooldownActive    Reason = "COOLDOWN_ACTIVE"
	ReasonPeriodCapExceeded Reason = "PERIOD_CAP_EXCEEDED"
	ReasonBusy              Reason = "BUSY"
	ReasonTransferFailed    Reason = "TRANSFER_FAILED"
	ReasonTransferUnknown   Reason = "TRANSFER_UNKNOWN"
	ReasonStoreIO           Reason = "STORE_IO_ERROR"
)

// Sentinel errors, one per reason, for errors.Is at call sites.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrOriginThrottled   = errors.New("too many requests from origin")
	ErrCooldownActive    = errors.New("claim cooldown active")
	ErrPeriodCapExceeded = errors.New("period cap exceeded")
	ErrBusy              = errors.New("claimant busy")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrTransferUnknown   = errors.New("transfer outcome unknown")
	ErrStoreIO           = errors.New("store io error")
)

var reasonErrors = map[Reason]error{
	ReasonInvalidRequest:    ErrInvalidRequest,
	ReasonOriginThrottled:   ErrOriginThrottled,
	ReasonCooldownActive:    ErrCooldownActive,
	ReasonPeriodCapExceeded: ErrPeriodCapExceeded,
	ReasonBusy:              ErrBusy,
	ReasonTransferFailed:    ErrTransferFailed,
	ReasonTransferUnknown:   ErrTransferUnknown,
	ReasonStoreIO:           ErrStoreIO,
}

// Err returns the sentinel for r, or nil for ReasonNone.
func (r Reason) Err() error {
	return reasonErrors[r]
}

// State is a stage of the disbursement state machine.
type State string

// Orchestrator states. SETTLED, REJECTED, FAILED and UNKNOWN are terminal.
const (
	StateReceived        State = "RECEIVED"
	StateValidated       State = "VALIDATED"
	StateAdmitted        State = "ADMITTED"
	StateTransferPending State = "TRANSFER_PENDING"
	StateConfirmed       State = "CONFIRMED"
	StateSettled         State = "SETTLED"
	StateRejected        State = "REJECTED"
	StateFailed          State = "FAILED"
	StateUnknown         State = "UNKNOWN"
)

// Outcome is the terminal result of one disbursement request:
// Accepted (SETTLED), Rejected (REJECTED/FAILED) or Pending (UNKNOWN).
type Outcome struct {
	State         State
	Reason        Reason
	Amount        decimal.Decimal
	TxRef         string
	CorrelationID string
	// RetryAfter is set on throttle and cooldown rejections.
	RetryAfter time.Duration
}

// Accepted reports whether the disbursement settled.
func (o Outcome) Accepted() bool { return o.State == StateSettled }

// Pending reports whether the outcome awaits reconciliation.
func (o Outcome) Pending() bool { return o.State == StateUnknown }

// Err returns the sentinel matching the outcome's reason.
func (o Outcome) Err() error { return o.Reason.Err() }
