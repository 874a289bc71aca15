// Package types contains the JSON views served over the API.
package types

import (
	"sort"
	"time"

	"github.com/okian/claimgate/internal/domain/model"
)

// ClaimantView is one claimant record as exposed by the claim log.
type ClaimantView struct {
	Claimant             string     `json:"claimant"`
	LastClaimAt          *time.Time `json:"lastClaimAt,omitempty"`
	TotalClaimedInPeriod string     `json:"totalClaimedInPeriod"`
	LastTxRef            string     `json:"lastTxRef,omitempty"`
}

// OriginView is one origin throttle record.
type OriginView struct {
	Origin        string    `json:"origin"`
	LastRequestAt time.Time `json:"lastRequestAt"`
}

// PendingView is one transfer awaiting reconciliation.
type PendingView struct {
	CorrelationID string    `json:"correlationId"`
	Profile       string    `json:"profile"`
	Claimant      string    `json:"claimant"`
	Amount        string    `json:"amount"`
	TxRef         string    `json:"txRef,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// StateView is the full inspection payload, sorted by key.
type StateView struct {
	Period    string         `json:"period"`
	Claimants []ClaimantView `json:"claimants"`
	Origins   []OriginView   `json:"origins"`
	Pending   []PendingView  `json:"pending"`
}

// FromSnapshot builds a deterministic view of snap.
func FromSnapshot(snap model.Snapshot) StateView {
	v := StateView{
		Period:    snap.Period,
		Claimants: make([]ClaimantView, 0, len(snap.Claimants)),
		Origins:   make([]OriginView, 0, len(snap.Origins)),
		Pending:   make([]PendingView, 0, len(snap.Pending)),
	}
	for k, c := range snap.Claimants {
		cv := ClaimantView{
			Claimant:             k,
			TotalClaimedInPeriod: c.TotalClaimedInPeriod.String(),
			LastTxRef:            c.LastTxRef,
		}
		if !c.LastClaimAt.IsZero() {
			at := c.LastClaimAt
			cv.LastClaimAt = &at
		}
		v.Claimants = append(v.Claimants, cv)
	}
	for k, o := range snap.Origins {
		v.Origins = append(v.Origins, OriginView{Origin: k, LastRequestAt: o.LastRequestAt})
	}
	for id, p := range snap.Pending {
		v.Pending = append(v.Pending, PendingView{
			CorrelationID: id,
			Profile:       string(p.Profile),
			Claimant:      p.Claimant,
			Amount:        p.Amount.String(),
			TxRef:         p.TxRef,
			Error:         p.Error,
			At:            p.At,
		})
	}
	sort.Slice(v.Claimants, func(i, j int) bool { return v.Claimants[i].Claimant < v.Claimants[j].Claimant })
	sort.Slice(v.Origins, func(i, j int) bool { return v.Origins[i].Origin < v.Origins[j].Origin })
	sort.Slice(v.Pending, func(i, j int) bool { return v.Pending[i].At.Before(v.Pending[j].At) })
	return v
}
