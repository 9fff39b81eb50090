package models

import (
	"time"

	"github.com/google/uuid"
)

// Agreement statuses. Released, refunded and cancelled are terminal.
const (
	AgreementStatusPending   = "pending"
	AgreementStatusFunded    = "funded"
	AgreementStatusDisputed  = "disputed"
	AgreementStatusReleased  = "released"
	AgreementStatusRefunded  = "refunded"
	AgreementStatusCancelled = "cancelled"
)

// AssetNative is the sentinel asset kind for the platform's native currency.
// Any other value is treated as an opaque token identifier.
const AssetNative = "native"

// Milestone is a sub-amount of an agreement released independently once the
// payer marks it completed.
type Milestone struct {
	AgreementID uuid.UUID `db:"agreement_id" json:"-"`
	Idx         int       `db:"idx" json:"index"`
	Amount      int64     `db:"amount" json:"amount"`
	Description string    `db:"description" json:"description"`
	Completed   bool      `db:"completed" json:"completed"`
	Released    bool      `db:"released" json:"released"`
}

// Agreement is one escrow relationship between a payer and a payee.
// All amounts are integer minor units of the escrowed asset.
type Agreement struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Payer           uuid.UUID  `db:"payer_id" json:"payer_id"`
	Payee           uuid.UUID  `db:"payee_id" json:"payee_id"`
	Asset           string     `db:"asset" json:"asset"`
	TotalAmount     int64      `db:"total_amount" json:"total_amount"`
	RemainingAmount int64      `db:"remaining_amount" json:"remaining_amount"`
	FeeAccrued      int64      `db:"fee_accrued" json:"fee_accrued"`
	Status          string     `db:"status" json:"status"`
	UseMilestones   bool       `db:"use_milestones" json:"use_milestones"`
	Description     string     `db:"description" json:"description"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ReleaseTimeout  *time.Time `db:"release_timeout" json:"release_timeout,omitempty"`

	Milestones []Milestone `db:"-" json:"milestones,omitempty"`
}

// Terminal reports whether no further mutation of the agreement is permitted.
func (a *Agreement) Terminal() bool {
	switch a.Status {
	case AgreementStatusReleased, AgreementStatusRefunded, AgreementStatusCancelled:
		return true
	}
	return false
}

// IsParty reports whether id is the payer or the payee of the agreement.
func (a *Agreement) IsParty(id uuid.UUID) bool {
	return id == a.Payer || id == a.Payee
}

// MilestoneSum returns the sum of all milestone amounts.
func (a *Agreement) MilestoneSum() int64 {
	var sum int64
	for _, m := range a.Milestones {
		sum += m.Amount
	}
	return sum
}

// Clone returns a deep copy so store callers never share milestone slices.
func (a *Agreement) Clone() *Agreement {
	clone := *a
	if a.Milestones != nil {
		clone.Milestones = make([]Milestone, len(a.Milestones))
		copy(clone.Milestones, a.Milestones)
	}
	if a.ReleaseTimeout != nil {
		t := *a.ReleaseTimeout
		clone.ReleaseTimeout = &t
	}
	return &clone
}
