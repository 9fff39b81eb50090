package models

import (
	"time"

	"github.com/google/uuid"
)

// Domain event types emitted by the escrow engine for observers
// (audit stream, messaging layer, reputation).
const (
	EventAgreementCreated   = "agreement.created"
	EventPaymentDeposited   = "agreement.payment_deposited"
	EventMilestoneCompleted = "agreement.milestone_completed"
	EventFundsReleased      = "agreement.funds_released"
	EventRefundIssued       = "agreement.refund_issued"
	EventDisputeRaised      = "agreement.dispute_raised"
	EventDisputeResolved    = "agreement.dispute_resolved"
	EventAgreementCancelled = "agreement.cancelled"
)

// Event describes one agreement transition. Amount fields are only set where
// they make sense for the event type.
type Event struct {
	Type          string    `json:"type"`
	AgreementID   uuid.UUID `json:"agreement_id"`
	Actor         uuid.UUID `json:"actor"`
	Asset         string    `json:"asset,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Fee           int64     `json:"fee,omitempty"`
	RefundAmount  int64     `json:"refund_amount,omitempty"`
	ReleaseAmount int64     `json:"release_amount,omitempty"`
	MilestoneIdx  *int      `json:"milestone_index,omitempty"`
	At            time.Time `json:"at"`
}
