package models

import (
	"time"

	"github.com/google/uuid"
)

// Journal entry types for value movements.
const (
	TransactionTypeDeposit = "deposit_hold"
	TransactionTypePayout  = "release_payout"
	TransactionTypeFee     = "platform_fee"
	TransactionTypeRefund  = "refund"
)

// Transaction is one row of the value-movement journal. The journal is
// append-only and exists for audit; balances are owned by the ledger.
type Transaction struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	AgreementID uuid.UUID `db:"agreement_id" json:"agreement_id"`
	Type        string    `db:"type" json:"type"`
	Asset       string    `db:"asset" json:"asset"`
	Amount      int64     `db:"amount" json:"amount"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Evidence is a file attached by a party to a disputed agreement.
type Evidence struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AgreementID uuid.UUID `db:"agreement_id" json:"agreement_id"`
	UploaderID  uuid.UUID `db:"uploader_id" json:"uploader_id"`
	Path        string    `db:"path" json:"path"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
