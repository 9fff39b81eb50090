package models

import (
	"time"

	"github.com/google/uuid"
)

// UserStats keeps per-identity counters maintained as a side effect of
// agreement transitions. Counters only ever grow.
type UserStats struct {
	UserID             uuid.UUID `db:"user_id" json:"user_id"`
	TotalVolumeAsPayer int64     `db:"total_volume_as_payer" json:"total_volume_as_payer"`
	CompletedDeals     int64     `db:"completed_deals" json:"completed_deals"`
	DisputedDeals      int64     `db:"disputed_deals" json:"disputed_deals"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
