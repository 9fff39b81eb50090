// Package transfer provides the value-transfer primitive the escrow engine
// calls to move funds. Every call is synchronous and all-or-nothing: a nil
// error means the full amount moved, any error means nothing moved.
package transfer

import (
	"context"

	"github.com/google/uuid"
)

// Adapter is the opaque transfer capability. Transfer pays out of the
// engine's own vault; TransferFrom pulls funds from a payer into the vault.
type Adapter interface {
	Transfer(ctx context.Context, asset string, to uuid.UUID, amount int64) error
	TransferFrom(ctx context.Context, asset string, from, to uuid.UUID, amount int64) error
}
