package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
)

// LedgerAdapter moves value between internal balance rows. The engine holds
// escrowed funds on a dedicated vault identity; Transfer pays out of the
// vault, TransferFrom pulls a payer's funds into it. Each call is one
// database transaction, so partial movement is impossible.
type LedgerAdapter struct {
	db    *sqlx.DB
	vault uuid.UUID
}

func NewLedgerAdapter(db *sqlx.DB, vault uuid.UUID) *LedgerAdapter {
	return &LedgerAdapter{db: db, vault: vault}
}

func (l *LedgerAdapter) Transfer(ctx context.Context, asset string, to uuid.UUID, amount int64) error {
	return l.move(ctx, asset, l.vault, to, amount)
}

func (l *LedgerAdapter) TransferFrom(ctx context.Context, asset string, from, to uuid.UUID, amount int64) error {
	return l.move(ctx, asset, from, to, amount)
}

func (l *LedgerAdapter) move(ctx context.Context, asset string, from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "ledger: begin transfer")
	}
	defer tx.Rollback()

	var available int64
	err = tx.GetContext(ctx, &available, `
		SELECT available FROM balances WHERE user_id = $1 AND asset = $2 FOR UPDATE
	`, from, asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.ErrInsufficientBalance
		}
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "ledger: read source balance")
	}
	if available < amount {
		return apperror.ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE balances SET available = available - $3, updated_at = NOW()
		WHERE user_id = $1 AND asset = $2
	`, from, asset, amount)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "ledger: debit")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, asset, available)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, asset) DO UPDATE
		SET available = balances.available + $3, updated_at = NOW()
	`, to, asset, amount)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "ledger: credit")
	}

	if err := tx.Commit(); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransferFailed, "ledger: commit")
	}
	return nil
}

// Balance returns the available funds of an identity for one asset.
func (l *LedgerAdapter) Balance(ctx context.Context, userID uuid.UUID, asset string) (int64, error) {
	var available int64
	err := l.db.GetContext(ctx, &available, `
		SELECT available FROM balances WHERE user_id = $1 AND asset = $2
	`, userID, asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return available, nil
}

// Credit tops up an identity's balance. Exposed for the wallet boundary;
// the engine itself never credits out of thin air.
func (l *LedgerAdapter) Credit(ctx context.Context, userID uuid.UUID, asset string, amount int64) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO balances (user_id, asset, available)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, asset) DO UPDATE
		SET available = balances.available + $3, updated_at = NOW()
	`, userID, asset, amount)
	if err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	return nil
}
