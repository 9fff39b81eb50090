package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentpay/escrow-engine/internal/models"
)

// TransactionRepository appends and lists the value-movement journal.
type TransactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Append(ctx context.Context, entry *models.Transaction) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, agreement_id, type, asset, amount, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.AgreementID, entry.Type, entry.Asset, entry.Amount, entry.Description)
	if err != nil {
		return fmt.Errorf("transaction repository: append: %w", err)
	}
	return nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT id, user_id, agreement_id, type, asset, amount, description, created_at
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: list: %w", err)
	}
	return transactions, nil
}

func (r *TransactionRepository) ListByAgreement(ctx context.Context, agreementID uuid.UUID) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT id, user_id, agreement_id, type, asset, amount, description, created_at
		FROM transactions WHERE agreement_id = $1 ORDER BY created_at
	`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("transaction repository: list by agreement: %w", err)
	}
	return transactions, nil
}
