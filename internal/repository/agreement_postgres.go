package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
)

const pqUniqueViolation = "23505"

// AgreementRepository persists agreements in PostgreSQL. Update serializes
// concurrent mutations of one agreement with SELECT ... FOR UPDATE so a
// read-then-write race is never observable.
type AgreementRepository struct {
	db *sqlx.DB
}

func NewAgreementRepository(db *sqlx.DB) *AgreementRepository {
	return &AgreementRepository{db: db}
}

func (r *AgreementRepository) Create(ctx context.Context, agreement *models.Agreement) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("agreement repository: begin create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agreements (id, payer_id, payee_id, asset, total_amount, remaining_amount,
			fee_accrued, status, use_milestones, description, created_at, release_timeout)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, agreement.ID, agreement.Payer, agreement.Payee, agreement.Asset, agreement.TotalAmount,
		agreement.RemainingAmount, agreement.FeeAccrued, agreement.Status, agreement.UseMilestones,
		agreement.Description, agreement.CreatedAt, agreement.ReleaseTimeout)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return apperror.ErrAgreementExists
		}
		return fmt.Errorf("agreement repository: insert agreement: %w", err)
	}

	for _, m := range agreement.Milestones {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO milestones (agreement_id, idx, amount, description, completed, released)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, agreement.ID, m.Idx, m.Amount, m.Description, m.Completed, m.Released)
		if err != nil {
			return fmt.Errorf("agreement repository: insert milestone %d: %w", m.Idx, err)
		}
	}

	return tx.Commit()
}

func (r *AgreementRepository) Get(ctx context.Context, id uuid.UUID) (*models.Agreement, error) {
	var agreement models.Agreement
	err := r.db.GetContext(ctx, &agreement, `
		SELECT id, payer_id, payee_id, asset, total_amount, remaining_amount, fee_accrued,
			status, use_milestones, description, created_at, release_timeout
		FROM agreements WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrInvalidAgreement
		}
		return nil, fmt.Errorf("agreement repository: get: %w", err)
	}

	if err := r.db.SelectContext(ctx, &agreement.Milestones, `
		SELECT agreement_id, idx, amount, description, completed, released
		FROM milestones WHERE agreement_id = $1 ORDER BY idx
	`, id); err != nil {
		return nil, fmt.Errorf("agreement repository: get milestones: %w", err)
	}

	return &agreement, nil
}

// Update loads the agreement under a row lock, applies mutator and writes the
// result back in the same transaction. A mutator error rolls everything back.
func (r *AgreementRepository) Update(ctx context.Context, id uuid.UUID, mutator func(*models.Agreement) error) (*models.Agreement, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("agreement repository: begin update: %w", err)
	}
	defer tx.Rollback()

	var agreement models.Agreement
	err = tx.GetContext(ctx, &agreement, `
		SELECT id, payer_id, payee_id, asset, total_amount, remaining_amount, fee_accrued,
			status, use_milestones, description, created_at, release_timeout
		FROM agreements WHERE id = $1 FOR UPDATE
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrInvalidAgreement
		}
		return nil, fmt.Errorf("agreement repository: lock agreement: %w", err)
	}

	if err := tx.SelectContext(ctx, &agreement.Milestones, `
		SELECT agreement_id, idx, amount, description, completed, released
		FROM milestones WHERE agreement_id = $1 ORDER BY idx
	`, id); err != nil {
		return nil, fmt.Errorf("agreement repository: lock milestones: %w", err)
	}

	if err := mutator(&agreement); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE agreements
		SET total_amount = $2, remaining_amount = $3, fee_accrued = $4, status = $5,
			release_timeout = $6
		WHERE id = $1
	`, id, agreement.TotalAmount, agreement.RemainingAmount, agreement.FeeAccrued,
		agreement.Status, agreement.ReleaseTimeout)
	if err != nil {
		return nil, fmt.Errorf("agreement repository: write agreement: %w", err)
	}

	for _, m := range agreement.Milestones {
		_, err = tx.ExecContext(ctx, `
			UPDATE milestones SET completed = $3, released = $4
			WHERE agreement_id = $1 AND idx = $2
		`, id, m.Idx, m.Completed, m.Released)
		if err != nil {
			return nil, fmt.Errorf("agreement repository: write milestone %d: %w", m.Idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("agreement repository: commit update: %w", err)
	}
	return &agreement, nil
}

func (r *AgreementRepository) ListByParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Agreement, error) {
	agreements := []models.Agreement{}
	err := r.db.SelectContext(ctx, &agreements, `
		SELECT id, payer_id, payee_id, asset, total_amount, remaining_amount, fee_accrued,
			status, use_milestones, description, created_at, release_timeout
		FROM agreements
		WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("agreement repository: list by party: %w", err)
	}
	return agreements, nil
}
