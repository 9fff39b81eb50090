package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentpay/escrow-engine/internal/models"
)

// EvidenceRepository stores metadata of files attached to disputes.
type EvidenceRepository struct {
	db *sqlx.DB
}

func NewEvidenceRepository(db *sqlx.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

func (r *EvidenceRepository) Create(ctx context.Context, evidence *models.Evidence) error {
	if evidence.ID == uuid.Nil {
		evidence.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO evidence (id, agreement_id, uploader_id, path, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evidence.ID, evidence.AgreementID, evidence.UploaderID, evidence.Path, evidence.ContentType, evidence.SizeBytes)
	if err != nil {
		return fmt.Errorf("evidence repository: create: %w", err)
	}
	return nil
}

func (r *EvidenceRepository) ListByAgreement(ctx context.Context, agreementID uuid.UUID) ([]models.Evidence, error) {
	items := []models.Evidence{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, agreement_id, uploader_id, path, content_type, size_bytes, created_at
		FROM evidence WHERE agreement_id = $1 ORDER BY created_at
	`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("evidence repository: list: %w", err)
	}
	return items, nil
}
