package service

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
)

// EvidenceFiles persists the file bytes of dispute evidence.
type EvidenceFiles interface {
	Save(ctx context.Context, agreementID, uploaderID uuid.UUID, originalName string, r io.Reader) (path, contentType string, size int64, err error)
	Delete(ctx context.Context, relativePath string) error
}

// EvidenceRecords persists evidence metadata.
type EvidenceRecords interface {
	Create(ctx context.Context, evidence *models.Evidence) error
	ListByAgreement(ctx context.Context, agreementID uuid.UUID) ([]models.Evidence, error)
}

// EvidenceService attaches files to disputed agreements. Only parties of a
// DISPUTED agreement may upload; parties, arbitrators and admins may list.
type EvidenceService struct {
	store   AgreementStore
	gate    *AuthGate
	files   EvidenceFiles
	records EvidenceRecords
}

func NewEvidenceService(store AgreementStore, gate *AuthGate, files EvidenceFiles, records EvidenceRecords) *EvidenceService {
	return &EvidenceService{store: store, gate: gate, files: files, records: records}
}

func (s *EvidenceService) Upload(ctx context.Context, caller, agreementID uuid.UUID, originalName string, r io.Reader) (*models.Evidence, error) {
	agreement, err := s.store.Get(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Require(ctx, caller, agreement, RoleEitherParty); err != nil {
		return nil, err
	}
	if agreement.Status != models.AgreementStatusDisputed {
		return nil, apperror.ErrInvalidStatus
	}

	path, contentType, size, err := s.files.Save(ctx, agreementID, caller, originalName, r)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "evidence upload rejected")
	}

	evidence := &models.Evidence{
		AgreementID: agreementID,
		UploaderID:  caller,
		Path:        path,
		ContentType: contentType,
		SizeBytes:   size,
	}
	if err := s.records.Create(ctx, evidence); err != nil {
		_ = s.files.Delete(ctx, path)
		return nil, err
	}
	return evidence, nil
}

func (s *EvidenceService) List(ctx context.Context, caller, agreementID uuid.UUID) ([]models.Evidence, error) {
	agreement, err := s.store.Get(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.RequireReader(ctx, caller, agreement); err != nil {
		return nil, err
	}
	return s.records.ListByAgreement(ctx, agreementID)
}
