package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
)

// MemoryAgreementStore keeps agreements in process memory. It is used in
// tests and for embedding the engine without a database. Mutations on the
// same agreement are serialized by a per-agreement lock; different
// agreements proceed in parallel.
type MemoryAgreementStore struct {
	mu         sync.RWMutex
	agreements map[uuid.UUID]*models.Agreement
	locks      map[uuid.UUID]*sync.Mutex
}

func NewMemoryAgreementStore() *MemoryAgreementStore {
	return &MemoryAgreementStore{
		agreements: make(map[uuid.UUID]*models.Agreement),
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryAgreementStore) Create(_ context.Context, agreement *models.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agreements[agreement.ID]; ok {
		return apperror.ErrAgreementExists
	}
	s.agreements[agreement.ID] = agreement.Clone()
	s.locks[agreement.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryAgreementStore) Get(_ context.Context, id uuid.UUID) (*models.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agreement, ok := s.agreements[id]
	if !ok {
		return nil, apperror.ErrInvalidAgreement
	}
	return agreement.Clone(), nil
}

// Update runs mutator on a private copy under the agreement's lock and
// commits the copy only when the mutator returns nil. A failed mutator
// leaves the stored record untouched.
func (s *MemoryAgreementStore) Update(ctx context.Context, id uuid.UUID, mutator func(*models.Agreement) error) (*models.Agreement, error) {
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperror.ErrInvalidAgreement
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	current := s.agreements[id]
	s.mu.RUnlock()
	if current == nil {
		return nil, apperror.ErrInvalidAgreement
	}

	draft := current.Clone()
	if err := mutator(draft); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.agreements[id] = draft
	s.mu.Unlock()
	return draft.Clone(), nil
}

func (s *MemoryAgreementStore) ListByParty(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]models.Agreement, 0)
	for _, agreement := range s.agreements {
		if agreement.IsParty(userID) {
			results = append(results, *agreement.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID.String() < results[j].ID.String()
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if offset >= len(results) {
		return []models.Agreement{}, nil
	}
	results = results[offset:]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
