package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Platform-level roles kept in the role registry. Payer/payee roles are
// derived from the agreement record and never stored here.
const (
	PlatformRoleAdmin      = "admin"
	PlatformRoleArbitrator = "arbitrator"
)

// RoleRepository is the PostgreSQL-backed role registry.
type RoleRepository struct {
	db *sqlx.DB
}

func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) HasRole(ctx context.Context, userID uuid.UUID, role string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM platform_roles WHERE user_id = $1 AND role = $2
	`, userID, role)
	if err != nil {
		return false, fmt.Errorf("role repository: lookup: %w", err)
	}
	return count > 0, nil
}

func (r *RoleRepository) Grant(ctx context.Context, userID uuid.UUID, role string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO platform_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, role)
	if err != nil {
		return fmt.Errorf("role repository: grant: %w", err)
	}
	return nil
}

// StaticRoleRegistry resolves roles from fixed identity lists, typically
// loaded from configuration.
type StaticRoleRegistry struct {
	admins      map[uuid.UUID]struct{}
	arbitrators map[uuid.UUID]struct{}
}

func NewStaticRoleRegistry(admins, arbitrators []uuid.UUID) *StaticRoleRegistry {
	registry := &StaticRoleRegistry{
		admins:      make(map[uuid.UUID]struct{}, len(admins)),
		arbitrators: make(map[uuid.UUID]struct{}, len(arbitrators)),
	}
	for _, id := range admins {
		registry.admins[id] = struct{}{}
	}
	for _, id := range arbitrators {
		registry.arbitrators[id] = struct{}{}
	}
	return registry
}

func (r *StaticRoleRegistry) HasRole(_ context.Context, userID uuid.UUID, role string) (bool, error) {
	switch role {
	case PlatformRoleAdmin:
		_, ok := r.admins[userID]
		return ok, nil
	case PlatformRoleArbitrator:
		_, ok := r.arbitrators[userID]
		return ok, nil
	}
	return false, nil
}
