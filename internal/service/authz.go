package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/models"
	"github.com/agentpay/escrow-engine/internal/pkg/apperror"
	"github.com/agentpay/escrow-engine/internal/repository"
)

// Role names the authorization required by an escrow operation. Payer and
// payee roles are derived from the agreement record; admin and arbitrator
// membership comes from the external role registry.
type Role string

const (
	RolePayer       Role = "payer"
	RolePayee       Role = "payee"
	RoleEitherParty Role = "either_party"
	RoleAdmin       Role = "admin"
	RoleArbitrator  Role = "arbitrator"
)

// RoleRegistry resolves platform-level role membership.
type RoleRegistry interface {
	HasRole(ctx context.Context, userID uuid.UUID, role string) (bool, error)
}

// AuthGate decides whether a caller identity may perform an operation.
// It trusts the identity itself; authentication happens at the boundary.
type AuthGate struct {
	registry RoleRegistry
}

func NewAuthGate(registry RoleRegistry) *AuthGate {
	return &AuthGate{registry: registry}
}

// Require returns ErrNotAuthorized unless caller holds the role. Agreement
// may be nil for roles that do not depend on one.
func (g *AuthGate) Require(ctx context.Context, caller uuid.UUID, agreement *models.Agreement, role Role) error {
	if caller == uuid.Nil {
		return apperror.ErrNotAuthorized
	}

	switch role {
	case RolePayer:
		if agreement != nil && agreement.Payer == caller {
			return nil
		}
	case RolePayee:
		if agreement != nil && agreement.Payee == caller {
			return nil
		}
	case RoleEitherParty:
		if agreement != nil && agreement.IsParty(caller) {
			return nil
		}
	case RoleAdmin:
		return g.requirePlatform(ctx, caller, repository.PlatformRoleAdmin)
	case RoleArbitrator:
		return g.requirePlatform(ctx, caller, repository.PlatformRoleArbitrator)
	}
	return apperror.ErrNotAuthorized
}

// RequireReader allows parties plus platform roles; used by the read-only
// operations so arbitrators and admins can inspect any agreement.
func (g *AuthGate) RequireReader(ctx context.Context, caller uuid.UUID, agreement *models.Agreement) error {
	if agreement != nil && agreement.IsParty(caller) {
		return nil
	}
	if err := g.requirePlatform(ctx, caller, repository.PlatformRoleArbitrator); err == nil {
		return nil
	}
	return g.requirePlatform(ctx, caller, repository.PlatformRoleAdmin)
}

func (g *AuthGate) requirePlatform(ctx context.Context, caller uuid.UUID, role string) error {
	ok, err := g.registry.HasRole(ctx, caller, role)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "role registry lookup failed")
	}
	if !ok {
		return apperror.ErrNotAuthorized
	}
	return nil
}
