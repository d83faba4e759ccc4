package permission

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

// RoleResolver answers which role a principal holds on a shop. It returns
// store.ErrNotFound when the principal has no active membership.
type RoleResolver interface {
	ShopRole(ctx context.Context, principalID string, shopID string) (domain.Role, error)
}

var (
	ManagerOrAbove = []domain.Role{domain.RoleManager}
	SellRoles      = []domain.Role{domain.RoleManager, domain.RoleCashier}
	AnyRole        = []domain.Role{domain.RoleManager, domain.RoleCashier}
)

type Gate struct {
	roles RoleResolver
}

func NewGate(roles RoleResolver) *Gate {
	return &Gate{roles: roles}
}

// Authorize returns nil when the principal is a platform admin or holds one of
// allowed on shopID.
func (g *Gate) Authorize(ctx context.Context, principal domain.Principal, shopID string, allowed ...domain.Role) error {
	if strings.TrimSpace(principal.ID) == "" {
		return store.Forbidden("principal required")
	}
	if principal.PlatformAdmin {
		return nil
	}
	role, err := g.roles.ShopRole(ctx, principal.ID, shopID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Forbidden("principal %s has no role on shop %s", principal.ID, shopID)
	}
	if err != nil {
		return err
	}
	if !slices.Contains(allowed, role) {
		return store.Forbidden("role %s may not perform this operation", role)
	}
	return nil
}

// CanMutate reports whether the principal may perform manager-level ledger
// writes on shopID.
func (g *Gate) CanMutate(ctx context.Context, principal domain.Principal, shopID string) (bool, error) {
	err := g.Authorize(ctx, principal, shopID, ManagerOrAbove...)
	if errors.Is(err, store.ErrForbidden) {
		return false, nil
	}
	return err == nil, err
}
