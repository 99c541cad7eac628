package auth

import (
	"context"
	"fmt"
	"slices"
)

// Principal is the authenticated caller.
type Principal struct {
	UID   string
	Roles []string
}

// HasRole reports whether p carries role. Owners hold every role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, RoleOwner) || slices.Contains(p.Roles, role)
}

// Require returns ErrForbidden unless p has one of roles.
func (p Principal) Require(roles ...string) error {
	for _, r := range roles {
		if p.HasRole(r) {
			return nil
		}
	}
	return fmt.Errorf("%w: requires one of %v", ErrForbidden, roles)
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil || v.UID == "" {
		return Principal{}, false
	}
	return *v, true
}

// UIDFromContext returns the caller's uid, or "" when unauthenticated.
func UIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.UID
}
