package authorize

import (
	"context"
	"errors"

	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

var ErrNoSubjectInContext = errors.New("no subject found in context")

// RoleFromContext returns the role of the authenticated caller.
func RoleFromContext(ctx context.Context) (Role, error) {
	claims := reqctx.ClaimsFromContext(ctx)
	if claims == nil {
		return "", ErrNoSubjectInContext
	}
	role := Role(claims.GetRole())
	if !role.Valid() {
		return "", ErrNoSubjectInContext
	}
	return role, nil
}

// Can is MustEnforce for the caller in ctx, always in the sys domain.
func Can(ctx context.Context, auth IAuthorization, object Resource, action Action) error {
	role, err := RoleFromContext(ctx)
	if err != nil {
		return err
	}
	return auth.MustEnforce(ctx, role, DomainSys, object, action)
}
