package authorize

import (
	"context"
	"errors"
	"fmt"

	casbin "github.com/casbin/casbin/v2"
)

var (
	ErrForbidden   = errors.New("forbidden")
	ErrInvalidArgs = errors.New("invalid authorization arguments")
)

// IAuthorization is the only thing services/middleware should depend on.
type IAuthorization interface {
	// Enforce answers: "Is role allowed to act on object inside domain?"
	Enforce(ctx context.Context, role Role, domain Domain, object Resource, action Action) (bool, error)

	// MustEnforce returns ErrForbidden if not allowed.
	MustEnforce(ctx context.Context, role Role, domain Domain, object Resource, action Action) error

	// p, role, domain, object, action, eft
	AddPermission(ctx context.Context, p PermissionPolicy) (bool, error)
	RemovePermission(ctx context.Context, p PermissionPolicy) (bool, error)

	Raw() *casbin.DistributedEnforcer
}

// Authorization is a thin typed wrapper around casbin.Enforcer.
type Authorization struct {
	enforcer *casbin.DistributedEnforcer
}

// NewAuthorization wraps an already-configured Enforcer
func NewAuthorization(e *casbin.DistributedEnforcer) (IAuthorization, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: enforcer is nil", ErrInvalidArgs)
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, err
	}

	return &Authorization{enforcer: e}, nil
}

func (a *Authorization) Raw() *casbin.DistributedEnforcer { return a.enforcer }

func (a *Authorization) Enforce(_ context.Context, role Role, domain Domain, object Resource, action Action) (bool, error) {
	switch {
	case !role.Valid():
		return false, fmt.Errorf("%w: unknown role %q", ErrInvalidArgs, role)
	case domain != DomainSys:
		return false, fmt.Errorf("%w: invalid domain %q", ErrInvalidArgs, domain)
	case !object.Valid():
		return false, fmt.Errorf("%w: unknown resource %q", ErrInvalidArgs, object)
	case !action.Valid():
		return false, fmt.Errorf("%w: unknown action %q", ErrInvalidArgs, action)
	}

	return a.enforcer.Enforce(string(role), string(domain), string(object), string(action))
}

func (a *Authorization) MustEnforce(ctx context.Context, role Role, domain Domain, object Resource, action Action) error {
	ok, err := a.Enforce(ctx, role, domain, object, action)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (a *Authorization) AddPermission(_ context.Context, p PermissionPolicy) (bool, error) {
	if err := validatePolicy(p); err != nil {
		return false, err
	}
	return a.enforcer.AddPolicy(p.row()...)
}

func (a *Authorization) RemovePermission(_ context.Context, p PermissionPolicy) (bool, error) {
	if err := validatePolicy(p); err != nil {
		return false, err
	}
	return a.enforcer.RemovePolicy(p.row()...)
}

// validatePolicy allows wildcards in the domain, resource and action
// columns. Subjects must always be a concrete role.
func validatePolicy(p PermissionPolicy) error {
	switch {
	case !p.Subject.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidArgs, p.Subject)
	case p.Domain != DomainSys && p.Domain != WildcardDomain:
		return fmt.Errorf("%w: invalid domain %q", ErrInvalidArgs, p.Domain)
	case !p.Object.Valid() && p.Object != WildcardResource:
		return fmt.Errorf("%w: unknown resource %q", ErrInvalidArgs, p.Object)
	case !p.Action.Valid() && p.Action != WildcardAction:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidArgs, p.Action)
	case p.Effect != EffectAllow && p.Effect != EffectDeny:
		return fmt.Errorf("%w: invalid effect %q", ErrInvalidArgs, p.Effect)
	}
	return nil
}
