package reqctx

import "context"

// AuthClaims is the part of a verified token that services act on.
type AuthClaims interface {
	GetUserID() string
	GetRole() string
}

func WithClaims(ctx context.Context, claims AuthClaims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext is nil for unauthenticated work such as webhooks and jobs.
func ClaimsFromContext(ctx context.Context) AuthClaims {
	claims, _ := ctx.Value(keyClaims).(AuthClaims)
	return claims
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	if c := ClaimsFromContext(ctx); c != nil && c.GetUserID() != "" {
		return c.GetUserID(), true
	}
	return "", false
}
