package pasetotoken

import (
	"time"

	"github.com/google/uuid"
)

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims is a verified token. It satisfies reqctx.AuthClaims.
type Claims struct {
	Type      TokenType
	UserID    string
	Role      string
	SessionID *uuid.UUID

	Issuer    string
	Audience  string
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time

	RawFooter   []byte
	RawClaimsJS []byte
}

func (c *Claims) GetUserID() string { return c.UserID }
func (c *Claims) GetRole() string   { return c.Role }

// ExpiresIn is the time left at now, never negative.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
