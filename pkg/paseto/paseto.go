// Package pasetotoken issues and verifies the v4 PASETO access tokens that
// carry a caller's user id, role and optional Redis session.
package pasetotoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL = 15 * time.Minute

	claimType    = "typ"
	claimUser    = "uid"
	claimRole    = "rol"
	claimSession = "sid"
)

type Config struct {
	Mode      Mode
	Issuer    string
	Audience  string
	AccessTTL time.Duration
	// Implicit is bound into every token without being transmitted.
	Implicit []byte
}

type Manager struct {
	cfg    Config
	keys   Keys
	parser paseto.Parser
	now    func() time.Time
}

func New(cfg Config, keys Keys) (*Manager, error) {
	switch {
	case cfg.Mode != keys.Mode:
		return nil, fmt.Errorf("%w: mode %q does not match keys %q", ErrConfig, cfg.Mode, keys.Mode)
	case cfg.Issuer == "" || cfg.Audience == "":
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrConfig)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}

	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(cfg.Issuer), paseto.ForAudience(cfg.Audience), paseto.NotExpired())
	return &Manager{cfg: cfg, keys: keys, parser: p, now: time.Now}, nil
}

func (m *Manager) TTL() time.Duration { return m.cfg.AccessTTL }

// IssueAccess mints an access token for a user acting in role. When sessionID
// is set the auth middleware also requires the session key in Redis.
func (m *Manager) IssueAccess(userID, role string, sessionID *uuid.UUID) (string, error) {
	if userID == "" || role == "" {
		return "", fmt.Errorf("%w: user id and role are required", ErrConfig)
	}

	now := m.now()
	tok := paseto.NewToken()
	tok.SetIssuer(m.cfg.Issuer)
	tok.SetAudience(m.cfg.Audience)
	tok.SetJti(tokenID())
	tok.SetSubject(userID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(m.cfg.AccessTTL))

	tok.SetString(claimType, string(TokenTypeAccess))
	tok.SetString(claimUser, userID)
	tok.SetString(claimRole, role)
	if sessionID != nil {
		tok.SetString(claimSession, sessionID.String())
	}
	return m.keys.seal(&tok, m.cfg.Implicit)
}

// Verify checks signature, issuer, audience and expiry. Every failure wraps
// ErrInvalidToken.
func (m *Manager) Verify(raw string) (*Claims, error) {
	tok, err := m.keys.open(&m.parser, raw, m.cfg.Implicit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, err := m.claims(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (m *Manager) claims(tok *paseto.Token) (*Claims, error) {
	c := &Claims{
		Issuer:      m.cfg.Issuer,
		Audience:    m.cfg.Audience,
		RawFooter:   tok.Footer(),
		RawClaimsJS: tok.ClaimsJSON(),
	}

	var errs []error
	str := func(key string) string {
		v, err := tok.GetString(key)
		errs = append(errs, err)
		return v
	}
	at := func(get func() (time.Time, error)) time.Time {
		v, err := get()
		errs = append(errs, err)
		return v
	}

	c.TokenID = str("jti")
	c.Subject = str("sub")
	c.IssuedAt = at(tok.GetIssuedAt)
	c.NotBefore = at(tok.GetNotBefore)
	c.ExpiresAt = at(tok.GetExpiration)
	c.Type = TokenType(str(claimType))
	c.UserID = str(claimUser)
	c.Role = str(claimRole)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if sid, err := tok.GetString(claimSession); err == nil {
		parsed, err := uuid.Parse(sid)
		if err != nil {
			return nil, fmt.Errorf("session claim: %w", err)
		}
		c.SessionID = &parsed
	}
	return c, nil
}

func tokenID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
