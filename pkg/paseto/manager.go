package pasetotoken

import (
	"time"

	"github.com/Alijeyrad/carebook_backend/config"
)

// NewPasetoManager builds the manager from authentication.paseto.
func NewPasetoManager(cfg *config.Config) (*Manager, error) {
	p := cfg.Authentication.Paseto
	keys, err := LoadKeys(p)
	if err != nil {
		return nil, err
	}
	return New(Config{
		Mode:      Mode(p.Mode),
		Issuer:    p.Issuer,
		Audience:  p.Audience,
		AccessTTL: time.Duration(p.AccessTTLMinutes) * time.Minute,
	}, keys)
}
