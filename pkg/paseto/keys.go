package pasetotoken

import (
	"fmt"
	"strings"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/Alijeyrad/carebook_backend/config"
)

type Mode string

const (
	ModeLocal  Mode = "local"  // v4.local, encrypted
	ModePublic Mode = "public" // v4.public, signed
)

// Keys is the key material of one mode. A public-mode service that only
// verifies tokens carries a Public key without a Secret.
type Keys struct {
	Mode Mode

	Symmetric *paseto.V4SymmetricKey
	Secret    *paseto.V4AsymmetricSecretKey
	Public    *paseto.V4AsymmetricPublicKey
}

// LoadKeys decodes the hex keys of the configured mode. In public mode the
// public key is derived from the secret when only the secret is set.
func LoadKeys(p config.PasetoConfig) (Keys, error) {
	switch Mode(p.Mode) {
	case ModeLocal:
		raw := strings.TrimSpace(p.LocalKeyHex)
		if raw == "" {
			return Keys{}, fmt.Errorf("%w: local mode needs local_key_hex", ErrConfig)
		}
		k, err := paseto.V4SymmetricKeyFromHex(raw)
		if err != nil {
			return Keys{}, fmt.Errorf("%w: local_key_hex: %v", ErrConfig, err)
		}
		return Keys{Mode: ModeLocal, Symmetric: &k}, nil

	case ModePublic:
		keys := Keys{Mode: ModePublic}
		if raw := strings.TrimSpace(p.SecretKeyHex); raw != "" {
			sk, err := paseto.NewV4AsymmetricSecretKeyFromHex(raw)
			if err != nil {
				return Keys{}, fmt.Errorf("%w: secret_key_hex: %v", ErrConfig, err)
			}
			pk := sk.Public()
			keys.Secret, keys.Public = &sk, &pk
		}
		if raw := strings.TrimSpace(p.PublicKeyHex); raw != "" {
			pk, err := paseto.NewV4AsymmetricPublicKeyFromHex(raw)
			if err != nil {
				return Keys{}, fmt.Errorf("%w: public_key_hex: %v", ErrConfig, err)
			}
			keys.Public = &pk
		}
		if keys.Public == nil {
			return Keys{}, fmt.Errorf("%w: public mode needs secret_key_hex or public_key_hex", ErrConfig)
		}
		return keys, nil
	}
	return Keys{}, fmt.Errorf("%w: unknown mode %q", ErrConfig, p.Mode)
}

func NewLocalKeys() Keys {
	k := paseto.NewV4SymmetricKey()
	return Keys{Mode: ModeLocal, Symmetric: &k}
}

func NewPublicKeys() Keys {
	sk := paseto.NewV4AsymmetricSecretKey()
	pk := sk.Public()
	return Keys{Mode: ModePublic, Secret: &sk, Public: &pk}
}

func (k Keys) seal(tok *paseto.Token, implicit []byte) (string, error) {
	switch {
	case k.Mode == ModeLocal && k.Symmetric != nil:
		return tok.V4Encrypt(*k.Symmetric, implicit), nil
	case k.Mode == ModePublic && k.Secret != nil:
		return tok.V4Sign(*k.Secret, implicit), nil
	}
	return "", fmt.Errorf("%w: no signing key for mode %q", ErrConfig, k.Mode)
}

func (k Keys) open(p *paseto.Parser, raw string, implicit []byte) (*paseto.Token, error) {
	switch {
	case k.Mode == ModeLocal && k.Symmetric != nil:
		return p.ParseV4Local(*k.Symmetric, raw, implicit)
	case k.Mode == ModePublic && k.Public != nil:
		return p.ParseV4Public(*k.Public, raw, implicit)
	}
	return nil, fmt.Errorf("%w: no verification key for mode %q", ErrConfig, k.Mode)
}
