package lms

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/config"
)

// ErrNoVerificationKey is returned by a Verifier built without any key.
var ErrNoVerificationKey = errors.New("no token verification key configured")

// Verifier checks the signature of platform access tokens before their
// identity is trusted.
type Verifier struct {
	key     any
	methods []string
	issuer  string
}

// NewVerifier builds a verifier from the shared secret or the PEM public key
// file in cfg. A verifier without a key rejects every token.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{issuer: cfg.TokenIssuer}

	switch {
	case cfg.TokenPublicKey != "":
		pem, err := os.ReadFile(cfg.TokenPublicKey)
		if err != nil {
			return nil, fmt.Errorf("read token public key: %w", err)
		}
		if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
			v.key = key
			v.methods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
			break
		}
		key, err := jwt.ParseECPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("token public key is neither RSA nor ECDSA: %w", err)
		}
		v.key = key
		v.methods = []string{"ES256", "ES384", "ES512"}

	case cfg.TokenSecret != "":
		v.key = []byte(cfg.TokenSecret)
		v.methods = []string{"HS256", "HS384", "HS512"}
	}
	return v, nil
}

// NewHMACVerifier verifies tokens signed with secret.
func NewHMACVerifier(secret string) *Verifier {
	v, _ := NewVerifier(config.AuthConfig{TokenSecret: secret})
	return v
}

// Enabled reports whether the verifier has a key.
func (v *Verifier) Enabled() bool {
	return v != nil && v.key != nil
}

// Verify checks the token's signature, algorithm, expiry and, when
// configured, issuer, and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if !v.Enabled() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrNoVerificationKey)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !parsed.Valid:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
