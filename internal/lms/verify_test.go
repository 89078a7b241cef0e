package lms

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/config"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func writePublicKey(t *testing.T, pub any) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "token.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return path
}

func TestVerifyHMAC(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	require.True(t, v.Enabled())

	claims, err := v.Verify(sign(t, jwt.SigningMethodHS256, []byte("test-secret"),
		jwt.MapClaims{"user_id": 42, "full_name": "Salma Benali"}))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID.String())
	assert.Equal(t, "Salma Benali", claims.DisplayName())
}

func TestVerifyRejects(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	unsigned := sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"user_id": "1"})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"user_id": "1"}), ErrInvalidToken},
		{"unsigned", unsigned, ErrInvalidToken},
		{"foreign algorithm", sign(t, jwt.SigningMethodRS256, rsaKey, jwt.MapClaims{"user_id": "1"}), ErrInvalidToken},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte("test-secret"),
			jwt.MapClaims{"user_id": "1", "exp": time.Now().Add(-time.Hour).Unix()}), ErrTokenExpired},
		{"garbage", "not-a-token", ErrInvalidToken},
	}
	v := NewHMACVerifier("test-secret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, claims)
		})
	}
}

func TestVerifyWithoutKey(t *testing.T) {
	v, err := NewVerifier(config.AuthConfig{})
	require.NoError(t, err)
	assert.False(t, v.Enabled())

	_, err = v.Verify(sign(t, jwt.SigningMethodHS256, []byte("anything"), jwt.MapClaims{"user_id": "1"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrNoVerificationKey)
}

func TestVerifyIssuer(t *testing.T) {
	v, err := NewVerifier(config.AuthConfig{TokenSecret: "s", TokenIssuer: "https://learn.ideo-cloud.ma"})
	require.NoError(t, err)

	_, err = v.Verify(sign(t, jwt.SigningMethodHS256, []byte("s"),
		jwt.MapClaims{"user_id": "1", "iss": "https://learn.ideo-cloud.ma"}))
	assert.NoError(t, err)

	_, err = v.Verify(sign(t, jwt.SigningMethodHS256, []byte("s"),
		jwt.MapClaims{"user_id": "1", "iss": "https://elsewhere.example"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyPublicKeyFile(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	t.Run("rsa", func(t *testing.T) {
		v, err := NewVerifier(config.AuthConfig{TokenPublicKey: writePublicKey(t, &rsaKey.PublicKey)})
		require.NoError(t, err)

		claims, err := v.Verify(sign(t, jwt.SigningMethodRS256, rsaKey, jwt.MapClaims{"user_id": "5"}))
		require.NoError(t, err)
		assert.Equal(t, "5", claims.UserID.String())

		// An HMAC token keyed with the public key bytes is refused.
		pemBytes, err := os.ReadFile(writePublicKey(t, &rsaKey.PublicKey))
		require.NoError(t, err)
		_, err = v.Verify(sign(t, jwt.SigningMethodHS256, pemBytes, jwt.MapClaims{"user_id": "5"}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ecdsa", func(t *testing.T) {
		v, err := NewVerifier(config.AuthConfig{TokenPublicKey: writePublicKey(t, &ecKey.PublicKey)})
		require.NoError(t, err)

		_, err = v.Verify(sign(t, jwt.SigningMethodES256, ecKey, jwt.MapClaims{"user_id": "5"}))
		assert.NoError(t, err)
	})

	t.Run("unreadable", func(t *testing.T) {
		_, err := NewVerifier(config.AuthConfig{TokenPublicKey: filepath.Join(t.TempDir(), "none.pem")})
		assert.Error(t, err)
	})
}
