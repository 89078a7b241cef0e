package lms

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
)

// DefaultTenant is the API path segment used when a token names no tenant.
const DefaultTenant = "taallum"

// Claims are the identity fields the platform puts in its access tokens.
type Claims struct {
	UserID    course.ID `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// TenantSlug maps the token tenant to its API path segment.
func (c *Claims) TenantSlug() string {
	return TenantSlug(c.TenantID)
}

// TenantSlug maps a tenant id to its API path segment. The "learn" tenant is
// served under "taallum".
func TenantSlug(tenantID string) string {
	switch tenantID {
	case "", "learn":
		return DefaultTenant
	default:
		return tenantID
	}
}

// DisplayName is the learner name shown to content.
func (c *Claims) DisplayName() string {
	if name := strings.TrimSpace(c.FullName); name != "" {
		return name
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ParseToken reads the claims of a platform token without verifying its
// signature. It only picks the tenant of calls that forward the token to
// the platform, which verifies it; identities used locally come from
// Verifier.Verify. Expired tokens are rejected.
func ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}
