package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ScormHost/backend/internal/lms"
	"github.com/GriffinCanCode/ScormHost/backend/internal/player"
)

const (
	viewerKey = "scormhost.viewer"
	claimsKey = "scormhost.claims"

	// HeaderPlayerID lets one user keep separate sessions per device.
	HeaderPlayerID = "X-Player-ID"
	QueryPlayerID  = "player_id"
)

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*lms.Claims, error)
}

// Auth reads an optional bearer token. Requests without one continue as a
// guest; a token whose signature, algorithm or expiry does not verify is
// rejected.
func Auth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		viewer := player.Viewer{PlayerID: playerID(c)}

		token := extractToken(c)
		if token != "" {
			claims, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("token rejected", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": err.Error(),
					"code":  "unauthorized",
				})
				return
			}
			viewer.UserID = claims.UserID.String()
			viewer.FullName = claims.DisplayName()
			viewer.Token = token
			c.Set(claimsKey, claims)
		}

		c.Set(viewerKey, viewer)
		c.Next()
	}
}

// RequireUser rejects guests. It must run after Auth.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ClaimsFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid token",
				"code":  "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// ViewerFrom returns the caller set by Auth, or a guest.
func ViewerFrom(c *gin.Context) player.Viewer {
	if v, ok := c.Get(viewerKey); ok {
		if viewer, ok := v.(player.Viewer); ok {
			return viewer
		}
	}
	return player.Viewer{}
}

// ClaimsFrom returns the caller's token claims.
func ClaimsFrom(c *gin.Context) (*lms.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*lms.Claims)
	return claims, ok
}

// playerID reads X-Player-ID, or the player_id query parameter for
// WebSocket clients that cannot set headers.
func playerID(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader(HeaderPlayerID)); h != "" {
		return h
	}
	return strings.TrimSpace(c.Query(QueryPlayerID))
}

func extractToken(c *gin.Context) string {
	if q := c.Query("token"); q != "" {
		return q
	}
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
