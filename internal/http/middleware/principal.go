package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// principalContextKey is the gin.Context key RequirePrincipal stores the
// authenticated principal id under.
const principalContextKey = "principalId"

// PrincipalMiddleware authenticates a bearer JWT and extracts the caller's
// principal id from its subject claim. It is deliberately narrower than the
// teacher's AuthService: there is no session table, refresh-token rotation,
// or OAuth exchange here, only the claim extraction every other endpoint in
// this service needs to resolve a quota bucket.
type PrincipalMiddleware struct {
	log       *logger.Logger
	secretKey string
}

func NewPrincipalMiddleware(log *logger.Logger, secretKey string) *PrincipalMiddleware {
	return &PrincipalMiddleware{log: log.With("component", "PrincipalMiddleware"), secretKey: secretKey}
}

type principalClaims struct {
	jwt.RegisteredClaims
}

func (m *PrincipalMiddleware) RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing principal token"})
			return
		}
		parsed, err := jwt.ParseWithClaims(token, &principalClaims{}, func(t *jwt.Token) (interface{}, error) {
			return []byte(m.secretKey), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired token"})
			return
		}
		claims, ok := parsed.Claims.(*principalClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token claims"})
			return
		}
		principalID, err := uuid.Parse(claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid principal id in token"})
			return
		}
		c.Set(principalContextKey, principalID)
		c.Next()
	}
}

// PrincipalFromContext fetches the principal id RequirePrincipal attached.
func PrincipalFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(principalContextKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func extractBearerToken(c *gin.Context) string {
	if q := c.Query("token"); q != "" {
		return q
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}
