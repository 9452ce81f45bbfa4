package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dontwaste/surplus_api/internal/utils"
)

// AuthMiddleware authenticates requests with a JWT bearer token and exposes
// the caller's identity on the gin context.
type AuthMiddleware struct {
	rateLimiter *InvalidAuthRateLimiter
}

// NewAuthMiddleware constructs a new AuthMiddleware.
func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{rateLimiter: NewInvalidAuthRateLimiter()}
}

// Handle enforces authentication. Repeated invalid attempts from one IP are
// rate limited.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := m.claims(c)
		if !ok {
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// HandleOptional authenticates when a token is present but lets anonymous
// requests through. Browse endpoints use it so public listings stay public
// while invite-only ones resolve against the caller's enterprise.
func (m *AuthMiddleware) HandleOptional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		claims, ok := m.claims(c)
		if !ok {
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

func (m *AuthMiddleware) claims(c *gin.Context) (*utils.Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		m.handleAuthError(c, "UNAUTHORIZED", "Missing or invalid authorization header")
		return nil, false
	}

	claims, err := utils.ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		m.handleAuthError(c, "INVALID_TOKEN", "Invalid or expired token")
		return nil, false
	}
	return claims, true
}

func (m *AuthMiddleware) handleAuthError(c *gin.Context, code, message string) {
	if !m.rateLimiter.Allow(c.ClientIP()) {
		utils.Error(c, 429, "RATE_LIMITED", "Too many invalid authentication attempts")
		c.Abort()
		return
	}
	utils.Error(c, 401, code, message)
	c.Abort()
}

func setIdentity(c *gin.Context, claims *utils.Claims) {
	c.Set("user_id", claims.UserID)
	c.Set("email", claims.Email)
	if claims.EnterpriseID != nil {
		c.Set("enterprise_id", *claims.EnterpriseID)
	}
}

// UserID returns the authenticated user's ID, or 0 when anonymous.
func UserID(c *gin.Context) int64 {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// EnterpriseID returns the caller's enterprise, or nil when the user has none
// or the request is anonymous.
func EnterpriseID(c *gin.Context) *int64 {
	if v, ok := c.Get("enterprise_id"); ok {
		if id, ok := v.(int64); ok {
			return &id
		}
	}
	return nil
}
