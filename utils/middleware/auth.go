package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/mediavault-api/utils/auth"
	"github.com/sahilchouksey/mediavault-api/utils/response"
)

const (
	// ContextKeyClaims is the fiber locals key holding the verified claims
	ContextKeyClaims = "auth_claims"
)

// AuthMiddleware verifies bearer tokens issued by the identity service
type AuthMiddleware struct {
	jwtManager *auth.JWTManager
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *auth.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// Required rejects requests without a valid bearer token
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return response.Unauthorized(c, "Authentication token required")
		}

		claims, err := m.jwtManager.VerifyToken(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals(ContextKeyClaims, claims)
		return c.Next()
	}
}

// RequireAdmin rejects requests whose token does not carry the admin role
func (m *AuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return response.Unauthorized(c, "Authentication token required")
		}

		claims, err := m.jwtManager.VerifyToken(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		if claims.Role != "admin" {
			return response.Forbidden(c, "Admin access required")
		}

		c.Locals(ContextKeyClaims, claims)
		return c.Next()
	}
}

// GetClaims returns the verified claims stored by Required()
func GetClaims(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(ContextKeyClaims).(*auth.Claims)
	return claims, ok
}

// UserID returns the authenticated user's id, zero if unauthenticated
func UserID(c *fiber.Ctx) uint {
	claims, ok := GetClaims(c)
	if !ok {
		return 0
	}
	return claims.UserID
}

// extractBearerToken pulls the token from the Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
