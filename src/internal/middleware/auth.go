package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Role constants. The issuing service resolves a caller to exactly one
// role at authentication time; handlers never probe role tables again.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

const identityKey = "identity"

// Identity is the verified caller, produced by the external identity
// collaborator and trusted as-is by this service.
type Identity struct {
	UserID string
	Role   string
}

// Claims represents JWT token claims
type Claims struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

// AuthMiddleware handles authentication and authorization
type AuthMiddleware struct {
	jwtSecret string
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// RequireAuth validates the JWT and installs the resolved Identity in
// the request context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is required",
			})
			c.Abort()
			return
		}

		claims, err := m.validateJWTToken(token)
		if err != nil {
			logrus.WithError(err).Warn("JWT token validation failed")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(identityKey, Identity{UserID: claims.UserID, Role: claims.Role})

		logrus.WithFields(logrus.Fields{
			"user_id": claims.UserID,
			"role":    claims.Role,
		}).Debug("User authenticated")

		c.Next()
	}
}

// RequireRole aborts with 403 unless the caller's resolved role is one
// of the given roles. Admins pass every check.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			logrus.Error("Identity not found in context - ensure RequireAuth middleware runs first")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			c.Abort()
			return
		}

		if identity.Role == RoleAdmin {
			c.Next()
			return
		}

		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}

		logrus.WithFields(logrus.Fields{
			"user_id": identity.UserID,
			"role":    identity.Role,
		}).Warn("Access denied: insufficient role")

		c.JSON(http.StatusForbidden, gin.H{
			"error": "Access forbidden - insufficient privileges",
		})
		c.Abort()
	}
}

// IdentityFrom returns the verified caller identity set by RequireAuth.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(identityKey)
	if !exists {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}

// extractToken extracts the JWT from the Authorization header
func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}

	return strings.TrimPrefix(authHeader, "Bearer ")
}

// validateJWTToken parses and validates the JWT (signature, expiration,
// token type and a known role).
func (m *AuthMiddleware) validateJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(m.jwtSecret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("token expired")
		}
		return nil, errors.New("invalid token")
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	if claims.TokenType != "access" {
		return nil, errors.New("invalid token type")
	}

	switch claims.Role {
	case RoleAdmin, RoleTeacher, RoleStudent:
	default:
		return nil, errors.New("unknown role")
	}

	return claims, nil
}
