package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Roles carried in the app_role claim.
const (
	RoleDriver    = "driver"
	RolePassenger = "passenger"
	RoleAdmin     = "admin"
)

// Context keys set by RequireAuth.
const (
	ctxAuthID = "auth_id"
	ctxRole   = "role"
)

// Claims is the token payload issued by the identity provider.
type Claims struct {
	AppRole string `json:"app_role"`
	jwt.RegisteredClaims
}

// Auth validates HS256 bearer tokens signed with a shared secret.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// GenerateToken signs a token for subject. The server never issues tokens to
// end users; this serves the driver agent's local setup and tests.
func (a *Auth) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		AppRole: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses tokenStr and returns its claims. Tokens without a
// subject or signed with anything but HS256 are rejected.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// authenticate parses the bearer token and stores its claims on c. It aborts
// with 401 and returns false when the token is missing or invalid.
func (a *Auth) authenticate(c *gin.Context) bool {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
		return false
	}

	claims, err := a.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return false
	}

	c.Set(ctxAuthID, claims.Subject)
	c.Set(ctxRole, claims.AppRole)
	return true
}

// RequireAuth ensures a valid JWT is present
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		c.Next()
	}
}

// RequireRole ensures the JWT is valid and carries one of roles.
func (a *Auth) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}

		role := Role(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// AuthID is the token subject of the current request.
func AuthID(c *gin.Context) string { return c.GetString(ctxAuthID) }

// Role is the app_role of the current request.
func Role(c *gin.Context) string { return c.GetString(ctxRole) }
