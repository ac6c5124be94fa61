package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
)

const (
	// ContextKeyUserID holds the authenticated buyer or staff id
	ContextKeyUserID = "user_id"
	// ContextKeyRole holds the caller role claim
	ContextKeyRole = "role"
	// UserIDHeader is honoured only when AuthConfig.AllowUserHeader is set
	UserIDHeader = "X-User-ID"

	RoleAdmin = "admin"
	RoleStaff = "staff"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// AuthConfig configures bearer token validation
type AuthConfig struct {
	Secret          string
	Issuer          string
	AllowUserHeader bool
}

// Claims is the token payload this service accepts
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Auth validates an HS256 bearer token and stores the subject as user_id
func Auth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AllowUserHeader {
			if userID := c.GetHeader(UserIDHeader); userID != "" {
				c.Set(ContextKeyUserID, userID)
				c.Set(ContextKeyRole, c.GetHeader("X-User-Role"))
				c.Next()
				return
			}
		}

		claims, err := parseBearer(c.GetHeader("Authorization"), cfg)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}

		c.Set(ContextKeyUserID, claims.Subject)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole only lets callers holding one of roles through
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextKeyRole)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Abort(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
	}
}

// GetUserID returns the authenticated user id
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}

func parseBearer(header string, cfg AuthConfig) (*Claims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignToken issues a token for subject; used by tooling and tests
func SignToken(cfg AuthConfig, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
