package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	apiKeyHeader   = "X-API-KEY"
	subjectContext = "Subject"
	tokenSubject   = "operator"
)

// Claims are the JWT claims issued by /api/auth/token.
type Claims struct {
	jwt.RegisteredClaims
}

func generateToken(secret string, expiresAt time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tokenSubject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Subject, nil
	}
	return "", errors.New("invalid token claims")
}

func (s *Server) validKey(key string) bool {
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.auth.AccessKey)) == 1
}

// requireAuth accepts the access key header or a Bearer JWT. With
// allowQuery the token may also come from ?token=, which browsers need for
// WebSocket upgrades. An empty access key disables the check.
func (s *Server) requireAuth(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth.AccessKey == "" {
			c.Next()
			return
		}
		if s.validKey(c.GetHeader(apiKeyHeader)) {
			c.Set(subjectContext, "api-key")
			c.Next()
			return
		}

		var token string
		if h := c.GetHeader("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":  "INVALID_AUTH_HEADER",
					"error": "invalid Authorization header",
				})
				return
			}
			token = parts[1]
		} else if allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing access key or token",
			})
			return
		}

		sub, err := parseToken(token, s.auth.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}
		c.Set(subjectContext, sub)
		c.Next()
	}
}

// issueToken exchanges the access key for a JWT.
func (s *Server) issueToken(c *gin.Context) {
	var req struct {
		AccessKey string `json:"access_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if s.auth.AccessKey == "" || !s.validKey(req.AccessKey) {
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid access key")
		return
	}

	expiresAt := time.Now().Add(s.auth.TokenTTL)
	token, err := generateToken(s.auth.JWTSecret, expiresAt)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
