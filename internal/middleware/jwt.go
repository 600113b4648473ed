package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTTL    = 7 * 24 * time.Hour
	renewBefore = 24 * time.Hour
)

// IssueToken signs an operator token for subject.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = tokenTTL
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(secret)
}

// JWTAuth guards the ops API. An empty secret rejects every request.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if len(secret) == 0 || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(auth[7:], &claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("operator", claims.Subject)

		// renew tokens that expire within a day
		if claims.ExpiresAt != nil && time.Until(claims.ExpiresAt.Time) < renewBefore {
			if fresh, err := IssueToken(secret, claims.Subject, tokenTTL); err == nil {
				c.Header("X-New-Token", fresh)
			}
		}
		c.Next()
	}
}
