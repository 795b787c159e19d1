package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/response"
)

const (
	RoleStudent  = "student"
	RoleEducator = "educator"
	RoleAdmin    = "admin"

	keyRole = "role"
)

// Claims are issued by the external identity provider. Subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates an HS256 bearer token and stores the subject and
// role on the request. Rejections use the API envelope with code 40100.
func AuthMiddleware(secret string, base *zap.SugaredLogger) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeUnauthorized, "missing bearer token"))
			return
		}

		var claims Claims
		token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
			}
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.Subject == "" {
			logctx.FromGin(c, base).Infow("auth_rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeUnauthorized, "invalid token"))
			return
		}

		c.Set(logctx.KeyUserID, claims.Subject)
		c.Set(keyRole, claims.Role)
		c.Request = c.Request.WithContext(logctx.WithUserID(c.Request.Context(), claims.Subject))
		setLogger(c, logctx.FromGin(c, base).With("user_id", claims.Subject))
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(keyRole)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeForbidden, "role "+strings.Join(roles, "|")+" required"))
	}
}

// UserID returns the authenticated subject.
func UserID(c *gin.Context) string {
	return c.GetString(logctx.KeyUserID)
}
