package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type AuthMiddleware struct {
	jwt auth.JWTService
}

func NewAuthMiddleware(jwt auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the bearer token and stores the caller as the
// request actor.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.RespondError(c, apperrors.Unauthorized(nil))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			handler.RespondError(c, apperrors.Unauthorized(nil))
			return
		}

		actor, err := m.jwt.Verify(parts[1])
		if err != nil {
			handler.RespondError(c, err)
			return
		}

		c.Set(handler.ContextActor, actor)
		c.Next()
	}
}

// RequireRole lets admins and the listed roles through.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := handler.Actor(c)
		if !ok {
			handler.RespondError(c, apperrors.Unauthorized(nil))
			return
		}
		if actor.IsAdmin() {
			c.Next()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		handler.RespondError(c, apperrors.Forbidden("permission denied"))
	}
}
