// Package middleware — gin middleware: аутентификация, роли, логирование запросов, метрики.
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

const actorKey = "helpdesk.actor"

// TokenAuthenticator — проверка bearer-токена (service.AuthService).
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// ErrorWriter пишет ошибку в ответ в общем формате API (handler.WriteError).
type ErrorWriter func(c *gin.Context, err error)

// Auth резолвит актора один раз на запрос. Неактивный пользователь получает 403 account_disabled.
func Auth(auth TokenAuthenticator, writeError ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			writeError(c, errs.ErrUnauthorized)
			c.Abort()
			return
		}
		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(actorKey, user)
		c.Next()
	}
}

// RequireRoles пропускает только перечисленные роли. Ставится после Auth.
func RequireRoles(writeError ErrorWriter, roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor(c)
		if actor == nil {
			writeError(c, errs.ErrUnauthorized)
			c.Abort()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		writeError(c, errs.ErrForbidden)
		c.Abort()
	}
}

// Actor — пользователь, установленный Auth; nil на публичных маршрутах.
func Actor(c *gin.Context) *model.User {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
