package handler

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/middleware"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

type errorBody struct {
	Code    errs.Kind `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Errors пишет ошибки в формате {"error": {"code", "message", "detail"?}}.
// detail (исходная причина) отдаётся только вне production.
type Errors struct {
	withDetail bool
	log        *slog.Logger
}

func NewErrors(production bool, log *slog.Logger) *Errors {
	return &Errors{withDetail: !production, log: log.With("component", "http")}
}

func (e *Errors) Write(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	body := errorBody{Code: kind, Message: errs.PublicMessage(err)}
	if kind == errs.KindDependency {
		e.log.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		if e.withDetail {
			body.Detail = err.Error()
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func actor(c *gin.Context) *model.User {
	return middleware.Actor(c)
}

// paramID разбирает id из пути; нечисловой или нулевой id означает отсутствующую сущность (notFound).
func paramID(c *gin.Context, name string, notFound error) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, notFound
	}
	return id, nil
}

// bindJSON разбирает тело; синтаксическая ошибка или неверный тип поля — validation_failed.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return errs.Validation("invalid request body")
	}
	return nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errs.Validation("invalid %s", key)
	}
	return n, nil
}
