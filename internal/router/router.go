package router

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/psds-microservice/helpdesk-service/api"
	"github.com/psds-microservice/helpdesk-service/internal/handler"
	"github.com/psds-microservice/helpdesk-service/internal/middleware"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

// Deps — всё, что нужно HTTP-слою; собирается в application.
type Deps struct {
	Health  *handler.HealthHandler
	Auth    *handler.AuthHandler
	Tickets *handler.TicketHandler
	Chat    *handler.ChatHandler
	Errors  *handler.Errors
	// Tokens — проверка bearer-токена для /api/v1 (service.AuthService).
	Tokens middleware.TokenAuthenticator
	// Realtime — WebSocket endpoint (realtime.Server).
	Realtime http.Handler
	Log      *slog.Logger
}

func New(d Deps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics(), middleware.RequestLogger(d.Log))

	r.GET(paths.PathHealth, d.Health.Health)
	r.GET(paths.PathReady, d.Health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", gin.WrapH(d.Realtime))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	writeError := d.Errors.Write
	v1 := r.Group("/api/v1")
	{
		v1.POST("/auth/register", d.Auth.Register)
		v1.POST("/auth/login", d.Auth.Login)
	}

	private := v1.Group("", middleware.Auth(d.Tokens, writeError))
	{
		private.GET("/auth/me", d.Auth.Me)
		private.PUT("/auth/telegram", d.Auth.LinkTelegram)

		staff := middleware.RequireRoles(writeError, model.RoleTechnician, model.RoleAdmin)
		private.GET("/users", staff, d.Auth.ListUsers)
		private.PATCH("/users/:id", middleware.RequireRoles(writeError, model.RoleAdmin), d.Auth.UpdateUser)

		private.POST("/tickets", d.Tickets.Create)
		private.GET("/tickets", d.Tickets.List)
		private.GET("/tickets/stats", d.Tickets.Stats)
		private.GET("/tickets/:id", d.Tickets.Get)
		private.PUT("/tickets/:id", d.Tickets.Update)
		private.DELETE("/tickets/:id", d.Tickets.Delete)

		private.GET("/chat/ticket/:ticketId", d.Chat.List)
		private.POST("/chat/message", d.Chat.Post)
		private.PUT("/chat/message/:id", d.Chat.Edit)
		private.DELETE("/chat/message/:id", d.Chat.Delete)
	}

	return r
}
