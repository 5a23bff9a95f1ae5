package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/service"
)

type AuthHandler struct {
	auth   *service.AuthService
	errors *Errors
}

func NewAuthHandler(auth *service.AuthService, errors *Errors) *AuthHandler {
	return &AuthHandler{auth: auth, errors: errors}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := bindJSON(c, &req); err != nil {
		h.errors.Write(c, err)
		return
	}
	session, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginInput
	if err := bindJSON(c, &req); err != nil {
		h.errors.Write(c, err)
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": actor(c)})
}

type linkTelegramRequest struct {
	TelegramID int64 `json:"telegram_id"`
}

// LinkTelegram привязывает chat id, который бот показывает пользователю.
func (h *AuthHandler) LinkTelegram(c *gin.Context) {
	var req linkTelegramRequest
	if err := bindJSON(c, &req); err != nil {
		h.errors.Write(c, err)
		return
	}
	u, err := h.auth.LinkTelegram(c.Request.Context(), actor(c), req.TelegramID)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *AuthHandler) ListUsers(c *gin.Context) {
	users, err := h.auth.ListUsers(c.Request.Context(), actor(c), c.Query("role"))
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *AuthHandler) UpdateUser(c *gin.Context) {
	id, err := paramID(c, "id", errs.ErrUserNotFound)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	var req service.UserPatch
	if err := bindJSON(c, &req); err != nil {
		h.errors.Write(c, err)
		return
	}
	u, err := h.auth.UpdateUser(c.Request.Context(), actor(c), id, req)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
