package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/service"
)

type ChatHandler struct {
	chat   *service.ChatService
	errors *Errors
}

func NewChatHandler(chat *service.ChatService, errors *Errors) *ChatHandler {
	return &ChatHandler{chat: chat, errors: errors}
}

func (h *ChatHandler) List(c *gin.Context) {
	ticketID, err := paramID(c, "ticketId", errs.ErrTicketNotFound)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	msgs, err := h.chat.List(c.Request.Context(), actor(c), ticketID)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *ChatHandler) Post(c *gin.Context) {
	var req service.PostMessageInput
	if err := bindJSON(c, &req); err != nil {
		h.errors.Write(c, err)
		return
	}
	msg, err := h.chat.Post(c.Request.Context(), actor(c), req)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

type editMessageRequest struct {
	Message string `json:"message"`
}

func (h *ChatHandler) Edit(c *gin.Context) {
	id, err := paramID(c, "id", errs.ErrMessageNotFound)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	var req editMessageRequest
	if err := bindJSON(c, &req); err != nil {
		h.errors.Write(c, err)
		return
	}
	msg, err := h.chat.Edit(c.Request.Context(), actor(c), id, req.Message)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *ChatHandler) Delete(c *gin.Context) {
	id, err := paramID(c, "id", errs.ErrMessageNotFound)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	if err := h.chat.Delete(c.Request.Context(), actor(c), id); err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}
