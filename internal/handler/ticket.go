package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/service"
)

type TicketHandler struct {
	tickets *service.TicketService
	stats   *service.StatsService
	errors  *Errors
}

func NewTicketHandler(tickets *service.TicketService, stats *service.StatsService, errors *Errors) *TicketHandler {
	return &TicketHandler{tickets: tickets, stats: stats, errors: errors}
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req service.CreateTicketInput
	if err := bindJSON(c, &req); err != nil {
		h.errors.Write(c, err)
		return
	}
	t, err := h.tickets.Create(c.Request.Context(), actor(c), req)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ticket": t})
}

func (h *TicketHandler) List(c *gin.Context) {
	filter := service.ListFilter{
		Status:     c.Query("status"),
		Priority:   c.Query("priority"),
		Department: c.Query("department"),
		AssignedTo: c.Query("assigned_to"),
		Search:     c.Query("search"),
	}
	var err error
	if filter.Page, err = queryInt(c, "page"); err != nil {
		h.errors.Write(c, err)
		return
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		h.errors.Write(c, err)
		return
	}
	page, err := h.tickets.List(c.Request.Context(), actor(c), filter)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *TicketHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context(), actor(c))
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, err := paramID(c, "id", errs.ErrTicketNotFound)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	t, err := h.tickets.GetWithMessages(c.Request.Context(), actor(c), id)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

// Update принимает частичный объект: присутствие ключа важно (assignee_id: null снимает исполнителя),
// поэтому тело разбирается в map, а не в структуру.
// Отсутствующий или недоступный тикет (404/403) проверяется раньше разбора тела.
func (h *TicketHandler) Update(c *gin.Context) {
	id, err := paramID(c, "id", errs.ErrTicketNotFound)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	if _, err := h.tickets.Get(c.Request.Context(), actor(c), id); err != nil {
		h.errors.Write(c, err)
		return
	}
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		h.errors.Write(c, errs.Validation("invalid request body"))
		return
	}
	patch, err := service.ParseTicketPatch(raw)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	t, err := h.tickets.Update(c.Request.Context(), actor(c), id, patch)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t})
}

func (h *TicketHandler) Delete(c *gin.Context) {
	id, err := paramID(c, "id", errs.ErrTicketNotFound)
	if err != nil {
		h.errors.Write(c, err)
		return
	}
	if err := h.tickets.Delete(c.Request.Context(), actor(c), id); err != nil {
		h.errors.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ticket deleted"})
}
