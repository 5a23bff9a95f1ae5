package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/policy"
	"github.com/psds-microservice/helpdesk-service/internal/realtime"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// AssignedToUnassigned — значение фильтра assigned_to для тикетов без исполнителя.
	AssignedToUnassigned = "unassigned"
)

// Broadcaster — доставка событий подключённым клиентам (realtime.Hub).
type Broadcaster interface {
	Broadcast(event string, data interface{})
	BroadcastTicket(ticketID uint64, event string, data interface{}, staffOnly bool)
	SendToUser(userID uint64, event string, data interface{})
}

// Outbound — внешние уведомления (Telegram, Kafka). Реализация не должна блокировать вызывающего.
type Outbound interface {
	TicketCreated(t *model.Ticket)
	TicketUpdated(t *model.Ticket)
	TicketAssigned(t *model.Ticket, assigneeID uint64)
	TicketDeleted(id uint64)
}

type CreateTicketInput struct {
	Name        string           `json:"name"`
	Floor       int              `json:"floor"`
	Office      string           `json:"office"`
	Department  model.Department `json:"department"`
	Description string           `json:"description"`
	Priority    model.Priority   `json:"priority,omitempty"`
}

func (in CreateTicketInput) validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if in.Floor < 1 {
		return errs.Validation("floor must be at least 1")
	}
	if err := validateOffice(in.Office); err != nil {
		return err
	}
	if !in.Department.Valid() {
		return errs.Validation("invalid department %q", in.Department)
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return errs.Validation("invalid priority %q", in.Priority)
	}
	return nil
}

// ListFilter — пользовательские фильтры GET /tickets. Page/Limit = 0 означают значения по умолчанию.
type ListFilter struct {
	Status     string
	Priority   string
	Department string
	AssignedTo string
	Search     string
	Page       int
	Limit      int
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type TicketPage struct {
	Items      []model.Ticket `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// TicketDetail — тикет вместе с видимыми актору сообщениями (GET /tickets/:id).
type TicketDetail struct {
	*model.Ticket
	Messages []model.ChatMessage `json:"messages"`
}

// TicketPatch — частичное обновление. nil-поле не меняется; AssigneeSet с AssigneeID == nil снимает исполнителя.
type TicketPatch struct {
	Name          *string
	Floor         *int
	Office        *string
	Department    *model.Department
	Description   *string
	Priority      *model.Priority
	Status        *model.TicketStatus
	InternalNotes *string
	AssigneeSet   bool
	AssigneeID    *uint64

	fields []string
}

// Fields — json-имена ключей патча, отсортированы.
func (p TicketPatch) Fields() []string { return p.fields }

// ParseTicketPatch разбирает тело PUT /tickets/:id. Неизвестный ключ, пустой патч или неверное значение — ошибка валидации.
func ParseTicketPatch(raw map[string]json.RawMessage) (TicketPatch, error) {
	var p TicketPatch
	if len(raw) == 0 {
		return p, errs.Validation("no fields to update")
	}
	for key, value := range raw {
		var err error
		switch key {
		case "name":
			p.Name, err = decodeRequired[string](key, value)
		case "floor":
			p.Floor, err = decodeRequired[int](key, value)
		case "office":
			p.Office, err = decodeRequired[string](key, value)
		case "department":
			p.Department, err = decodeRequired[model.Department](key, value)
		case "description":
			p.Description, err = decodeRequired[string](key, value)
		case "priority":
			p.Priority, err = decodeRequired[model.Priority](key, value)
		case "status":
			p.Status, err = decodeRequired[model.TicketStatus](key, value)
		case "internal_notes":
			notes := ""
			if !isNull(value) {
				err = json.Unmarshal(value, &notes)
			}
			p.InternalNotes = &notes
		case policy.FieldAssigneeID:
			p.AssigneeSet = true
			if !isNull(value) {
				var id uint64
				if err = json.Unmarshal(value, &id); err == nil && id == 0 {
					err = fmt.Errorf("zero id")
				}
				p.AssigneeID = &id
			}
		default:
			return TicketPatch{}, errs.Validation("unknown field %q", key)
		}
		if err != nil {
			return TicketPatch{}, errs.Validation("invalid value for %s", key)
		}
		p.fields = append(p.fields, key)
	}
	sort.Strings(p.fields)
	if err := p.validate(); err != nil {
		return TicketPatch{}, err
	}
	return p, nil
}

func (p TicketPatch) validate() error {
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Floor != nil && *p.Floor < 1 {
		return errs.Validation("floor must be at least 1")
	}
	if p.Office != nil {
		if err := validateOffice(*p.Office); err != nil {
			return err
		}
	}
	if p.Department != nil && !p.Department.Valid() {
		return errs.Validation("invalid department %q", *p.Department)
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return errs.Validation("invalid priority %q", *p.Priority)
	}
	if p.Status != nil && !p.Status.Valid() {
		return errs.Validation("invalid status %q", *p.Status)
	}
	return nil
}

func decodeRequired[T any](key string, value json.RawMessage) (*T, error) {
	if isNull(value) {
		return nil, fmt.Errorf("%s must not be null", key)
	}
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

type TicketService struct {
	tickets *store.TicketStore
	chats   *store.ChatStore
	users   *store.UserStore
	hub     Broadcaster
	out     Outbound
	log     *slog.Logger
	now     func() time.Time
}

func NewTicketService(tickets *store.TicketStore, chats *store.ChatStore, users *store.UserStore, hub Broadcaster, out Outbound, log *slog.Logger) *TicketService {
	return &TicketService{
		tickets: tickets,
		chats:   chats,
		users:   users,
		hub:     hub,
		out:     out,
		log:     log.With("component", "ticket_service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *TicketService) Create(ctx context.Context, actor *model.User, in CreateTicketInput) (*model.Ticket, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	t := &model.Ticket{
		Name:        in.Name,
		Floor:       in.Floor,
		Office:      in.Office,
		Department:  in.Department,
		Description: in.Description,
		Priority:    priority,
		Status:      model.TicketStatusNew,
		RequesterID: actor.ID,
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, err
	}
	created, err := s.tickets.GetByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket created", "ticket_id", created.ID, "requester_id", actor.ID)
	s.hub.Broadcast(realtime.EventTicketCreated, created)
	s.out.TicketCreated(created)
	return created, nil
}

func (s *TicketService) Get(ctx context.Context, actor *model.User, id uint64) (*model.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanViewTicket(policy.ActorOf(actor), t) {
		return nil, errs.ErrForbidden
	}
	return t, nil
}

func (s *TicketService) GetWithMessages(ctx context.Context, actor *model.User, id uint64) (*TicketDetail, error) {
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.chats.ListByTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: t, Messages: visibleMessages(policy.ActorOf(actor), t, msgs)}, nil
}

// CanJoin проверяет право подписаться на комнату тикета (join_ticket).
func (s *TicketService) CanJoin(ctx context.Context, actor *model.User, ticketID uint64) error {
	_, err := s.Get(ctx, actor, ticketID)
	return err
}

func (s *TicketService) List(ctx context.Context, actor *model.User, f ListFilter) (*TicketPage, error) {
	q := store.TicketQuery{
		Scope:  policy.Scope(policy.ActorOf(actor)),
		Search: strings.TrimSpace(f.Search),
	}
	if f.Status != "" {
		if !model.TicketStatus(f.Status).Valid() {
			return nil, errs.Validation("invalid status %q", f.Status)
		}
		q.Status = model.TicketStatus(f.Status)
	}
	if f.Priority != "" {
		if !model.Priority(f.Priority).Valid() {
			return nil, errs.Validation("invalid priority %q", f.Priority)
		}
		q.Priority = model.Priority(f.Priority)
	}
	if f.Department != "" {
		if !model.Department(f.Department).Valid() {
			return nil, errs.Validation("invalid department %q", f.Department)
		}
		q.Department = model.Department(f.Department)
	}
	switch f.AssignedTo {
	case "":
	case AssignedToUnassigned:
		q.Unassigned = true
	default:
		id, err := strconv.ParseUint(f.AssignedTo, 10, 64)
		if err != nil || id == 0 {
			return nil, errs.Validation("invalid assigned_to %q", f.AssignedTo)
		}
		q.AssigneeID = &id
	}

	limit := f.Limit
	switch {
	case limit < 0:
		return nil, errs.Validation("limit must be positive")
	case limit == 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	page := f.Page
	switch {
	case page < 0:
		return nil, errs.Validation("page must be at least 1")
	case page == 0:
		page = 1
	}
	q.Limit = limit
	q.Offset = (page - 1) * limit

	items, total, err := s.tickets.List(ctx, q)
	if err != nil {
		return nil, err
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	if page > 1 && page > totalPages {
		return nil, errs.Validation("page %d is out of range (total pages %d)", page, totalPages)
	}
	return &TicketPage{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

func (s *TicketService) Update(ctx context.Context, actor *model.User, id uint64, patch TicketPatch) (*model.Ticket, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if len(patch.Fields()) == 0 {
		return nil, errs.Validation("no fields to update")
	}
	current, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a := policy.ActorOf(actor)
	if !policy.CanViewTicket(a, current) || !policy.CanEditTicket(a, current, patch.Fields()) {
		return nil, errs.ErrForbidden
	}
	if patch.AssigneeID != nil {
		ok, err := s.users.Exists(ctx, *patch.AssigneeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.Validation("assignee %d does not exist", *patch.AssigneeID)
		}
	}

	var previousAssignee *uint64
	updated, err := s.tickets.Update(ctx, id, func(t *model.Ticket) error {
		// Права перепроверяются на заблокированной строке: исполнитель мог смениться после первого чтения.
		if !policy.CanViewTicket(a, t) || !policy.CanEditTicket(a, t, patch.Fields()) {
			return errs.ErrForbidden
		}
		previousAssignee = t.AssigneeID
		s.apply(t, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ticket updated", "ticket_id", id, "actor_id", actor.ID, "fields", patch.Fields())
	s.hub.Broadcast(realtime.EventTicketUpdated, updated)
	s.out.TicketUpdated(updated)

	if updated.AssigneeID != nil && !sameID(previousAssignee, updated.AssigneeID) {
		assignee := *updated.AssigneeID
		s.hub.SendToUser(assignee, realtime.EventTicketAssigned, AssignmentNotice{
			Ticket:     updated,
			Message:    fmt.Sprintf("Se te ha asignado el ticket #%d", updated.ID),
			AssignedBy: actor.Summary(),
		})
		s.out.TicketAssigned(updated, assignee)
	}
	return updated, nil
}

// AssignmentNotice — данные события ticket:assigned.
type AssignmentNotice struct {
	Ticket     *model.Ticket      `json:"ticket"`
	Message    string             `json:"message"`
	AssignedBy *model.UserSummary `json:"assigned_by"`
}

// apply переносит патч на свежую строку. closed_at ставится один раз, при первом входе в Resuelto/Cerrado.
func (s *TicketService) apply(t *model.Ticket, p TicketPatch) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Floor != nil {
		t.Floor = *p.Floor
	}
	if p.Office != nil {
		t.Office = *p.Office
	}
	if p.Department != nil {
		t.Department = *p.Department
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.InternalNotes != nil {
		t.InternalNotes = *p.InternalNotes
	}
	if p.AssigneeSet {
		t.AssigneeID = p.AssigneeID
	}
	if p.Status != nil {
		t.Status = *p.Status
		if t.Status.IsClosed() && t.ClosedAt == nil {
			now := s.now()
			t.ClosedAt = &now
		}
	}
}

func (s *TicketService) Delete(ctx context.Context, actor *model.User, id uint64) error {
	if err := requireActive(actor); err != nil {
		return err
	}
	if _, err := s.tickets.GetByID(ctx, id); err != nil {
		return err
	}
	if !policy.CanDeleteTicket(policy.ActorOf(actor)) {
		return errs.ErrForbidden
	}
	if err := s.tickets.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("ticket deleted", "ticket_id", id, "actor_id", actor.ID)
	s.hub.Broadcast(realtime.EventTicketDeleted, map[string]uint64{"id": id})
	s.out.TicketDeleted(id)
	return nil
}

func requireActive(actor *model.User) error {
	if actor == nil {
		return errs.ErrUnauthorized
	}
	if !actor.IsActive {
		return errs.ErrAccountDisabled
	}
	return nil
}

func sameID(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func visibleMessages(a policy.Actor, t *model.Ticket, msgs []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(msgs))
	for i := range msgs {
		if policy.CanViewMessage(a, t, &msgs[i]) {
			out = append(out, msgs[i])
		}
	}
	return out
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errs.Validation("name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return errs.Validation("name must be at most 100 characters")
	}
	return nil
}

func validateOffice(office string) error {
	if strings.TrimSpace(office) == "" {
		return errs.Validation("office is required")
	}
	if utf8.RuneCountInString(office) > 50 {
		return errs.Validation("office must be at most 50 characters")
	}
	return nil
}

func validateDescription(d string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(d))
	if n < 10 || utf8.RuneCountInString(d) > 2000 {
		return errs.Validation("description must be between 10 and 2000 characters")
	}
	return nil
}
