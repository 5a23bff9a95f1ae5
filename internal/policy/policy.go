// Package policy — правила доступа к тикетам и сообщениям.
// Все функции чистые и тотальные: на любой вход возвращают решение, без ошибок и побочных эффектов.
package policy

import "github.com/psds-microservice/helpdesk-service/internal/model"

// Actor — кто выполняет действие.
type Actor struct {
	ID   uint64
	Role model.Role
}

func ActorOf(u *model.User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.ID, Role: u.Role}
}

// Поля тикета, которые может менять только technician/admin.
const (
	FieldStatus     = "status"
	FieldAssigneeID = "assignee_id"
)

func CanViewTicket(a Actor, t *model.Ticket) bool {
	if t == nil {
		return false
	}
	switch a.Role {
	case model.RoleAdmin:
		return true
	case model.RoleTechnician:
		return t.AssigneeID == nil || *t.AssigneeID == a.ID
	case model.RoleRequester:
		return t.RequesterID == a.ID || t.IsAssignedTo(a.ID)
	}
	return false
}

// CanEditTicket проверяет право менять перечисленные поля (json-имена).
func CanEditTicket(a Actor, t *model.Ticket, fields []string) bool {
	if t == nil {
		return false
	}
	switch a.Role {
	case model.RoleAdmin, model.RoleTechnician:
		return true
	case model.RoleRequester:
		if t.RequesterID != a.ID {
			return false
		}
		for _, f := range fields {
			if f == FieldStatus || f == FieldAssigneeID {
				return false
			}
		}
		return true
	}
	return false
}

func CanDeleteTicket(a Actor) bool {
	return a.Role == model.RoleAdmin
}

func CanViewMessage(a Actor, t *model.Ticket, m *model.ChatMessage) bool {
	if m == nil {
		return false
	}
	if m.IsInternal {
		return a.Role.IsStaff()
	}
	return CanViewTicket(a, t)
}

// CanPostMessage возвращает разрешение и итоговый флаг is_internal:
// сообщение requester-а всегда публичное.
func CanPostMessage(a Actor, t *model.Ticket, requestedInternal bool) (allowed, effectiveInternal bool) {
	if t == nil {
		return false, false
	}
	switch a.Role {
	case model.RoleAdmin, model.RoleTechnician:
		return true, requestedInternal
	case model.RoleRequester:
		return t.RequesterID == a.ID || t.IsAssignedTo(a.ID), false
	}
	return false, false
}

func CanEditOrDeleteMessage(a Actor, m *model.ChatMessage, t *model.Ticket) bool {
	if m == nil {
		return false
	}
	if m.AuthorID == a.ID || a.Role == model.RoleAdmin {
		return true
	}
	return a.Role == model.RoleTechnician && t != nil && t.IsAssignedTo(a.ID)
}

// ScopeKind — сужение выборки тикетов по роли.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeOwn
	ScopeAssignedOrUnassigned
	ScopeAll
)

// TicketScope применяется до пользовательских фильтров (list, stats).
type TicketScope struct {
	Kind   ScopeKind
	UserID uint64
}

func Scope(a Actor) TicketScope {
	switch a.Role {
	case model.RoleAdmin:
		return TicketScope{Kind: ScopeAll}
	case model.RoleTechnician:
		return TicketScope{Kind: ScopeAssignedOrUnassigned, UserID: a.ID}
	case model.RoleRequester:
		return TicketScope{Kind: ScopeOwn, UserID: a.ID}
	}
	return TicketScope{Kind: ScopeNone}
}
