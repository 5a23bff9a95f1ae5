package model

import "time"

type Role string

const (
	RoleRequester  Role = "usuario"
	RoleTechnician Role = "tecnico"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleTechnician, RoleAdmin:
		return true
	}
	return false
}

// IsStaff — technician или admin.
func (r Role) IsStaff() bool {
	return r == RoleTechnician || r == RoleAdmin
}

type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "Nuevo"
	TicketStatusInProgress TicketStatus = "En Progreso"
	TicketStatusResolved   TicketStatus = "Resuelto"
	TicketStatusClosed     TicketStatus = "Cerrado"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusNew, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// IsClosed — Resuelto или Cerrado: переход в эти статусы фиксирует closed_at.
func (s TicketStatus) IsClosed() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

type Priority string

const (
	PriorityLow    Priority = "Baja"
	PriorityMedium Priority = "Media"
	PriorityHigh   Priority = "Alta"
	PriorityUrgent Priority = "Urgente"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Department string

const (
	DepartmentIT         Department = "IT"
	DepartmentHR         Department = "RRHH"
	DepartmentFinance    Department = "Finanzas"
	DepartmentOperations Department = "Operaciones"
)

func (d Department) Valid() bool {
	switch d {
	case DepartmentIT, DepartmentHR, DepartmentFinance, DepartmentOperations:
		return true
	}
	return false
}

var (
	Statuses    = []TicketStatus{TicketStatusNew, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed}
	Priorities  = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
	Departments = []Department{DepartmentIT, DepartmentHR, DepartmentFinance, DepartmentOperations}
)

type User struct {
	ID           uint64     `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"`
	Role         Role       `gorm:"type:varchar(16);index;not null" json:"role"`
	IsActive     bool       `gorm:"not null" json:"is_active"`
	TelegramID   *int64     `gorm:"index" json:"telegram_id,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary — публичная проекция пользователя для вложения в тикеты и сообщения.
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Username: u.Username, Role: u.Role}
}

// UserSummary читается из той же таблицы users, но без email и пароля.
type UserSummary struct {
	ID       uint64 `gorm:"primaryKey" json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (UserSummary) TableName() string { return "users" }

type Ticket struct {
	ID            uint64       `gorm:"primaryKey" json:"id"`
	Name          string       `gorm:"type:varchar(100);not null" json:"name"`
	Floor         int          `gorm:"not null" json:"floor"`
	Office        string       `gorm:"type:varchar(50);not null" json:"office"`
	Department    Department   `gorm:"type:varchar(32);index;not null" json:"department"`
	Description   string       `gorm:"type:text;not null" json:"description"`
	Priority      Priority     `gorm:"type:varchar(16);index;not null" json:"priority"`
	Status        TicketStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	InternalNotes string       `gorm:"type:text" json:"internal_notes,omitempty"`
	RequesterID   uint64       `gorm:"index;not null" json:"requester_id"`
	AssigneeID    *uint64      `gorm:"index" json:"assignee_id"`

	Requester *UserSummary `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Assignee  *UserSummary `gorm:"foreignKey:AssigneeID" json:"assignee"`

	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

// IsAssignedTo — назначен ли тикет пользователю userID.
func (t *Ticket) IsAssignedTo(userID uint64) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

type ChatMessage struct {
	ID         uint64 `gorm:"primaryKey" json:"id"`
	TicketID   uint64 `gorm:"index;not null" json:"ticket_id"`
	AuthorID   uint64 `gorm:"index;not null" json:"author_id"`
	Body       string `gorm:"column:message;type:text;not null" json:"message"`
	IsInternal bool   `gorm:"not null" json:"is_internal"`

	Author *UserSummary `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
