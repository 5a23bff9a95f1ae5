package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/policy"
)

// TicketQuery — выборка тикетов: сначала Scope по роли, затем пользовательские фильтры.
type TicketQuery struct {
	Scope      policy.TicketScope
	Status     model.TicketStatus
	Priority   model.Priority
	Department model.Department
	Unassigned bool
	AssigneeID *uint64
	Search     string
	Limit      int
	Offset     int
}

type TicketStore struct {
	db *gorm.DB
}

func NewTicketStore(db *gorm.DB) *TicketStore {
	return &TicketStore{db: db}
}

func (s *TicketStore) Create(ctx context.Context, t *model.Ticket) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(t).Error; err != nil {
		return errs.Dependency("create ticket", err)
	}
	return nil
}

// GetByID возвращает тикет со сводками requester/assignee.
func (s *TicketStore) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	err := s.db.WithContext(ctx).
		Preload("Requester").
		Preload("Assignee").
		First(&t, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, errs.Dependency("get ticket", err)
	}
	return &t, nil
}

func (s *TicketStore) List(ctx context.Context, q TicketQuery) ([]model.Ticket, int64, error) {
	var total int64
	if err := s.filtered(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, errs.Dependency("count tickets", err)
	}

	items := make([]model.Ticket, 0)
	tx := s.filtered(ctx, q).
		Preload("Requester").
		Preload("Assignee").
		Order("created_at DESC").
		Order("id DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	if err := tx.Find(&items).Error; err != nil {
		return nil, 0, errs.Dependency("list tickets", err)
	}
	return items, total, nil
}

// Update применяет apply к свежей строке под блокировкой FOR UPDATE и сохраняет её в той же транзакции.
// Ошибка из apply откатывает транзакцию и возвращается как есть.
func (s *TicketStore) Update(ctx context.Context, id uint64, apply func(t *model.Ticket) error) (*model.Ticket, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.Ticket
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, id).Error; err != nil {
			return err
		}
		if err := apply(&t); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Save(&t).Error
	})
	if err != nil {
		return nil, mapTicketErr("update ticket", err)
	}
	return s.GetByID(ctx, id)
}

// Delete удаляет тикет вместе с его сообщениями.
func (s *TicketStore) Delete(ctx context.Context, id uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ticket_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Ticket{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return mapTicketErr("delete ticket", err)
	}
	return nil
}

// ListAssignedTo — последние тикеты, назначенные пользователю (команда бота /mistickets).
func (s *TicketStore) ListAssignedTo(ctx context.Context, userID uint64, limit int) ([]model.Ticket, error) {
	var items []model.Ticket
	err := s.db.WithContext(ctx).
		Where("assignee_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, errs.Dependency("list assigned tickets", err)
	}
	return items, nil
}

// CountBy группирует тикеты в рамках scope по колонке (status, priority, department).
func (s *TicketStore) CountBy(ctx context.Context, scope policy.TicketScope, column string) (map[string]int64, error) {
	switch column {
	case "status", "priority", "department":
	default:
		return nil, errs.Validation("unsupported group column %q", column)
	}
	var rows []struct {
		Bucket string
		Count  int64
	}
	err := s.scoped(ctx, scope).
		Select(column + " AS bucket, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, errs.Dependency("count tickets by "+column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Bucket] = r.Count
	}
	return out, nil
}

// ClosedPeriods — пары (created_at, closed_at) закрытых тикетов для среднего времени решения.
func (s *TicketStore) ClosedPeriods(ctx context.Context, scope policy.TicketScope) ([]model.Ticket, error) {
	var items []model.Ticket
	err := s.scoped(ctx, scope).
		Select("id", "created_at", "closed_at").
		Where("closed_at IS NOT NULL").
		Find(&items).Error
	if err != nil {
		return nil, errs.Dependency("list closed tickets", err)
	}
	return items, nil
}

func (s *TicketStore) CreatedSince(ctx context.Context, scope policy.TicketScope, since time.Time) ([]time.Time, error) {
	var out []time.Time
	err := s.scoped(ctx, scope).
		Where("created_at >= ?", since).
		Pluck("created_at", &out).Error
	if err != nil {
		return nil, errs.Dependency("list created tickets", err)
	}
	return out, nil
}

// EachBatch обходит все тикеты пачками по id (republish-events).
func (s *TicketStore) EachBatch(ctx context.Context, size int, fn func(batch []model.Ticket) error) error {
	var batch []model.Ticket
	res := s.db.WithContext(ctx).Order("id ASC").FindInBatches(&batch, size, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	})
	if res.Error != nil {
		return mapTicketErr("iterate tickets", res.Error)
	}
	return nil
}

func (s *TicketStore) scoped(ctx context.Context, scope policy.TicketScope) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	switch scope.Kind {
	case policy.ScopeAll:
	case policy.ScopeOwn:
		tx = tx.Where("requester_id = ?", scope.UserID)
	case policy.ScopeAssignedOrUnassigned:
		tx = tx.Where("(assignee_id = ? OR assignee_id IS NULL)", scope.UserID)
	default:
		tx = tx.Where("1 = 0")
	}
	return tx
}

func (s *TicketStore) filtered(ctx context.Context, q TicketQuery) *gorm.DB {
	tx := s.scoped(ctx, q.Scope)
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.Priority != "" {
		tx = tx.Where("priority = ?", q.Priority)
	}
	if q.Department != "" {
		tx = tx.Where("department = ?", q.Department)
	}
	if q.Unassigned {
		tx = tx.Where("assignee_id IS NULL")
	} else if q.AssigneeID != nil {
		tx = tx.Where("assignee_id = ?", *q.AssigneeID)
	}
	if q.Search != "" {
		p := "%" + escapeLike(strings.ToLower(q.Search)) + "%"
		tx = tx.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\' OR LOWER(office) LIKE ? ESCAPE '\')`, p, p, p)
	}
	return tx
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func mapTicketErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrTicketNotFound
	}
	var de *errs.Error
	if errors.As(err, &de) {
		return err
	}
	return errs.Dependency(op, err)
}
