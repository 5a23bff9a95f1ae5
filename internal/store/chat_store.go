package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// Create сохраняет сообщение и возвращает его с автором.
func (s *ChatStore) Create(ctx context.Context, m *model.ChatMessage) (*model.ChatMessage, error) {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error; err != nil {
		return nil, errs.Dependency("create message", err)
	}
	return s.GetByID(ctx, m.ID)
}

func (s *ChatStore) GetByID(ctx context.Context, id uint64) (*model.ChatMessage, error) {
	var m model.ChatMessage
	if err := s.db.WithContext(ctx).Preload("Author").First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrMessageNotFound
		}
		return nil, errs.Dependency("get message", err)
	}
	return &m, nil
}

// ListByTicket — сообщения тикета по возрастанию времени создания.
func (s *ChatStore) ListByTicket(ctx context.Context, ticketID uint64) ([]model.ChatMessage, error) {
	items := make([]model.ChatMessage, 0)
	err := s.db.WithContext(ctx).
		Preload("Author").
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, errs.Dependency("list messages", err)
	}
	return items, nil
}

func (s *ChatStore) UpdateBody(ctx context.Context, id uint64, body string) (*model.ChatMessage, error) {
	res := s.db.WithContext(ctx).Model(&model.ChatMessage{ID: id}).Update("message", body)
	if res.Error != nil {
		return nil, errs.Dependency("update message", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errs.ErrMessageNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *ChatStore) Delete(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&model.ChatMessage{}, id)
	if res.Error != nil {
		return errs.Dependency("delete message", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrMessageNotFound
	}
	return nil
}
