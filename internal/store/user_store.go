package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errs.ErrUserExists
		}
		return errs.Dependency("create user", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return s.first(ctx, "get user", "id = ?", id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.first(ctx, "get user by email", "email = ?", email)
}

func (s *UserStore) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.first(ctx, "get user by telegram id", "telegram_id = ?", telegramID)
}

// Exists — есть ли пользователь с таким id (проверка цели назначения).
func (s *UserStore) Exists(ctx context.Context, id uint64) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, errs.Dependency("check user", err)
	}
	return n > 0, nil
}

// ListByRoles — активные пользователи с одной из ролей; без ролей — все активные.
func (s *UserStore) ListByRoles(ctx context.Context, roles ...model.Role) ([]model.User, error) {
	users := make([]model.User, 0)
	tx := s.db.WithContext(ctx).Where("is_active = ?", true)
	if len(roles) > 0 {
		tx = tx.Where("role IN ?", roles)
	}
	if err := tx.Order("username ASC").Find(&users).Error; err != nil {
		return nil, errs.Dependency("list users", err)
	}
	return users, nil
}

// TelegramRecipients — активные technician/admin с привязанным Telegram.
func (s *UserStore) TelegramRecipients(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND telegram_id IS NOT NULL", true).
		Where("role IN ?", []model.Role{model.RoleTechnician, model.RoleAdmin}).
		Find(&users).Error
	if err != nil {
		return nil, errs.Dependency("list telegram recipients", err)
	}
	return users, nil
}

func (s *UserStore) TouchLastLogin(ctx context.Context, id uint64, at time.Time) error {
	return s.updates(ctx, id, map[string]interface{}{"last_login_at": at})
}

func (s *UserStore) SetTelegramID(ctx context.Context, id uint64, telegramID int64) error {
	return s.updates(ctx, id, map[string]interface{}{"telegram_id": telegramID})
}

// SetRoleAndActive меняет роль и/или активность; nil — поле не трогаем.
func (s *UserStore) SetRoleAndActive(ctx context.Context, id uint64, role *model.Role, active *bool) error {
	changes := make(map[string]interface{})
	if role != nil {
		changes["role"] = *role
	}
	if active != nil {
		changes["is_active"] = *active
	}
	if len(changes) == 0 {
		return nil
	}
	return s.updates(ctx, id, changes)
}

func (s *UserStore) updates(ctx context.Context, id uint64, changes map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.User{ID: id}).Updates(changes)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return errs.Conflict("user update conflicts with existing data", res.Error)
		}
		return errs.Dependency("update user", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) first(ctx context.Context, op, query string, args ...interface{}) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where(query, args...).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, errs.Dependency(op, err)
	}
	return &u, nil
}
