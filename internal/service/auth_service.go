package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

const minPasswordLength = 6

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session — ответ register/login.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// UserPatch — изменения пользователя администратором.
type UserPatch struct {
	Role     *model.Role `json:"role"`
	IsActive *bool       `json:"is_active"`
}

type sessionClaims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthService — Identity Provider: регистрация, вход, выпуск и проверка JWT (HS256).
type AuthService struct {
	users  *store.UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	log    *slog.Logger
	now    func() time.Time
}

func NewAuthService(users *store.UserStore, secret string, ttl time.Duration, log *slog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		log:    log.With("component", "auth_service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register создаёт пользователя с ролью usuario; роль меняет только admin через UpdateUser.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if n := utf8.RuneCountInString(in.Username); n < 3 || n > 50 {
		return nil, errs.Validation("username must be between 3 and 50 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil || len(in.Email) > 100 {
		return nil, errs.Validation("invalid email")
	}
	if len(in.Password) < minPasswordLength {
		return nil, errs.Validation("password must be at least %d characters", minPasswordLength)
	}
	u, err := s.CreateUser(ctx, in, model.RoleRequester)
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", u.ID)
	return s.issue(u)
}

// CreateUser хэширует пароль и сохраняет пользователя с указанной ролью (register, seed).
func (s *AuthService) CreateUser(ctx context.Context, in RegisterInput, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, errs.Validation("invalid role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, errs.Dependency("hash password", err)
	}
	u := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, errs.Validation("email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			return nil, errs.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, errs.ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, errs.ErrAccountDisabled
	}
	now := s.now()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("update last login failed", "user_id", u.ID, "error", err)
	} else {
		u.LastLoginAt = &now
	}
	return s.issue(u)
}

// Authenticate проверяет токен и возвращает активного пользователя (HTTP middleware, WebSocket authenticate).
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, errs.ErrUnauthorized
	}
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, errs.ErrInvalidToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return nil, errs.ErrInvalidToken
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			return nil, errs.ErrInvalidToken
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, errs.ErrAccountDisabled
	}
	return u, nil
}

func (s *AuthService) issue(u *model.User) (*Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, errs.Dependency("sign token", err)
	}
	return &Session{Token: signed, ExpiresAt: exp, User: u}, nil
}

// LinkTelegram привязывает chat id Telegram к пользователю (уведомления и команды бота).
func (s *AuthService) LinkTelegram(ctx context.Context, actor *model.User, telegramID int64) (*model.User, error) {
	if telegramID == 0 {
		return nil, errs.Validation("telegram_id is required")
	}
	if err := s.users.SetTelegramID(ctx, actor.ID, telegramID); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, actor.ID)
}

// ListUsers — список активных пользователей для technician/admin (выбор исполнителя).
func (s *AuthService) ListUsers(ctx context.Context, actor *model.User, role string) ([]model.User, error) {
	if !actor.Role.IsStaff() {
		return nil, errs.ErrForbidden
	}
	if role == "" {
		return s.users.ListByRoles(ctx)
	}
	r := model.Role(role)
	if !r.Valid() {
		return nil, errs.Validation("invalid role %q", role)
	}
	return s.users.ListByRoles(ctx, r)
}

// UpdateUser — смена роли и активности; только admin, себя деактивировать или понизить нельзя.
func (s *AuthService) UpdateUser(ctx context.Context, actor *model.User, id uint64, p UserPatch) (*model.User, error) {
	if actor.Role != model.RoleAdmin {
		return nil, errs.ErrForbidden
	}
	if p.Role == nil && p.IsActive == nil {
		return nil, errs.Validation("no fields to update")
	}
	if p.Role != nil && !p.Role.Valid() {
		return nil, errs.Validation("invalid role %q", *p.Role)
	}
	if id == actor.ID && ((p.IsActive != nil && !*p.IsActive) || (p.Role != nil && *p.Role != model.RoleAdmin)) {
		return nil, errs.Validation("admins cannot demote or deactivate themselves")
	}
	if err := s.users.SetRoleAndActive(ctx, id, p.Role, p.IsActive); err != nil {
		return nil, err
	}
	s.log.Info("user updated", "user_id", id, "actor_id", actor.ID)
	return s.users.GetByID(ctx, id)
}

// SeedDemoUsers создаёт демо-учётки admin/tecnico/usuario, если их ещё нет.
func (s *AuthService) SeedDemoUsers(ctx context.Context) ([]string, error) {
	demo := []struct {
		in   RegisterInput
		role model.Role
	}{
		{RegisterInput{Username: "admin", Email: "admin@example.com", Password: "admin123"}, model.RoleAdmin},
		{RegisterInput{Username: "tecnico", Email: "tecnico@example.com", Password: "tecnico123"}, model.RoleTechnician},
		{RegisterInput{Username: "usuario", Email: "usuario@example.com", Password: "usuario123"}, model.RoleRequester},
	}
	var created []string
	for _, d := range demo {
		_, err := s.CreateUser(ctx, d.in, d.role)
		switch {
		case err == nil:
			created = append(created, d.in.Email)
		case errors.Is(err, errs.ErrUserExists):
		default:
			return created, fmt.Errorf("seed %s: %w", d.in.Email, err)
		}
	}
	return created, nil
}
