// Package errs — доменные ошибки сервиса и их классификация.
// Каждая ошибка несёт Kind: по нему handler выбирает HTTP-статус и машиночитаемый код.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation_failed"
	KindUnauthenticated Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindDependency      Kind = "internal_error"
)

// Error — ошибка с классом. Err (причина) наружу отдаётся только вне production.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает по Kind и Message, чтобы errors.Is работал с sentinel-значениями ниже.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

var (
	ErrTicketNotFound     = &Error{Kind: KindNotFound, Message: "ticket not found"}
	ErrMessageNotFound    = &Error{Kind: KindNotFound, Message: "message not found"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "permission denied"}
	ErrAccountDisabled    = &Error{Kind: KindForbidden, Message: "account is disabled"}
	ErrUnauthorized       = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrInvalidToken       = &Error{Kind: KindUnauthenticated, Message: "invalid or expired token"}
	ErrInvalidCredentials = &Error{Kind: KindUnauthenticated, Message: "invalid credentials"}
	ErrUserExists         = &Error{Kind: KindConflict, Message: "user already exists"}
)

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

func Conflict(message string, err error) error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

// Dependency оборачивает отказ хранилища или внешнего канала.
func Dependency(op string, err error) error {
	return &Error{Kind: KindDependency, Message: op, Err: err}
}

// KindOf возвращает класс ошибки; неклассифицированные ошибки считаются KindDependency.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}

// PublicMessage — сообщение, безопасное для клиента.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindDependency {
			return "internal server error"
		}
		return e.Message
	}
	return "internal server error"
}

func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
