package model

import (
	"github.com/google/uuid"
)

// Principal описывает аутентифицированного вызывающего.
// Для внутренних сервисов заполнено Audience, для пользователей заполнено UserID.
type Principal struct {
	UserID        uuid.UUID
	Admin         bool
	EmailVerified bool
	Audience      []string
}

// IsInternal сообщает, что вызов выполнен внутренним сервисом с указанной аудиторией.
func (p Principal) IsInternal(audience string) bool {
	for _, a := range p.Audience {
		if a == audience {
			return true
		}
	}
	return false
}

// IsUser сообщает, что вызов выполнен пользователем.
func (p Principal) IsUser() bool {
	return p.UserID != uuid.Nil
}

// Actor возвращает идентификатор вызывающего для журнала операций.
func (p Principal) Actor() string {
	switch {
	case p.IsUser() && p.Admin:
		return "admin:" + p.UserID.String()
	case p.IsUser():
		return "user:" + p.UserID.String()
	case len(p.Audience) > 0:
		return "internal:" + p.Audience[0]
	default:
		return "system"
	}
}
