// Package model содержит доменные сущности сервиса магазина монет.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Balance содержит доступные и удержанные монеты пользователя.
type Balance struct {
	Coins         int64 `json:"coins"`
	WithheldCoins int64 `json:"withheld_coins"`
}

// TransactionKind описывает происхождение операции с монетами.
type TransactionKind string

const (
	TransactionKindAdjustment TransactionKind = "ADJUSTMENT"
	TransactionKindPurchase   TransactionKind = "PURCHASE"
	TransactionKindRelease    TransactionKind = "RELEASE"
)

// Transaction описывает одну запись журнала операций с монетами.
//
// Coins хранит знаковую дельту. Withheld означает, что начисление попало
// в удержанные монеты. Для RELEASE Coins равно числу переведённых
// из удержания монет.
type Transaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Coins        int64
	Withheld     bool
	Kind         TransactionKind
	Description  *string
	CreditNote   bool
	Actor        string
	BalanceAfter Balance
	CreatedAt    time.Time
}

// Eligibility показывает, что пользователь может покупать и получать монеты.
type Eligibility struct {
	CanBuyCoins     bool
	CanReceiveCoins bool
}
