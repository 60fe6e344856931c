package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает статус заказа на покупку монет.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCaptured  OrderStatus = "CAPTURED"
)

var orderTransitions = map[OrderStatus]OrderStatus{
	OrderStatusCreated:   OrderStatusConfirmed,
	OrderStatusConfirmed: OrderStatusCaptured,
}

// CanTransitionTo сообщает, разрешён ли переход заказа из статуса from в статус to.
func CanTransitionTo(from, to OrderStatus) bool {
	next, ok := orderTransitions[from]
	return ok && next == to
}

// CoinOrder описывает заказ на покупку монет через платёжного провайдера.
type CoinOrder struct {
	ID            string
	UserID        uuid.UUID
	Coins         int64
	Status        OrderStatus
	InvoiceNumber int64
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	CapturedAt    *time.Time
	// SyncedAt хранит время последней сверки заказа с провайдером.
	SyncedAt *time.Time
}
