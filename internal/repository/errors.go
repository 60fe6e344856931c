package repository

import "errors"

var (
	// ErrNotEnoughCoins возвращается при попытке списать больше доступных монет.
	ErrNotEnoughCoins = errors.New("not enough coins")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при повторном сохранении заказа с тем же идентификатором.
	ErrOrderExists = errors.New("order already exists")
	// ErrInvalidTransition возвращается, если заказ не находится в ожидаемом статусе.
	ErrInvalidTransition = errors.New("invalid order status transition")
)
