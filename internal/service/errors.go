package service

import "errors"

var (
	// ErrPermissionDenied возвращается, если вызывающему не разрешена операция.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEmailNotVerified возвращается, если у пользователя не подтверждён email.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrInvalidAmount возвращается при нулевой или выходящей за пределы сумме.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidDescription возвращается при слишком длинном описании операции.
	ErrInvalidDescription = errors.New("invalid description")
	// ErrUserInfoMissing возвращается, если платёжных данных пользователя недостаточно.
	ErrUserInfoMissing = errors.New("user infos missing")
	// ErrCaptureFailed возвращается, если провайдер не подтвердил оплату заказа.
	ErrCaptureFailed = errors.New("could not capture order")
	// ErrCreateOrderFailed возвращается, если провайдер не создал заказ.
	ErrCreateOrderFailed = errors.New("could not create order")
)
