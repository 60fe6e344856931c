// Package service реализует бизнес-логику магазина монет: баланс, удержание и заказы PayPal.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/academy-shop/internal/lock"
	"github.com/mmeshcher/academy-shop/internal/model"
)

// InternalAudience задаёт аудиторию внутренних токенов, адресованных магазину.
const InternalAudience = "shop"

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error)
	ApplyTransaction(ctx context.Context, entry model.Transaction) (model.Transaction, error)
	ReleaseWithheld(ctx context.Context, userID uuid.UUID, actor string) (model.Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]model.Transaction, error)
	CreateCoinOrder(ctx context.Context, id string, userID uuid.UUID, coins int64) (model.CoinOrder, error)
	GetCoinOrder(ctx context.Context, id string) (model.CoinOrder, error)
	GetCoinOrdersByUser(ctx context.Context, userID uuid.UUID) ([]model.CoinOrder, error)
	GetCoinOrdersByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.CoinOrder, error)
	ConfirmCoinOrder(ctx context.Context, id string) (model.CoinOrder, error)
	CaptureCoinOrder(ctx context.Context, id string, entry model.Transaction) (model.Transaction, error)
	MarkCoinOrderSynced(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Oracle отвечает, может ли пользователь покупать и получать монеты.
type Oracle interface {
	Eligibility(ctx context.Context, userID uuid.UUID) (model.Eligibility, error)
}

// OrderProvider описывает внешнего платёжного провайдера заказов.
type OrderProvider interface {
	ClientID() string
	CreateOrder(ctx context.Context, coins int64) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error)
	CaptureOrder(ctx context.Context, orderID string) error
}

// Options содержит настраиваемые параметры бизнес-логики.
type Options struct {
	PurchaseMin               int64
	PurchaseMax               int64
	ReleaseWithheldOnEligible bool
	SyncInterval              time.Duration
	SyncBatchSize             int
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		PurchaseMin:               1,
		PurchaseMax:               100000,
		ReleaseWithheldOnEligible: true,
		SyncInterval:              5 * time.Second,
		SyncBatchSize:             100,
	}
}

// Service содержит бизнес-логику магазина монет.
type Service struct {
	repo     Repository
	oracle   Oracle
	provider OrderProvider
	locker   lock.Locker
	logger   *zap.Logger
	opts     Options
}

// NewService создаёт сервис. Если locker не задан, используется блокировка в памяти процесса.
func NewService(repo Repository, oracle Oracle, provider OrderProvider, locker lock.Locker, logger *zap.Logger, opts Options) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SyncBatchSize <= 0 {
		opts.SyncBatchSize = DefaultOptions().SyncBatchSize
	}

	return &Service{
		repo:     repo,
		oracle:   oracle,
		provider: provider,
		locker:   locker,
		logger:   logger,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// canRead разрешает чтение самому пользователю, администратору и внутреннему сервису.
func canRead(p model.Principal, userID uuid.UUID) bool {
	if p.IsInternal(InternalAudience) {
		return true
	}
	return p.IsUser() && (p.Admin || p.UserID == userID)
}

// canWrite разрешает изменение баланса администратору и внутреннему сервису.
func canWrite(p model.Principal) bool {
	return p.IsInternal(InternalAudience) || (p.IsUser() && p.Admin)
}
