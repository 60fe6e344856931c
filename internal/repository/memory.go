package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/academy-shop/internal/lock"
	"github.com/mmeshcher/academy-shop/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется в режиме разработки и в тестах.
type MemoryRepository struct {
	users  *lock.KeyedMutex
	orders *lock.KeyedMutex

	mu            sync.RWMutex
	balances      map[uuid.UUID]model.Balance
	transactions  map[uuid.UUID][]model.Transaction
	coinOrders    map[string]model.CoinOrder
	nextInvoiceNo int64

	now func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         lock.NewKeyedMutex(),
		orders:        lock.NewKeyedMutex(),
		balances:      make(map[uuid.UUID]model.Balance),
		transactions:  make(map[uuid.UUID][]model.Transaction),
		coinOrders:    make(map[string]model.CoinOrder),
		nextInvoiceNo: 1,
		now:           time.Now,
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// GetBalance возвращает баланс пользователя. Для неизвестного пользователя возвращаются нули.
func (r *MemoryRepository) GetBalance(_ context.Context, userID uuid.UUID) (model.Balance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.balances[userID], nil
}

func (r *MemoryRepository) store(bal model.Balance, entry model.Transaction) model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.storeLocked(bal, entry)
}

func (r *MemoryRepository) storeLocked(bal model.Balance, entry model.Transaction) model.Transaction {
	entry.ID = uuid.New()
	entry.CreatedAt = r.now()

	r.balances[entry.UserID] = bal
	r.transactions[entry.UserID] = append(r.transactions[entry.UserID], entry)
	return entry
}

func (r *MemoryRepository) lockUser(ctx context.Context, userID uuid.UUID) (func(), error) {
	return r.users.Lock(ctx, userID.String())
}

// ApplyTransaction атомарно применяет операцию к балансу пользователя и записывает её в журнал.
func (r *MemoryRepository) ApplyTransaction(ctx context.Context, entry model.Transaction) (model.Transaction, error) {
	unlock, err := r.lockUser(ctx, entry.UserID)
	if err != nil {
		return model.Transaction{}, err
	}
	defer unlock()

	bal, _ := r.GetBalance(ctx, entry.UserID)

	bal, applied, err := applyEntry(bal, entry)
	if err != nil {
		return model.Transaction{}, err
	}

	return r.store(bal, applied), nil
}

// ReleaseWithheld переводит все удержанные монеты пользователя в доступные.
func (r *MemoryRepository) ReleaseWithheld(ctx context.Context, userID uuid.UUID, actor string) (model.Transaction, error) {
	unlock, err := r.lockUser(ctx, userID)
	if err != nil {
		return model.Transaction{}, err
	}
	defer unlock()

	bal, _ := r.GetBalance(ctx, userID)
	if bal.WithheldCoins == 0 {
		return model.Transaction{UserID: userID, Kind: model.TransactionKindRelease, Actor: actor, BalanceAfter: bal}, nil
	}

	bal, entry, err := releaseEntry(bal, model.Transaction{UserID: userID, Actor: actor})
	if err != nil {
		return model.Transaction{}, err
	}

	return r.store(bal, entry), nil
}

// GetTransactionsByUser возвращает журнал операций пользователя, новые первыми.
func (r *MemoryRepository) GetTransactionsByUser(_ context.Context, userID uuid.UUID) ([]model.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.transactions[userID]
	res := make([]model.Transaction, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		res = append(res, src[i])
	}
	return res, nil
}

// CreateCoinOrder сохраняет новый заказ в статусе CREATED и присваивает ему номер счёта.
func (r *MemoryRepository) CreateCoinOrder(_ context.Context, id string, userID uuid.UUID, coins int64) (model.CoinOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.coinOrders[id]; ok {
		return model.CoinOrder{}, fmt.Errorf("%w: %s", ErrOrderExists, id)
	}

	order := model.CoinOrder{
		ID:            id,
		UserID:        userID,
		Coins:         coins,
		Status:        model.OrderStatusCreated,
		InvoiceNumber: r.nextInvoiceNo,
		CreatedAt:     r.now(),
	}
	r.nextInvoiceNo++
	r.coinOrders[id] = order

	return order, nil
}

// GetCoinOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetCoinOrder(_ context.Context, id string) (model.CoinOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.coinOrders[id]
	if !ok {
		return model.CoinOrder{}, ErrOrderNotFound
	}
	return order, nil
}

func (r *MemoryRepository) filterCoinOrders(keep func(model.CoinOrder) bool) []model.CoinOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.CoinOrder
	for _, o := range r.coinOrders {
		if keep(o) {
			res = append(res, o)
		}
	}
	return res
}

// GetCoinOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *MemoryRepository) GetCoinOrdersByUser(_ context.Context, userID uuid.UUID) ([]model.CoinOrder, error) {
	res := r.filterCoinOrders(func(o model.CoinOrder) bool { return o.UserID == userID })
	sort.Slice(res, func(i, j int) bool { return res[i].InvoiceNumber > res[j].InvoiceNumber })
	return res, nil
}

// GetCoinOrdersByStatus возвращает заказы в указанном статусе, которые дольше всех
// не сверялись с провайдером. Ни разу не сверявшиеся заказы идут первыми.
func (r *MemoryRepository) GetCoinOrdersByStatus(_ context.Context, status model.OrderStatus, limit int) ([]model.CoinOrder, error) {
	res := r.filterCoinOrders(func(o model.CoinOrder) bool { return o.Status == status })
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i].SyncedAt, res[j].SyncedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return res[i].InvoiceNumber < res[j].InvoiceNumber
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// MarkCoinOrderSynced запоминает время сверки заказа с провайдером.
func (r *MemoryRepository) MarkCoinOrderSynced(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.coinOrders[id]
	if !ok {
		return ErrOrderNotFound
	}
	now := r.now()
	order.SyncedAt = &now
	r.coinOrders[id] = order
	return nil
}

// Ping всегда успешен.
func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

// ConfirmCoinOrder переводит заказ из CREATED в CONFIRMED.
func (r *MemoryRepository) ConfirmCoinOrder(ctx context.Context, id string) (model.CoinOrder, error) {
	unlock, err := r.orders.Lock(ctx, id)
	if err != nil {
		return model.CoinOrder{}, err
	}
	defer unlock()

	order, err := r.GetCoinOrder(ctx, id)
	if err != nil {
		return model.CoinOrder{}, err
	}
	if !model.CanTransitionTo(order.Status, model.OrderStatusConfirmed) {
		return model.CoinOrder{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, model.OrderStatusConfirmed)
	}

	now := r.now()
	order.Status = model.OrderStatusConfirmed
	order.ConfirmedAt = &now

	r.mu.Lock()
	r.coinOrders[id] = order
	r.mu.Unlock()

	return order, nil
}

// CaptureCoinOrder переводит заказ из CONFIRMED в CAPTURED и начисляет купленные монеты.
func (r *MemoryRepository) CaptureCoinOrder(ctx context.Context, id string, entry model.Transaction) (model.Transaction, error) {
	unlockOrder, err := r.orders.Lock(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	defer unlockOrder()

	order, err := r.GetCoinOrder(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	if !model.CanTransitionTo(order.Status, model.OrderStatusCaptured) {
		return model.Transaction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, model.OrderStatusCaptured)
	}

	unlockUser, err := r.lockUser(ctx, order.UserID)
	if err != nil {
		return model.Transaction{}, err
	}
	defer unlockUser()

	entry.UserID = order.UserID
	entry.Coins = order.Coins
	entry.Kind = model.TransactionKindPurchase

	bal, _ := r.GetBalance(ctx, order.UserID)
	bal, applied, err := applyEntry(bal, entry)
	if err != nil {
		return model.Transaction{}, err
	}

	now := r.now()
	order.Status = model.OrderStatusCaptured
	order.CapturedAt = &now

	r.mu.Lock()
	defer r.mu.Unlock()

	r.coinOrders[id] = order
	return r.storeLocked(bal, applied), nil
}
