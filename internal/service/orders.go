package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/academy-shop/internal/metrics"
	"github.com/mmeshcher/academy-shop/internal/model"
	"github.com/mmeshcher/academy-shop/internal/paypal"
	"github.com/mmeshcher/academy-shop/internal/repository"
)

const orderLockPrefix = "order:"

// PaypalClientID возвращает публичный идентификатор приложения PayPal.
func (s *Service) PaypalClientID() string {
	return s.provider.ClientID()
}

// CreateCoinOrder создаёт заказ на покупку монет у провайдера и сохраняет его.
func (s *Service) CreateCoinOrder(ctx context.Context, p model.Principal, coins int64) (string, error) {
	if coins < s.opts.PurchaseMin || coins > s.opts.PurchaseMax {
		return "", ErrInvalidAmount
	}
	if !p.IsUser() {
		return "", ErrPermissionDenied
	}
	if !p.EmailVerified {
		return "", ErrEmailNotVerified
	}

	eligibility, err := s.oracle.Eligibility(ctx, p.UserID)
	if err != nil {
		return "", fmt.Errorf("eligibility: %w", err)
	}
	if !eligibility.CanBuyCoins {
		return "", ErrUserInfoMissing
	}

	orderID, err := s.provider.CreateOrder(ctx, coins)
	if err != nil {
		metrics.CoinOrderEvents.WithLabelValues("create_failed").Inc()
		s.logger.Error("create paypal order", zap.Error(err), zap.String("user_id", p.UserID.String()))
		return "", fmt.Errorf("%w: %v", ErrCreateOrderFailed, err)
	}

	order, err := s.repo.CreateCoinOrder(ctx, orderID, p.UserID, coins)
	if err != nil {
		return "", err
	}

	metrics.CoinOrderEvents.WithLabelValues("created").Inc()
	s.logger.Info("coin order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", p.UserID.String()),
		zap.Int64("coins", coins),
		zap.Int64("invoice_number", order.InvoiceNumber),
	)

	return order.ID, nil
}

// CaptureCoinOrder списывает оплату у провайдера и начисляет купленные монеты.
// Заказ начисляется ровно один раз: повторные попытки получают ErrOrderNotFound.
func (s *Service) CaptureCoinOrder(ctx context.Context, p model.Principal, orderID string) (model.Balance, error) {
	if !p.IsUser() {
		return model.Balance{}, ErrPermissionDenied
	}

	unlock, err := s.locker.Lock(ctx, orderLockPrefix+orderID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("lock order: %w", err)
	}
	defer unlock()

	order, err := s.repo.GetCoinOrder(ctx, orderID)
	if err != nil {
		return model.Balance{}, err
	}
	if order.UserID != p.UserID || order.Status == model.OrderStatusCaptured {
		return model.Balance{}, repository.ErrOrderNotFound
	}

	eligibility, err := s.oracle.Eligibility(ctx, p.UserID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("eligibility: %w", err)
	}
	if !eligibility.CanBuyCoins {
		return model.Balance{}, ErrUserInfoMissing
	}

	capturedUpstream := false
	if order.Status == model.OrderStatusCreated {
		upstream, err := s.provider.GetOrderStatus(ctx, orderID)
		if err != nil {
			s.logger.Warn("get paypal order status", zap.Error(err), zap.String("order_id", orderID))
			return model.Balance{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		if upstream == model.OrderStatusCreated {
			return model.Balance{}, ErrCaptureFailed
		}
		if _, err := s.repo.ConfirmCoinOrder(ctx, orderID); err != nil {
			return model.Balance{}, err
		}
		metrics.CoinOrderEvents.WithLabelValues("confirmed").Inc()
		capturedUpstream = upstream == model.OrderStatusCaptured
	}

	if !capturedUpstream {
		if err := s.captureUpstream(ctx, orderID); err != nil {
			metrics.CoinOrderEvents.WithLabelValues("capture_failed").Inc()
			s.logger.Warn("capture paypal order", zap.Error(err), zap.String("order_id", orderID))
			return model.Balance{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
	}

	tx, err := s.completeCapture(ctx, order, p.Actor())
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return model.Balance{}, repository.ErrOrderNotFound
		}
		return model.Balance{}, err
	}

	return tx.BalanceAfter, nil
}

// captureUpstream вызывает списание у провайдера. Если списание уже было выполнено
// ранее, а локальная фиксация не прошла, провайдер сообщит статус CAPTURED.
func (s *Service) captureUpstream(ctx context.Context, orderID string) error {
	err := s.provider.CaptureOrder(ctx, orderID)
	if err == nil {
		return nil
	}

	status, statusErr := s.provider.GetOrderStatus(ctx, orderID)
	if statusErr == nil && status == model.OrderStatusCaptured {
		return nil
	}
	return err
}

func (s *Service) completeCapture(ctx context.Context, order model.CoinOrder, actor string) (model.Transaction, error) {
	description := fmt.Sprintf("PayPal order %s, invoice %d", order.ID, order.InvoiceNumber)

	tx, err := s.repo.CaptureCoinOrder(ctx, order.ID, model.Transaction{
		Description: &description,
		Actor:       actor,
	})
	if err != nil {
		return model.Transaction{}, err
	}

	metrics.CoinOrderEvents.WithLabelValues("captured").Inc()
	metrics.LedgerTransactions.WithLabelValues(string(tx.Kind), bucket(tx)).Inc()
	s.logger.Info("coin order captured",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID.String()),
		zap.Int64("coins", order.Coins),
		zap.String("actor", actor),
	)

	return tx, nil
}

// ListCoinOrders возвращает заказы вызывающего пользователя, новые первыми.
func (s *Service) ListCoinOrders(ctx context.Context, p model.Principal) ([]model.CoinOrder, error) {
	if !p.IsUser() {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetCoinOrdersByUser(ctx, p.UserID)
}

// RunOrderSync периодически сверяет незавершённые заказы с провайдером
// до отмены контекста.
func (s *Service) RunOrderSync(ctx context.Context) error {
	interval := s.opts.SyncInterval
	if interval <= 0 {
		interval = DefaultOptions().SyncInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SyncOrders(ctx)
		}
	}
}

// SyncOrders выполняет один проход сверки: CREATED заказы, подтверждённые у провайдера,
// переводятся в CONFIRMED, а списанные у провайдера CONFIRMED заказы начисляются.
func (s *Service) SyncOrders(ctx context.Context) {
	for _, status := range []model.OrderStatus{model.OrderStatusCreated, model.OrderStatusConfirmed} {
		orders, err := s.repo.GetCoinOrdersByStatus(ctx, status, s.opts.SyncBatchSize)
		if err != nil {
			s.logger.Error("select orders for sync", zap.Error(err), zap.String("status", string(status)))
			return
		}

		for _, o := range orders {
			if !s.syncOrder(ctx, o) {
				return
			}
		}
	}
}

// syncOrder возвращает false, если проход нужно прервать.
func (s *Service) syncOrder(ctx context.Context, order model.CoinOrder) bool {
	unlock, err := s.locker.TryLock(ctx, orderLockPrefix+order.ID)
	if err != nil {
		// Заказ сейчас обрабатывается запросом пользователя.
		return ctx.Err() == nil
	}
	defer unlock()

	if err := s.repo.MarkCoinOrderSynced(ctx, order.ID); err != nil {
		s.logger.Warn("mark order synced", zap.Error(err), zap.String("order_id", order.ID))
		return ctx.Err() == nil
	}

	upstream, err := s.provider.GetOrderStatus(ctx, order.ID)
	if err != nil {
		var rateLimit *paypal.RateLimitError
		if errors.As(err, &rateLimit) {
			if rateLimit.RetryAfter > 0 {
				timer := time.NewTimer(rateLimit.RetryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
				case <-timer.C:
				}
			}
			return false
		}
		s.logger.Debug("get paypal order status", zap.Error(err), zap.String("order_id", order.ID))
		return ctx.Err() == nil
	}

	if order.Status == model.OrderStatusCreated && upstream != model.OrderStatusCreated {
		confirmed, err := s.repo.ConfirmCoinOrder(ctx, order.ID)
		if err != nil {
			s.logger.Warn("confirm order", zap.Error(err), zap.String("order_id", order.ID))
			return true
		}
		metrics.CoinOrderEvents.WithLabelValues("confirmed").Inc()
		order = confirmed
	}

	if order.Status == model.OrderStatusConfirmed && upstream == model.OrderStatusCaptured {
		if _, err := s.completeCapture(ctx, order, model.Principal{}.Actor()); err != nil {
			s.logger.Error("complete captured order", zap.Error(err), zap.String("order_id", order.ID))
			return true
		}
		metrics.CoinOrderEvents.WithLabelValues("recovered").Inc()
	}

	return true
}
