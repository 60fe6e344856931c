package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/academy-shop/internal/metrics"
	"github.com/mmeshcher/academy-shop/internal/model"
	"github.com/mmeshcher/academy-shop/internal/repository"
	"github.com/mmeshcher/academy-shop/internal/validation"
)

// GetBalance возвращает баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error) {
	if !canRead(p, userID) {
		return model.Balance{}, ErrPermissionDenied
	}
	return s.repo.GetBalance(ctx, userID)
}

// AddCoins начисляет или списывает монеты.
//
// Начисление пользователю без полных платёжных данных попадает в удержанные монеты.
// Списание возможно только из доступных монет. creditNote по умолчанию равен coins > 0.
func (s *Service) AddCoins(ctx context.Context, p model.Principal, userID uuid.UUID, coins int64, description *string, creditNote *bool) (model.Balance, error) {
	if !canWrite(p) {
		return model.Balance{}, ErrPermissionDenied
	}
	if coins == 0 {
		return model.Balance{}, ErrInvalidAmount
	}

	description, ok := validation.NormalizeDescription(description)
	if !ok {
		return model.Balance{}, ErrInvalidDescription
	}

	eligibility, err := s.oracle.Eligibility(ctx, userID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("eligibility: %w", err)
	}

	entry := model.Transaction{
		UserID:      userID,
		Coins:       coins,
		Withheld:    coins > 0 && !eligibility.CanReceiveCoins,
		Kind:        model.TransactionKindAdjustment,
		Description: description,
		CreditNote:  coins > 0,
		Actor:       p.Actor(),
	}
	if creditNote != nil {
		entry.CreditNote = *creditNote
	}

	tx, err := s.repo.ApplyTransaction(ctx, entry)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotEnoughCoins):
			metrics.LedgerRejections.WithLabelValues("not_enough_coins").Inc()
		case errors.Is(err, repository.ErrBalanceOverflow):
			metrics.LedgerRejections.WithLabelValues("overflow").Inc()
			return model.Balance{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return model.Balance{}, err
	}

	metrics.LedgerTransactions.WithLabelValues(string(tx.Kind), bucket(tx)).Inc()
	s.logger.Info("coins applied",
		zap.String("user_id", userID.String()),
		zap.Int64("coins", coins),
		zap.Bool("withheld", tx.Withheld),
		zap.String("actor", tx.Actor),
	)

	return tx.BalanceAfter, nil
}

// ReleaseWithheld переводит удержанные монеты пользователя в доступные.
func (s *Service) ReleaseWithheld(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error) {
	if !canWrite(p) {
		return model.Balance{}, ErrPermissionDenied
	}

	eligibility, err := s.oracle.Eligibility(ctx, userID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("eligibility: %w", err)
	}
	if !eligibility.CanReceiveCoins {
		return model.Balance{}, ErrUserInfoMissing
	}

	return s.release(ctx, userID, p.Actor())
}

func (s *Service) release(ctx context.Context, userID uuid.UUID, actor string) (model.Balance, error) {
	tx, err := s.repo.ReleaseWithheld(ctx, userID, actor)
	if err != nil {
		return model.Balance{}, err
	}

	if tx.Coins > 0 {
		metrics.LedgerTransactions.WithLabelValues(string(tx.Kind), bucket(tx)).Inc()
		s.logger.Info("withheld coins released",
			zap.String("user_id", userID.String()),
			zap.Int64("coins", tx.Coins),
			zap.String("actor", actor),
		)
	}

	return tx.BalanceAfter, nil
}

// ReconcileEligibility вызывается сервисом учётных записей после изменения платёжных данных.
// Если пользователь теперь может получать монеты, удержанные монеты переводятся в доступные.
// Потеря права на получение монет баланс не меняет.
func (s *Service) ReconcileEligibility(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error) {
	if !p.IsInternal(InternalAudience) {
		return model.Balance{}, ErrPermissionDenied
	}

	eligibility, err := s.oracle.Eligibility(ctx, userID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("eligibility: %w", err)
	}

	if !eligibility.CanReceiveCoins || !s.opts.ReleaseWithheldOnEligible {
		return s.repo.GetBalance(ctx, userID)
	}

	return s.release(ctx, userID, p.Actor())
}

// ListTransactions возвращает журнал операций пользователя, новые первыми.
func (s *Service) ListTransactions(ctx context.Context, p model.Principal, userID uuid.UUID) ([]model.Transaction, error) {
	if !canRead(p, userID) {
		return nil, ErrPermissionDenied
	}
	return s.repo.GetTransactionsByUser(ctx, userID)
}

func bucket(tx model.Transaction) string {
	switch {
	case tx.Coins < 0:
		return "debit"
	case tx.Withheld:
		return "withheld"
	default:
		return "coins"
	}
}
