package repository

import (
	"errors"
	"math"

	"github.com/mmeshcher/academy-shop/internal/model"
)

// ErrBalanceOverflow возвращается, если начисление переполняет баланс.
var ErrBalanceOverflow = errors.New("balance overflow")

// applyEntry применяет операцию к балансу. Списания идут только из доступных монет,
// начисления попадают в удержанные монеты при entry.Withheld.
func applyEntry(bal model.Balance, entry model.Transaction) (model.Balance, model.Transaction, error) {
	switch {
	case entry.Coins < 0:
		if entry.Coins == math.MinInt64 || bal.Coins < -entry.Coins {
			return bal, entry, ErrNotEnoughCoins
		}
		bal.Coins += entry.Coins
		entry.Withheld = false
	case entry.Withheld:
		if bal.WithheldCoins > math.MaxInt64-entry.Coins {
			return bal, entry, ErrBalanceOverflow
		}
		bal.WithheldCoins += entry.Coins
	default:
		if bal.Coins > math.MaxInt64-entry.Coins {
			return bal, entry, ErrBalanceOverflow
		}
		bal.Coins += entry.Coins
	}

	entry.BalanceAfter = bal
	return bal, entry, nil
}

// releaseEntry переводит все удержанные монеты в доступные.
// Если удержанных монет нет, возвращается операция с нулевой суммой.
func releaseEntry(bal model.Balance, entry model.Transaction) (model.Balance, model.Transaction, error) {
	if bal.Coins > math.MaxInt64-bal.WithheldCoins {
		return bal, entry, ErrBalanceOverflow
	}

	entry.Kind = model.TransactionKindRelease
	entry.Coins = bal.WithheldCoins
	entry.Withheld = false
	entry.CreditNote = false

	bal.Coins += bal.WithheldCoins
	bal.WithheldCoins = 0

	entry.BalanceAfter = bal
	return bal, entry, nil
}
