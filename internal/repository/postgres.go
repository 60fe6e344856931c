// Package repository содержит реализации хранилища монет и заказов: PostgreSQL и в памяти.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/academy-shop/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

// withRetry повторяет транзакцию при конфликте сериализации, взаимной блокировке
// или обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || i == len(retryDelays) || !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// inTx выполняет fn в транзакции с повторами.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetBalance возвращает баланс пользователя. Для неизвестного пользователя возвращаются нули.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	var bal model.Balance
	err := r.pool.QueryRow(ctx,
		`SELECT coins, withheld_coins FROM coins WHERE user_id = $1`,
		userID,
	).Scan(&bal.Coins, &bal.WithheldCoins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Balance{}, nil
		}
		return model.Balance{}, fmt.Errorf("select balance: %w", err)
	}
	return bal, nil
}

// lockBalance создаёт строку баланса при необходимости и блокирует её до конца транзакции.
func lockBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (model.Balance, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO coins (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return model.Balance{}, fmt.Errorf("insert balance: %w", err)
	}

	var bal model.Balance
	err = tx.QueryRow(ctx,
		`SELECT coins, withheld_coins FROM coins WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&bal.Coins, &bal.WithheldCoins)
	if err != nil {
		return model.Balance{}, fmt.Errorf("lock balance: %w", err)
	}
	return bal, nil
}

func storeEntry(ctx context.Context, tx pgx.Tx, bal model.Balance, entry model.Transaction) (model.Transaction, error) {
	_, err := tx.Exec(ctx,
		`UPDATE coins SET coins = $2, withheld_coins = $3 WHERE user_id = $1`,
		entry.UserID, bal.Coins, bal.WithheldCoins,
	)
	if err != nil {
		return entry, fmt.Errorf("update balance: %w", err)
	}

	entry.ID = uuid.New()
	err = tx.QueryRow(ctx,
		`INSERT INTO coin_transactions
		 (id, user_id, coins, withheld, kind, description, credit_note, actor, balance_coins, balance_withheld_coins)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		entry.ID, entry.UserID, entry.Coins, entry.Withheld, string(entry.Kind), entry.Description,
		entry.CreditNote, entry.Actor, bal.Coins, bal.WithheldCoins,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return entry, fmt.Errorf("insert transaction: %w", err)
	}

	return entry, nil
}

// ApplyTransaction атомарно применяет операцию к балансу пользователя и записывает её в журнал.
// Строка баланса блокируется на время транзакции, поэтому параллельные списания сериализуются.
func (r *PostgresRepository) ApplyTransaction(ctx context.Context, entry model.Transaction) (model.Transaction, error) {
	var result model.Transaction
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		bal, err := lockBalance(ctx, tx, entry.UserID)
		if err != nil {
			return err
		}

		bal, applied, err := applyEntry(bal, entry)
		if err != nil {
			return err
		}

		result, err = storeEntry(ctx, tx, bal, applied)
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	return result, nil
}

// ReleaseWithheld переводит все удержанные монеты пользователя в доступные.
// Если удержанных монет нет, журнал не пополняется, а Coins результата равно нулю.
func (r *PostgresRepository) ReleaseWithheld(ctx context.Context, userID uuid.UUID, actor string) (model.Transaction, error) {
	var result model.Transaction
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		bal, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if bal.WithheldCoins == 0 {
			result = model.Transaction{UserID: userID, Kind: model.TransactionKindRelease, Actor: actor, BalanceAfter: bal}
			return nil
		}

		bal, entry, err := releaseEntry(bal, model.Transaction{UserID: userID, Actor: actor})
		if err != nil {
			return err
		}

		result, err = storeEntry(ctx, tx, bal, entry)
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	return result, nil
}

// GetTransactionsByUser возвращает журнал операций пользователя, новые первыми.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID uuid.UUID) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, coins, withheld, kind, description, credit_note, actor,
		        balance_coins, balance_withheld_coins, created_at
		 FROM coin_transactions
		 WHERE user_id = $1
		 ORDER BY seq DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t    model.Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Coins, &t.Withheld, &kind, &t.Description, &t.CreditNote,
			&t.Actor, &t.BalanceAfter.Coins, &t.BalanceAfter.WithheldCoins, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = model.TransactionKind(kind)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const coinOrderColumns = `id, user_id, coins, status, invoice_number, created_at, confirmed_at, captured_at, synced_at`

func scanCoinOrder(row pgx.Row) (model.CoinOrder, error) {
	var (
		o      model.CoinOrder
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Coins, &status, &o.InvoiceNumber, &o.CreatedAt, &o.ConfirmedAt, &o.CapturedAt, &o.SyncedAt)
	o.Status = model.OrderStatus(status)
	return o, err
}

// CreateCoinOrder сохраняет новый заказ в статусе CREATED и присваивает ему номер счёта.
func (r *PostgresRepository) CreateCoinOrder(ctx context.Context, id string, userID uuid.UUID, coins int64) (model.CoinOrder, error) {
	order, err := scanCoinOrder(r.pool.QueryRow(ctx,
		`INSERT INTO paypal_coin_orders (id, user_id, coins, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+coinOrderColumns,
		id, userID, coins, string(model.OrderStatusCreated),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.CoinOrder{}, fmt.Errorf("%w: %s", ErrOrderExists, id)
		}
		return model.CoinOrder{}, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

// GetCoinOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetCoinOrder(ctx context.Context, id string) (model.CoinOrder, error) {
	order, err := scanCoinOrder(r.pool.QueryRow(ctx,
		`SELECT `+coinOrderColumns+` FROM paypal_coin_orders WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CoinOrder{}, ErrOrderNotFound
		}
		return model.CoinOrder{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) queryCoinOrders(ctx context.Context, query string, args ...any) ([]model.CoinOrder, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.CoinOrder
	for rows.Next() {
		o, err := scanCoinOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetCoinOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetCoinOrdersByUser(ctx context.Context, userID uuid.UUID) ([]model.CoinOrder, error) {
	return r.queryCoinOrders(ctx,
		`SELECT `+coinOrderColumns+`
		 FROM paypal_coin_orders
		 WHERE user_id = $1
		 ORDER BY invoice_number DESC`,
		userID,
	)
}

// GetCoinOrdersByStatus возвращает заказы в указанном статусе, которые дольше всех
// не сверялись с провайдером. Ни разу не сверявшиеся заказы идут первыми.
func (r *PostgresRepository) GetCoinOrdersByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.CoinOrder, error) {
	return r.queryCoinOrders(ctx,
		`SELECT `+coinOrderColumns+`
		 FROM paypal_coin_orders
		 WHERE status = $1
		 ORDER BY synced_at NULLS FIRST, invoice_number
		 LIMIT $2`,
		string(status), limit,
	)
}

// MarkCoinOrderSynced запоминает время сверки заказа с провайдером.
func (r *PostgresRepository) MarkCoinOrderSynced(ctx context.Context, id string) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE paypal_coin_orders SET synced_at = now() WHERE id = $1`,
			id,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
}

// Ping проверяет доступность базы данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ConfirmCoinOrder переводит заказ из CREATED в CONFIRMED.
func (r *PostgresRepository) ConfirmCoinOrder(ctx context.Context, id string) (model.CoinOrder, error) {
	var order model.CoinOrder
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockCoinOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !model.CanTransitionTo(current.Status, model.OrderStatusConfirmed) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, model.OrderStatusConfirmed)
		}

		order, err = scanCoinOrder(tx.QueryRow(ctx,
			`UPDATE paypal_coin_orders SET status = $2, confirmed_at = now()
			 WHERE id = $1
			 RETURNING `+coinOrderColumns,
			id, string(model.OrderStatusConfirmed),
		))
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.CoinOrder{}, err
	}
	return order, nil
}

func lockCoinOrder(ctx context.Context, tx pgx.Tx, id string) (model.CoinOrder, error) {
	order, err := scanCoinOrder(tx.QueryRow(ctx,
		`SELECT `+coinOrderColumns+` FROM paypal_coin_orders WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CoinOrder{}, ErrOrderNotFound
		}
		return model.CoinOrder{}, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

// CaptureCoinOrder в одной транзакции переводит заказ из CONFIRMED в CAPTURED
// и начисляет купленные монеты. Повторный вызов вернёт ErrInvalidTransition.
func (r *PostgresRepository) CaptureCoinOrder(ctx context.Context, id string, entry model.Transaction) (model.Transaction, error) {
	var result model.Transaction
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		order, err := lockCoinOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !model.CanTransitionTo(order.Status, model.OrderStatusCaptured) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, model.OrderStatusCaptured)
		}

		_, err = tx.Exec(ctx,
			`UPDATE paypal_coin_orders SET status = $2, captured_at = now() WHERE id = $1`,
			id, string(model.OrderStatusCaptured),
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		entry.UserID = order.UserID
		entry.Coins = order.Coins
		entry.Kind = model.TransactionKindPurchase

		bal, err := lockBalance(ctx, tx, order.UserID)
		if err != nil {
			return err
		}

		bal, applied, err := applyEntry(bal, entry)
		if err != nil {
			return err
		}

		result, err = storeEntry(ctx, tx, bal, applied)
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	return result, nil
}
