package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates an OrderStore backed by pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, exchange_id, ext_id, uuid, parent_id, order_type, pair,
	size, price, open_price, open_date, fill_price, fill_date, fill_fee,
	order_lock, status, sandbox, created_at, updated_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var exID, typ, lock, status int
	err := row.Scan(
		&o.ID, &exID, &o.ExtID, &o.UUID, &o.ParentID, &typ, &o.Pair,
		&o.Size, &o.Price, &o.OpenPrice, &o.OpenDate, &o.FillPrice, &o.FillDate, &o.FillFee,
		&lock, &status, &o.Sandbox, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.ExchangeID = domain.ExchangeID(exID)
	o.Type = domain.OrderType(typ)
	o.Lock = domain.OrderLock(lock)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a new order and returns it with its id and timestamps.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	const query = `
		INSERT INTO orders (
			exchange_id, ext_id, uuid, parent_id, order_type, pair,
			size, price, order_lock, status, sandbox, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, NOW(), NOW()
		)
		RETURNING ` + orderSelectCols

	row := s.pool.QueryRow(ctx, query,
		int(o.ExchangeID), o.ExtID, o.UUID, o.ParentID, int(o.Type), o.Pair,
		o.Size, o.Price, int(o.Lock), int(o.Status), o.Sandbox,
	)
	out, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: create order %s: %w", o.UUID, err)
	}
	return out, nil
}

// GetByID retrieves a single order.
func (s *OrderStore) GetByID(ctx context.Context, id int64) (domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %d: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// Update writes every exchange-driven field. The lock column is owned by
// Lock and Unlock.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			ext_id     = $2,
			size       = $3,
			price      = $4,
			open_price = $5,
			open_date  = $6,
			fill_price = $7,
			fill_date  = $8,
			fill_fee   = $9,
			status     = $10,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.ExtID, o.Size, o.Price, o.OpenPrice, o.OpenDate,
		o.FillPrice, o.FillDate, o.FillFee, int(o.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: order %d: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

// Lock takes the order row for one operation.
func (s *OrderStore) Lock(ctx context.Context, id int64, lock domain.OrderLock) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET order_lock = $2, updated_at = NOW() WHERE id = $1 AND order_lock = 0`,
		id, int(lock))
	if err != nil {
		return fmt.Errorf("postgres: lock order %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("postgres: order %d: %w", id, domain.ErrOrderLocked)
}

// Unlock clears any order lock.
func (s *OrderStore) Unlock(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET order_lock = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: unlock order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: order %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListBefore returns orders created before the cutoff, oldest first.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE created_at < $1 ORDER BY id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
