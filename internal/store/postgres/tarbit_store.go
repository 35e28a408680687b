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

// TarbitStore implements domain.TarbitStore using PostgreSQL.
type TarbitStore struct {
	pool *pgxpool.Pool
}

var _ domain.TarbitStore = (*TarbitStore)(nil)

// NewTarbitStore creates a TarbitStore backed by pool.
func NewTarbitStore(pool *pgxpool.Pool) *TarbitStore {
	return &TarbitStore{pool: pool}
}

const tarbitSelectCols = `id, exchange_id, parent_id, quote_currency, pair1, pair2, pair3,
	est_net, est_base_size,
	est_price1, est_size1, est_fee1,
	est_price2, est_size2, est_fee2,
	est_price3, est_size3, est_fee3,
	order_id1, order_id2, order_id3, net, status, created_at, updated_at`

func scanTarbit(row rowScanner) (domain.TriangleArbit, error) {
	var a domain.TriangleArbit
	var exID, status int
	err := row.Scan(
		&a.ID, &exID, &a.ParentID, &a.QuoteCurrency, &a.Pair1, &a.Pair2, &a.Pair3,
		&a.EstNet, &a.EstBaseSize,
		&a.EstPrice1, &a.EstSize1, &a.EstFee1,
		&a.EstPrice2, &a.EstSize2, &a.EstFee2,
		&a.EstPrice3, &a.EstSize3, &a.EstFee3,
		&a.OrderID1, &a.OrderID2, &a.OrderID3, &a.Net, &status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.TriangleArbit{}, err
	}
	a.ExchangeID = domain.ExchangeID(exID)
	a.Status = domain.ArbitStatus(status)
	return a, nil
}

func scanTarbits(rows pgx.Rows) ([]domain.TriangleArbit, error) {
	defer rows.Close()
	var out []domain.TriangleArbit
	for rows.Next() {
		a, err := scanTarbit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts an estimate and returns the stored record.
func (s *TarbitStore) Create(ctx context.Context, a domain.TriangleArbit) (domain.TriangleArbit, error) {
	const query = `
		INSERT INTO tarbits (
			exchange_id, parent_id, quote_currency, pair1, pair2, pair3,
			est_net, est_base_size,
			est_price1, est_size1, est_fee1,
			est_price2, est_size2, est_fee2,
			est_price3, est_size3, est_fee3,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16, $17,
			$18, NOW(), NOW()
		)
		RETURNING ` + tarbitSelectCols

	status := a.Status
	if status == 0 {
		status = domain.ArbitCreated
	}
	row := s.pool.QueryRow(ctx, query,
		int(a.ExchangeID), a.ParentID, a.QuoteCurrency, a.Pair1, a.Pair2, a.Pair3,
		a.EstNet, a.EstBaseSize,
		a.EstPrice1, a.EstSize1, a.EstFee1,
		a.EstPrice2, a.EstSize2, a.EstFee2,
		a.EstPrice3, a.EstSize3, a.EstFee3,
		int(status),
	)
	out, err := scanTarbit(row)
	if err != nil {
		return domain.TriangleArbit{}, fmt.Errorf("postgres: create tarbit %s/%s/%s: %w", a.Pair1, a.Pair2, a.Pair3, err)
	}
	return out, nil
}

// GetByID retrieves one triangle arbitrage.
func (s *TarbitStore) GetByID(ctx context.Context, id int64) (domain.TriangleArbit, error) {
	a, err := scanTarbit(s.pool.QueryRow(ctx, `SELECT `+tarbitSelectCols+` FROM tarbits WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TriangleArbit{}, fmt.Errorf("postgres: tarbit %d: %w", id, domain.ErrNotFound)
		}
		return domain.TriangleArbit{}, fmt.Errorf("postgres: get tarbit %d: %w", id, err)
	}
	return a, nil
}

func (s *TarbitStore) exec(ctx context.Context, op string, id int64, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: %s tarbit %d: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: tarbit %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *TarbitStore) UpdateStatus(ctx context.Context, id int64, status domain.ArbitStatus) error {
	return s.exec(ctx, "update status of", id,
		`UPDATE tarbits SET status = $2, updated_at = NOW() WHERE id = $1`, int(status))
}

// SetOrderID records the order of leg 1, 2 or 3.
func (s *TarbitStore) SetOrderID(ctx context.Context, id int64, leg int, orderID int64) error {
	var col string
	switch leg {
	case 1:
		col = "order_id1"
	case 2:
		col = "order_id2"
	case 3:
		col = "order_id3"
	default:
		return fmt.Errorf("postgres: tarbit %d leg %d: %w", id, leg, domain.ErrInvalidState)
	}
	return s.exec(ctx, "set order of", id,
		`UPDATE tarbits SET `+col+` = $2, updated_at = NOW() WHERE id = $1`, orderID)
}

func (s *TarbitStore) SetNet(ctx context.Context, id int64, net float64) error {
	return s.exec(ctx, "set net of", id,
		`UPDATE tarbits SET net = $2, updated_at = NOW() WHERE id = $1`, net)
}

// ListRecent returns the newest records first. exchangeID 0 spans every
// exchange.
func (s *TarbitStore) ListRecent(ctx context.Context, exchangeID domain.ExchangeID, limit int) ([]domain.TriangleArbit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tarbitSelectCols+` FROM tarbits
		 WHERE ($1 = 0 OR exchange_id = $1)
		 ORDER BY id DESC LIMIT $2`, int(exchangeID), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent tarbits: %w", err)
	}
	out, err := scanTarbits(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tarbits: %w", err)
	}
	return out, nil
}

// ListFinishedBefore returns completed or failed records last touched
// before the cutoff.
func (s *TarbitStore) ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.TriangleArbit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tarbitSelectCols+` FROM tarbits
		 WHERE status IN ($1, $2) AND updated_at < $3
		 ORDER BY id`, int(domain.ArbitCompleted), int(domain.ArbitFailed), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finished tarbits: %w", err)
	}
	out, err := scanTarbits(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tarbits: %w", err)
	}
	return out, nil
}

// CountByStatus groups the records of one exchange, or all with id 0.
func (s *TarbitStore) CountByStatus(ctx context.Context, exchangeID domain.ExchangeID) (map[domain.ArbitStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM tarbits
		 WHERE ($1 = 0 OR exchange_id = $1)
		 GROUP BY status`, int(exchangeID))
	if err != nil {
		return nil, fmt.Errorf("postgres: count tarbits: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ArbitStatus]int64)
	for rows.Next() {
		var status int
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan tarbit count: %w", err)
		}
		out[domain.ArbitStatus(status)] = n
	}
	return out, rows.Err()
}
