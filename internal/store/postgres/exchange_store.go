package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// ExchangeStore implements domain.ExchangeStore using PostgreSQL.
type ExchangeStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExchangeStore = (*ExchangeStore)(nil)

// NewExchangeStore creates an ExchangeStore backed by pool.
func NewExchangeStore(pool *pgxpool.Pool) *ExchangeStore {
	return &ExchangeStore{pool: pool}
}

const exchangeSelectCols = `id, name, active, funds, funds_currency, ex_lock,
	localize_type, sandbox, updated_at`

func scanExchange(row rowScanner) (domain.Exchange, error) {
	var ex domain.Exchange
	var id, lock, localize int
	err := row.Scan(&id, &ex.Name, &ex.Active, &ex.Funds, &ex.FundsCurrency, &lock,
		&localize, &ex.Sandbox, &ex.UpdatedAt)
	if err != nil {
		return domain.Exchange{}, err
	}
	ex.ID = domain.ExchangeID(id)
	ex.Lock = domain.ExchangeLock(lock)
	ex.LocalizeType = domain.LocalizeType(localize)
	return ex, nil
}

// GetByID retrieves one exchange.
func (s *ExchangeStore) GetByID(ctx context.Context, id domain.ExchangeID) (domain.Exchange, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+exchangeSelectCols+` FROM exchanges WHERE id = $1`, int(id))
	ex, err := scanExchange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Exchange{}, fmt.Errorf("postgres: exchange %s: %w", id, domain.ErrNotFound)
		}
		return domain.Exchange{}, fmt.Errorf("postgres: get exchange %s: %w", id, err)
	}
	return ex, nil
}

// ListActive returns every active exchange ordered by id.
func (s *ExchangeStore) ListActive(ctx context.Context) ([]domain.Exchange, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+exchangeSelectCols+` FROM exchanges WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exchanges: %w", err)
	}
	defer rows.Close()

	var out []domain.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Upsert writes the configuration of an exchange. The lock column is left
// alone so a running trade keeps its lock across config syncs.
func (s *ExchangeStore) Upsert(ctx context.Context, ex domain.Exchange) error {
	const query = `
		INSERT INTO exchanges (id, name, active, funds, funds_currency, localize_type, sandbox, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name           = EXCLUDED.name,
			active         = EXCLUDED.active,
			funds          = EXCLUDED.funds,
			funds_currency = EXCLUDED.funds_currency,
			localize_type  = EXCLUDED.localize_type,
			sandbox        = EXCLUDED.sandbox,
			updated_at     = NOW()`

	name := ex.Name
	if name == "" {
		name = ex.ID.String()
	}
	_, err := s.pool.Exec(ctx, query,
		int(ex.ID), name, ex.Active, ex.Funds, ex.FundsCurrency, int(ex.LocalizeType), ex.Sandbox)
	if err != nil {
		return fmt.Errorf("postgres: upsert exchange %s: %w", ex.ID, err)
	}
	return nil
}

// AcquireLock sets the lock only while the exchange is unlocked.
func (s *ExchangeStore) AcquireLock(ctx context.Context, id domain.ExchangeID, lock domain.ExchangeLock) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exchanges SET ex_lock = $2, updated_at = NOW() WHERE id = $1 AND ex_lock = 0`,
		int(id), int(lock))
	if err != nil {
		return fmt.Errorf("postgres: acquire exchange lock %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("postgres: exchange %s: %w", id, domain.ErrExchangeLocked)
}

// ReleaseLock clears a held lock.
func (s *ExchangeStore) ReleaseLock(ctx context.Context, id domain.ExchangeID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exchanges SET ex_lock = 0, updated_at = NOW() WHERE id = $1 AND ex_lock <> 0`, int(id))
	if err != nil {
		return fmt.Errorf("postgres: release exchange lock %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: exchange %s not locked: %w", id, domain.ErrNotFound)
	}
	return nil
}
