package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// ConvertStore implements domain.ConvertStore using PostgreSQL.
type ConvertStore struct {
	pool *pgxpool.Pool
}

var _ domain.ConvertStore = (*ConvertStore)(nil)

// NewConvertStore creates a ConvertStore backed by pool.
func NewConvertStore(pool *pgxpool.Pool) *ConvertStore {
	return &ConvertStore{pool: pool}
}

// Upsert stores the latest rate for a currency pair.
func (s *ConvertStore) Upsert(ctx context.Context, c domain.CurrencyConvert) error {
	const query = `
		INSERT INTO currency_converts (base_currency, quote_currency, rate, source, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (base_currency, quote_currency) DO UPDATE SET
			rate       = EXCLUDED.rate,
			source     = EXCLUDED.source,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, c.BaseCurrency, c.QuoteCurrency, c.Rate, c.Source); err != nil {
		return fmt.Errorf("postgres: upsert convert %s-%s: %w", c.BaseCurrency, c.QuoteCurrency, err)
	}
	return nil
}

// FindByBase returns every stored rate whose base is in bases.
func (s *ConvertStore) FindByBase(ctx context.Context, bases []string) ([]domain.CurrencyConvert, error) {
	if len(bases) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT base_currency, quote_currency, rate, source, updated_at
		 FROM currency_converts WHERE base_currency = ANY($1)
		 ORDER BY base_currency, quote_currency`, bases)
	if err != nil {
		return nil, fmt.Errorf("postgres: find converts: %w", err)
	}
	defer rows.Close()

	var out []domain.CurrencyConvert
	for rows.Next() {
		var c domain.CurrencyConvert
		if err := rows.Scan(&c.BaseCurrency, &c.QuoteCurrency, &c.Rate, &c.Source, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan convert: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
