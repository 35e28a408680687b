package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// ProductStore implements domain.ProductStore using PostgreSQL.
type ProductStore struct {
	pool *pgxpool.Pool
}

var _ domain.ProductStore = (*ProductStore)(nil)

// NewProductStore creates a ProductStore backed by pool.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

const productSelectCols = `id, exchange_id, ext_id, base_currency, quote_currency,
	volume_24h, volume_24h_stable, status, insufficient_fills, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var exID, status int
	err := row.Scan(&p.ID, &exID, &p.ExtID, &p.BaseCurrency, &p.QuoteCurrency,
		&p.Volume24h, &p.Volume24hStable, &status, &p.InsufficientFills, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.ExchangeID = domain.ExchangeID(exID)
	p.Status = domain.ProductStatus(status)
	return p, nil
}

// Upsert inserts or refreshes a product keyed by exchange and currencies.
// A negative stable volume keeps the stored one; the insufficient-fill
// counter is never reset here.
func (s *ProductStore) Upsert(ctx context.Context, p domain.Product) (domain.Product, error) {
	const query = `
		INSERT INTO products (
			exchange_id, ext_id, base_currency, quote_currency,
			volume_24h, volume_24h_stable, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (exchange_id, base_currency, quote_currency) DO UPDATE SET
			ext_id            = EXCLUDED.ext_id,
			volume_24h        = EXCLUDED.volume_24h,
			volume_24h_stable = CASE WHEN EXCLUDED.volume_24h_stable < 0
			                         THEN products.volume_24h_stable
			                         ELSE EXCLUDED.volume_24h_stable END,
			status            = EXCLUDED.status,
			updated_at        = NOW()
		RETURNING ` + productSelectCols

	status := p.Status
	if status == 0 {
		status = domain.ProductOnline
	}
	row := s.pool.QueryRow(ctx, query,
		int(p.ExchangeID), p.ExtID, p.BaseCurrency, p.QuoteCurrency,
		p.Volume24h, p.Volume24hStable, int(status))
	out, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, fmt.Errorf("postgres: upsert product %s: %w", p.Pair(), err)
	}
	return out, nil
}

// GetByPair looks a product up by its canonical pair.
func (s *ProductStore) GetByPair(ctx context.Context, exchangeID domain.ExchangeID, pair string) (domain.Product, error) {
	base, quote := domain.SplitPair(pair)
	row := s.pool.QueryRow(ctx,
		`SELECT `+productSelectCols+` FROM products
		 WHERE exchange_id = $1 AND base_currency = $2 AND quote_currency = $3`,
		int(exchangeID), base, quote)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("postgres: product %s: %w", pair, domain.ErrNotFound)
		}
		return domain.Product{}, fmt.Errorf("postgres: get product %s: %w", pair, err)
	}
	return p, nil
}

// ListByExchange returns the whole catalog of an exchange, online or not.
func (s *ProductStore) ListByExchange(ctx context.Context, exchangeID domain.ExchangeID) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productSelectCols+` FROM products WHERE exchange_id = $1 ORDER BY id`, int(exchangeID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ProductStore) exec(ctx context.Context, op string, id int64, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: %s product %d: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: product %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *ProductStore) SetStatus(ctx context.Context, id int64, status domain.ProductStatus) error {
	return s.exec(ctx, "set status of", id,
		`UPDATE products SET status = $2, updated_at = NOW() WHERE id = $1`, int(status))
}

func (s *ProductStore) UpdateStableVolume(ctx context.Context, id int64, volume float64) error {
	return s.exec(ctx, "update volume of", id,
		`UPDATE products SET volume_24h_stable = $2, updated_at = NOW() WHERE id = $1`, volume)
}

func (s *ProductStore) IncrementInsufficientFills(ctx context.Context, id int64) error {
	return s.exec(ctx, "count fill of", id,
		`UPDATE products SET insufficient_fills = insufficient_fills + 1 WHERE id = $1`)
}
