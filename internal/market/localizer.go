package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// LocalizerConfig tunes REST book localization.
type LocalizerConfig struct {
	BatchWindow  time.Duration // minimum wall time per batch
	ErrorPause   time.Duration // pause after a batch with failures
	MaxErrors    int           // failed batches before giving up
	DefaultBatch int           // batch size when the adapter has none
}

// DefaultLocalizerConfig returns the production settings.
func DefaultLocalizerConfig() LocalizerConfig {
	return LocalizerConfig{
		BatchWindow:  time.Second,
		ErrorPause:   2 * time.Second,
		MaxErrors:    50,
		DefaultBatch: 5,
	}
}

// Localizer keeps books of REST-only exchanges fresh in the cache by
// fetching them in rate-limit sized batches.
type Localizer struct {
	access   *Access
	adapters AdapterLookup
	cfg      LocalizerConfig
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewLocalizer creates a Localizer.
func NewLocalizer(access *Access, adapters AdapterLookup, cfg LocalizerConfig, logger *slog.Logger) *Localizer {
	return &Localizer{
		access:   access,
		adapters: adapters,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "rest_localizer")),
		sleep:    sleepCtx,
	}
}

// Run localizes pairs repeatedly until ctx ends or the error budget is
// spent.
func (l *Localizer) Run(ctx context.Context, id domain.ExchangeID, pairs func(ctx context.Context) ([]string, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		list, err := pairs(ctx)
		if err != nil {
			return fmt.Errorf("market: localize %s: load pairs: %w", id, err)
		}
		start := time.Now()
		failed, err := l.pass(ctx, id, list)
		if err != nil {
			return err
		}
		l.logger.DebugContext(ctx, "localized books",
			slog.String("exchange", id.String()),
			slog.Int("pairs", len(list)),
			slog.Int("failed_batches", failed),
			slog.Duration("elapsed", time.Since(start)),
		)
		if len(list) == 0 {
			if err := l.sleep(ctx, l.cfg.BatchWindow); err != nil {
				return err
			}
		}
	}
}

// LocalizeOnce fetches every pair once and returns how many batches had
// failures.
func (l *Localizer) LocalizeOnce(ctx context.Context, id domain.ExchangeID, pairs []string) (int, error) {
	return l.pass(ctx, id, pairs)
}

func (l *Localizer) pass(ctx context.Context, id domain.ExchangeID, pairs []string) (int, error) {
	adapter, err := l.adapters.Adapter(id)
	if err != nil {
		return 0, fmt.Errorf("market: localize %s: %w", id, err)
	}
	size := adapter.Tweaks().OrderbookBatch
	if size <= 0 {
		size = l.cfg.DefaultBatch
	}

	failed := 0
	for _, batch := range batches(pairs, size) {
		start := time.Now()

		var g errgroup.Group
		for _, pair := range batch {
			g.Go(func() error {
				_, err := l.access.FetchBook(ctx, id, pair)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			failed++
			l.logger.WarnContext(ctx, "orderbook batch failed",
				slog.String("exchange", id.String()),
				slog.Int("error_count", failed),
				slog.String("error", err.Error()),
			)
			if failed >= l.cfg.MaxErrors {
				return failed, fmt.Errorf("market: localize %s: %d failed batches: %w", id, failed, err)
			}
			if err := l.sleep(ctx, l.cfg.ErrorPause); err != nil {
				return failed, err
			}
		}

		if elapsed := time.Since(start); elapsed < l.cfg.BatchWindow {
			if err := l.sleep(ctx, l.cfg.BatchWindow-elapsed+10*time.Millisecond); err != nil {
				return failed, err
			}
		}
	}
	return failed, nil
}

func batches(pairs []string, size int) [][]string {
	var out [][]string
	for len(pairs) > 0 {
		n := size
		if n > len(pairs) {
			n = len(pairs)
		}
		out = append(out, pairs[:n])
		pairs = pairs[n:]
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
