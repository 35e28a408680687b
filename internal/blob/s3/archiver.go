package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// TarbitArchiveStore is the slice of domain.TarbitStore the archiver reads.
type TarbitArchiveStore interface {
	ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.TriangleArbit, error)
}

// OrderArchiveStore is the slice of domain.OrderStore the archiver reads.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// Archiver implements domain.Archiver. Finished tarbits and orders created
// before a cutoff are written as one JSONL object per run. Rows are never
// deleted here; pruning happens after the archive has been verified.
type Archiver struct {
	bucket  domain.ArchiveBucket
	tarbits TarbitArchiveStore
	orders  OrderArchiveStore
	logger  *slog.Logger
	now     func() time.Time
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver.
func NewArchiver(bucket domain.ArchiveBucket, tarbits TarbitArchiveStore, orders OrderArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		bucket:  bucket,
		tarbits: tarbits,
		orders:  orders,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// ArchiveTarbits uploads finished tarbits created before the cutoff to
// archive/tarbits/YYYY-MM-DD.jsonl and returns the record count.
func (a *Archiver) ArchiveTarbits(ctx context.Context, before time.Time) (int64, error) {
	arbs, err := a.tarbits.ListFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive tarbits query: %w", err)
	}
	return archive(ctx, a, "tarbits", before, arbs)
}

// ArchiveOrders uploads orders created before the cutoff to
// archive/orders/YYYY-MM-DD.jsonl and returns the record count.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, "orders", before, orders)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	key, err := a.freeKey(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	if err := a.bucket.Upload(ctx, key, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "archived",
		slog.String("kind", kind),
		slog.String("key", key),
		slog.Int("bytes", len(buf)),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// freeKey returns the day key for the cutoff, or a run-stamped variant
// when an earlier run already wrote that day.
func (a *Archiver) freeKey(ctx context.Context, kind string, before time.Time) (string, error) {
	key := archivePath(kind, before, time.Time{})
	taken, err := a.bucket.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if taken {
		key = archivePath(kind, before, a.now())
	}
	return key, nil
}

// archivePath builds the object key for an archive file.
//
//	archive/tarbits/2026-10-01.jsonl
//	archive/orders/2026-10-01-1791072000.jsonl
func archivePath(kind string, before, run time.Time) string {
	day := before.UTC().Format("2006-01-02")
	if run.IsZero() {
		return fmt.Sprintf("archive/%s/%s.jsonl", kind, day)
	}
	return fmt.Sprintf("archive/%s/%s-%d.jsonl", kind, day, run.Unix())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	for i, rec := range records {
		line, err := sonnet.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
