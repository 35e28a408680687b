package domain

import (
	"context"
	"time"
)

// ArchiveBucket is the cold-storage destination of archived records.
// Objects are written once and never replaced.
type ArchiveBucket interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, body []byte) error
}

// Archiver copies finished records older than a cutoff to an ArchiveBucket
// and reports how many were written.
type Archiver interface {
	ArchiveTarbits(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}
