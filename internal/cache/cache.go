package cache

import (
	"context"
	"time"
)

// ReportCache stores serialized analytics payloads. Version returns a
// per-nursery cache generation; Bump advances it, which invalidates every
// key that embeds the old generation without scanning the keyspace.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Version(ctx context.Context, nurseryID string) (int64, error)
	Bump(ctx context.Context, nurseryID string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Version(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Bump(_ context.Context, _ string) error {
	return nil
}
