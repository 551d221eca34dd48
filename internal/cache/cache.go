package cache

import (
	"context"
	"time"
)

// BytesCache is the best-effort byte cache used for read-side data
// (available-counts and similar). Implementations must treat misses
// as (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
