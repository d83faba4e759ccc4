package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Generation is the per-shop cache version that Invalidate bumps after every
// ledger write.
type Generation int64

// ProjectionCache holds batch stock projections for read paths. GetStock
// reports the generation it looked under; a miss is filled by passing that
// same generation to SetStock, so levels read before a concurrent write land
// under the superseded generation and are never served.
type ProjectionCache interface {
	GetStock(ctx context.Context, shopID string, productIDs []string) (map[string]decimal.Decimal, Generation, bool, error)
	SetStock(ctx context.Context, shopID string, gen Generation, productIDs []string, levels map[string]decimal.Decimal, ttl time.Duration) error
	Invalidate(ctx context.Context, shopID string) error
}

type NoopProjectionCache struct{}

func (NoopProjectionCache) GetStock(_ context.Context, _ string, _ []string) (map[string]decimal.Decimal, Generation, bool, error) {
	return nil, 0, false, nil
}

func (NoopProjectionCache) SetStock(_ context.Context, _ string, _ Generation, _ []string, _ map[string]decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopProjectionCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
