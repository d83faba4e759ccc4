package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisProjectionCache struct {
	client *redis.Client
	prefix string
}

func NewRedisProjectionCache(addr string, password string, db int) *RedisProjectionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProjectionCache{client: client, prefix: "cartpos"}
}

func (c *RedisProjectionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProjectionCache) Close() error {
	return c.client.Close()
}

func (c *RedisProjectionCache) GetStock(ctx context.Context, shopID string, productIDs []string) (map[string]decimal.Decimal, Generation, bool, error) {
	gen, err := c.generation(ctx, shopID)
	if err != nil {
		return nil, 0, false, err
	}
	val, err := c.client.Get(ctx, c.stockKey(shopID, gen, productIDs)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, err
	}

	var levels map[string]decimal.Decimal
	if err := json.Unmarshal([]byte(val), &levels); err != nil {
		return nil, gen, false, err
	}
	return levels, gen, true, nil
}

// SetStock writes under gen, the generation GetStock reported, not the
// current one.
func (c *RedisProjectionCache) SetStock(ctx context.Context, shopID string, gen Generation, productIDs []string, levels map[string]decimal.Decimal, ttl time.Duration) error {
	if levels == nil {
		return nil
	}
	payload, err := json.Marshal(levels)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.stockKey(shopID, gen, productIDs), payload, ttl).Err()
}

func (c *RedisProjectionCache) Invalidate(ctx context.Context, shopID string) error {
	return c.client.Incr(ctx, c.generationKey(shopID)).Err()
}

func (c *RedisProjectionCache) generation(ctx context.Context, shopID string) (Generation, error) {
	gen, err := c.client.Get(ctx, c.generationKey(shopID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return Generation(gen), nil
}

func (c *RedisProjectionCache) generationKey(shopID string) string {
	return fmt.Sprintf("%s:stockgen:%s", c.prefix, shopID)
}

func (c *RedisProjectionCache) stockKey(shopID string, gen Generation, productIDs []string) string {
	return fmt.Sprintf("%s:stock:%s:%d:%s", c.prefix, shopID, gen, productSetHash(productIDs))
}

func productSetHash(productIDs []string) string {
	if len(productIDs) == 0 {
		return "all"
	}
	sorted := slices.Clone(productIDs)
	slices.Sort(sorted)
	sum := sha1.Sum([]byte(strings.Join(slices.Compact(sorted), ",")))
	return hex.EncodeToString(sum[:])
}
