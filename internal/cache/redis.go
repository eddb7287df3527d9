package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oggyb/muzz-commitments/internal/config"
	"github.com/redis/go-redis/v9"
)

// walletTTL bounds staleness of the balance mirror; reads refresh it.
const walletTTL = time.Hour

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

// KeyForWalletBalance generates the Redis key mirroring a user's wallet.
func (c *RedisCache) KeyForWalletBalance(userID uint64) string {
	return fmt.Sprintf("wallet:balance:%d", userID)
}

// GetWalletBalance reads the mirrored balance. The second return value
// is false on cache miss; the ledger is the source of truth, so callers
// fall back to the DB and repopulate via SetWalletBalance.
func (c *RedisCache) GetWalletBalance(ctx context.Context, userID uint64) (int64, bool, error) {
	key := c.KeyForWalletBalance(userID)
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil // cache miss
	} else if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	// refresh TTL on access
	_ = c.Client.Expire(ctx, key, walletTTL).Err()
	return n, true, nil
}

// SetWalletBalance repopulates the mirror after a DB read.
func (c *RedisCache) SetWalletBalance(ctx context.Context, userID uint64, balanceCents int64) error {
	return c.Client.Set(ctx, c.KeyForWalletBalance(userID), balanceCents, walletTTL).Err()
}

// InvalidateWalletBalance drops the mirror after any ledger mutation.
// A plain delete keeps the mirror correct under concurrent writers; the
// next read repopulates from the wallet row.
func (c *RedisCache) InvalidateWalletBalance(ctx context.Context, userID uint64) error {
	return c.Client.Del(ctx, c.KeyForWalletBalance(userID)).Err()
}
