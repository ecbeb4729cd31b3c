package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisReceiptCache struct {
	client *redis.Client
}

func NewRedisReceiptCache(client *redis.Client) *RedisReceiptCache {
	return &RedisReceiptCache{client: client}
}

func (c *RedisReceiptCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceiptCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceiptCache) Get(ctx context.Context, accountID string, receiptNo string) (*domain.Receipt, bool, error) {
	val, err := c.client.Get(ctx, receiptKey(accountID, receiptNo)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var receipt domain.Receipt
	if err := json.Unmarshal(val, &receipt); err != nil {
		return nil, false, err
	}
	return &receipt, true, nil
}

func (c *RedisReceiptCache) Set(ctx context.Context, accountID string, receipt *domain.Receipt, ttl time.Duration) error {
	if receipt == nil {
		return nil
	}
	payload, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, receiptKey(accountID, receipt.ReceiptNo), payload, ttl).Err()
}
