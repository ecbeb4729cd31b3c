package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

func TestNoopReceiptCacheAlwaysMisses(t *testing.T) {
	var c ReceiptCache = NoopReceiptCache{}
	require.NoError(t, c.Set(context.Background(), "acct", &domain.Receipt{ReceiptNo: "REC-1"}, time.Minute))

	got, ok, err := c.Get(context.Background(), "acct", "REC-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestNoopLocker(t *testing.T) {
	lock, err := NoopLocker{}.Obtain(context.Background(), "job:1", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release(context.Background()))
}

func TestReceiptKeyIsScoped(t *testing.T) {
	assert.NotEqual(t, receiptKey("a", "REC-1"), receiptKey("b", "REC-1"))
}

func redisAddr(t *testing.T) string {
	addr := os.Getenv("TECHBIZ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TECHBIZ_TEST_REDIS_ADDR to run redis integration tests")
	}
	return addr
}

func TestRedisReceiptCacheRoundTrip(t *testing.T) {
	client := NewRedisClient(redisAddr(t), "", 0)
	c := NewRedisReceiptCache(client)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	receipt := &domain.Receipt{
		ReceiptNo: "REC-" + uuid.NewString(),
		JobRef:    "SALE-1",
		Amount:    decimal.RequireFromString("2360.00"),
		Subtotal:  decimal.NewFromInt(2000),
		Tax:       decimal.NewFromInt(360),
		ShopName:  domain.DefaultShopName,
	}
	require.NoError(t, c.Set(ctx, "acct", receipt, time.Minute))

	got, ok, err := c.Get(ctx, "acct", receipt.ReceiptNo)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Amount.Equal(receipt.Amount))
	assert.Equal(t, receipt.JobRef, got.JobRef)

	_, ok, err = c.Get(ctx, "other", receipt.ReceiptNo)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockerExcludes(t *testing.T) {
	client := NewRedisClient(redisAddr(t), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	locker.retries = 1
	ctx := context.Background()
	key := "job:" + uuid.NewString()

	lock, err := locker.Obtain(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, key, 5*time.Second)
	require.ErrorIs(t, err, ErrLockNotObtained)

	require.NoError(t, lock.Release(ctx))
	again, err := locker.Obtain(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
