package cache

import (
	"context"
	"time"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

// ReceiptCache holds committed receipt projections. A miss is never an
// error; callers fall back to the ledger.
type ReceiptCache interface {
	Get(ctx context.Context, accountID string, receiptNo string) (*domain.Receipt, bool, error)
	Set(ctx context.Context, accountID string, receipt *domain.Receipt, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string, _ string) (*domain.Receipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ *domain.Receipt, _ time.Duration) error {
	return nil
}

func receiptKey(accountID string, receiptNo string) string {
	return "receipt:" + accountID + ":" + receiptNo
}
