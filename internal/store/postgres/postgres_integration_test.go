package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TECHBIZ_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TECHBIZ_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestConcurrentBalanceUpdatesSerialize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	accountID := fmt.Sprintf("acct-it-%d", stamp)
	jobID := fmt.Sprintf("job-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.DB().ExecContext(ctx, `DELETE FROM payments WHERE account_id = $1`, accountID)
		_, _ = s.DB().ExecContext(ctx, `DELETE FROM jobs WHERE account_id = $1`, accountID)
	})

	now := time.Now().UTC()
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertJob(ctx, domain.Job{
			ID: jobID, AccountID: accountID, JobRef: "JOB-" + jobID, Kind: domain.JobKindRepair,
			Status: domain.JobStatusReceived, TotalAmount: decimal.NewFromInt(5000),
			AmountPaid: decimal.Zero, BalanceDue: decimal.NewFromInt(5000), Version: 1,
			CreatedAt: now, UpdatedAt: now,
		})
	}))

	amounts := []int64{1200, 800}
	var wg sync.WaitGroup
	errs := make(chan error, len(amounts))
	for _, amount := range amounts {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			errs <- s.WithinTx(ctx, func(tx store.Tx) error {
				job, err := tx.LockJob(ctx, accountID, jobID)
				if err != nil {
					return err
				}
				job.AmountPaid = job.AmountPaid.Add(decimal.NewFromInt(amount))
				job.BalanceDue = job.TotalAmount.Sub(job.AmountPaid)
				return tx.UpdateJobBalance(ctx, job)
			})
		}(amount)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	job, err := s.GetJob(ctx, accountID, jobID)
	require.NoError(t, err)
	assert.True(t, job.AmountPaid.Equal(decimal.NewFromInt(2000)), "amount_paid %s", job.AmountPaid)
	assert.True(t, job.BalanceDue.Equal(decimal.NewFromInt(3000)), "balance_due %s", job.BalanceDue)
}

func TestDuplicateReceiptIsClassified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	accountID := fmt.Sprintf("acct-dup-%d", stamp)
	jobID := fmt.Sprintf("job-dup-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.DB().ExecContext(ctx, `DELETE FROM payments WHERE account_id = $1`, accountID)
		_, _ = s.DB().ExecContext(ctx, `DELETE FROM jobs WHERE account_id = $1`, accountID)
	})

	now := time.Now().UTC()
	payment := domain.Payment{
		ID: "pay-1-" + jobID, AccountID: accountID, JobID: jobID, ReceiptNo: "REC-" + jobID,
		Amount: decimal.NewFromInt(10), PaymentMethod: domain.PaymentCash, PaymentDate: now,
	}
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertJob(ctx, domain.Job{
			ID: jobID, AccountID: accountID, JobRef: "JOB-" + jobID, Kind: domain.JobKindRepair,
			Status: domain.JobStatusReceived, TotalAmount: decimal.NewFromInt(10),
			BalanceDue: decimal.NewFromInt(10), Version: 1, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, payment)
	}))

	payment.ID = "pay-2-" + jobID
	err := s.WithinTx(ctx, func(tx store.Tx) error { return tx.InsertPayment(ctx, payment) })
	require.ErrorIs(t, err, store.ErrDuplicate)
}
