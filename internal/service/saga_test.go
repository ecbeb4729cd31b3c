package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/saga"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store/memory"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/xid"
)

type flakyTables struct {
	memory.Tables
	failBalance       bool
	failDeletePayment bool
}

func (f flakyTables) UpdateJobBalance(ctx context.Context, job domain.Job) error {
	if f.failBalance {
		return errInjected
	}
	return f.Tables.UpdateJobBalance(ctx, job)
}

func (f flakyTables) DeletePayment(ctx context.Context, accountID string, jobID string, id string) error {
	if f.failDeletePayment {
		return errors.New("payments table unavailable")
	}
	return f.Tables.DeletePayment(ctx, accountID, jobID, id)
}

func newSagaService(tables saga.Tables) *Service {
	return New(saga.New(tables, quietLogger()), nil, nil, quietLogger(), Options{})
}

func intentStatuses(repo *memory.Store) map[saga.IntentStatus]int {
	out := map[saga.IntentStatus]int{}
	for _, intent := range repo.Intents() {
		out[intent.Status]++
	}
	return out
}

func TestSagaLedgerRecordsSale(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newSagaService(repo.Tables())
	stockItem(t, repo, account, "item-x", 10, "1000")

	res, err := svc.RecordSale(context.Background(), account, sale("saga-ok", domain.CartLine{
		InventoryItemID: "item-x", Quantity: 2, UnitPrice: money("1000"),
	}))
	require.NoError(t, err)
	assertMoney(t, "2360", res.Job.AmountPaid)
	assertMoney(t, "0", res.Job.BalanceDue)
	assert.Equal(t, 8, quantityOf(t, repo, account, "item-x"))

	job, err := repo.GetJob(context.Background(), account, res.Job.ID)
	require.NoError(t, err)
	assertMoney(t, "0", job.BalanceDue)

	intents := repo.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, saga.IntentCommitted, intents[0].Status)
	assert.Equal(t, []string{"job", "line_items", "payment", "inventory", "balance"}, intents[0].Steps)
}

func TestSagaLedgerCompensatesFailedSale(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newSagaService(flakyTables{Tables: repo.Tables(), failBalance: true})
	ctx := context.Background()

	_, err := svc.RecordSale(ctx, account, sale("saga-fail", domain.CartLine{
		InventoryItemID: "inv-battery-ip11", Quantity: 2, UnitPrice: money("60000"),
	}))
	require.ErrorIs(t, err, domain.ErrTransactionAborted)
	require.ErrorIs(t, err, errInjected)

	items, err := repo.GetInventoryItems(ctx, account, []string{"inv-battery-ip11"})
	require.NoError(t, err)
	assert.Equal(t, 5, items["inv-battery-ip11"].Quantity)
	assert.Equal(t, int64(3), items["inv-battery-ip11"].Version, "deduction and restore both bump the version")

	_, err = repo.GetJobByRef(ctx, account, reference(xid.PrefixSale, account, "sale", "saga-fail"))
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetPaymentByReceipt(ctx, account, reference(xid.PrefixReceipt, account, "sale", "saga-fail"))
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, map[saga.IntentStatus]int{saga.IntentCompensated: 1}, intentStatuses(repo))
}

func TestSagaLedgerReportsFailedCompensation(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newSagaService(flakyTables{Tables: repo.Tables(), failBalance: true, failDeletePayment: true})

	_, err := svc.RecordSale(context.Background(), account, sale("saga-broken", domain.CartLine{
		InventoryItemID: "inv-battery-ip11", Quantity: 1, UnitPrice: money("60000"),
	}))
	require.ErrorIs(t, err, domain.ErrTransactionAborted)
	require.ErrorIs(t, err, store.ErrCompensationFailed)

	assert.Equal(t, 5, quantityOf(t, repo, account, "inv-battery-ip11"), "later undo steps still ran")
	assert.Equal(t, map[saga.IntentStatus]int{saga.IntentCompensationFailed: 1}, intentStatuses(repo))
}

func TestSagaLedgerLosesNoConcurrentPayment(t *testing.T) {
	repo := memory.NewSeeded()
	svc := newSagaService(repo.Tables())
	ctx := context.Background()
	job := openRepairJob(t, svc, otherAccount, "10000")

	const payers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordPayment(ctx, otherAccount, pay(job.ID, "100", fmt.Sprintf("race-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, domain.ErrTransactionAborted):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Positive(t, applied)
	ledger, err := svc.GetJobLedger(ctx, otherAccount, job.ID)
	require.NoError(t, err)
	assert.Len(t, ledger.Payments, applied)
	assertMoney(t, fmt.Sprintf("%d", applied*100), ledger.Job.AmountPaid)
	assertMoney(t, fmt.Sprintf("%d", 10000-applied*100), ledger.Job.BalanceDue)
}

// racingTables runs sell between the payment and inventory writes of a saga
// unit, the window where another till can take the same stock.
type racingTables struct {
	memory.Tables
	sell func()
}

func (r racingTables) InsertPayment(ctx context.Context, payment domain.Payment) error {
	if err := r.Tables.InsertPayment(ctx, payment); err != nil {
		return err
	}
	r.sell()
	return nil
}

func racingSaga(t *testing.T, repo *memory.Store, itemID string, qty int) *Service {
	t.Helper()
	rival := New(repo, nil, nil, quietLogger(), Options{})
	var once sync.Once
	return newSagaService(racingTables{Tables: repo.Tables(), sell: func() {
		once.Do(func() {
			_, err := rival.RecordSale(context.Background(), account, sale("rival", domain.CartLine{
				InventoryItemID: itemID, Quantity: qty, UnitPrice: money("500"),
			}))
			require.NoError(t, err)
		})
	}})
}

func TestSagaLedgerLosingLastUnitReportsInsufficientStock(t *testing.T) {
	repo := memory.NewSeeded()
	stockItem(t, repo, account, "item-last", 1, "500")
	svc := racingSaga(t, repo, "item-last", 1)
	ctx := context.Background()

	_, err := svc.RecordSale(ctx, account, sale("late", domain.CartLine{
		InventoryItemID: "item-last", Quantity: 1, UnitPrice: money("500"),
	}))

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "item-last", stockErr.ItemID)
	assert.Equal(t, 0, stockErr.Available)
	assert.Equal(t, 1, stockErr.Requested)

	assert.Equal(t, 0, quantityOf(t, repo, account, "item-last"))
	_, err = repo.GetJobByRef(ctx, account, reference(xid.PrefixSale, account, "sale", "late"))
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, intentStatuses(repo)[saga.IntentCompensated])
}

func TestSagaLedgerRaceWithStockLeftIsRetryable(t *testing.T) {
	repo := memory.NewSeeded()
	stockItem(t, repo, account, "item-many", 5, "500")
	svc := racingSaga(t, repo, "item-many", 1)

	_, err := svc.RecordSale(context.Background(), account, sale("late", domain.CartLine{
		InventoryItemID: "item-many", Quantity: 2, UnitPrice: money("500"),
	}))

	require.ErrorIs(t, err, domain.ErrTransactionAborted)
	require.ErrorIs(t, err, store.ErrConcurrentModification)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 4, quantityOf(t, repo, account, "item-many"))
}
