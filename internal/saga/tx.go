package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
)

type stage int

const (
	stageNone stage = iota
	stageJob
	stageLineItems
	stagePayment
	stageInventory
	stageBalance
)

func (s stage) String() string {
	switch s {
	case stageJob:
		return "job"
	case stageLineItems:
		return "line_items"
	case stagePayment:
		return "payment"
	case stageInventory:
		return "inventory"
	case stageBalance:
		return "balance"
	}
	return "none"
}

type step struct {
	stage stage
	undo  func(ctx context.Context) error
}

type tx struct {
	tables Tables
	last   stage
	steps  []step
}

func (t *tx) advance(next stage) error {
	if next < t.last {
		return fmt.Errorf("%w: %s after %s", ErrWriteOrder, next, t.last)
	}
	t.last = next
	return nil
}

func (t *tx) record(s stage, undo func(ctx context.Context) error) {
	t.steps = append(t.steps, step{stage: s, undo: undo})
}

func (t *tx) stepNames() []string {
	names := make([]string, 0, len(t.steps))
	for _, s := range t.steps {
		names = append(names, s.stage.String())
	}
	return names
}

// compensate undoes recorded steps newest first and keeps going past
// failures so as much as possible is restored.
func (t *tx) compensate(ctx context.Context) []error {
	var failures []error
	for i := len(t.steps) - 1; i >= 0; i-- {
		if err := t.steps[i].undo(ctx); err != nil {
			failures = append(failures, fmt.Errorf("undo %s: %w", t.steps[i].stage, err))
		}
	}
	return failures
}

func (t *tx) GetSettings(ctx context.Context, accountID string) (domain.AccountSettings, error) {
	return t.tables.GetSettings(ctx, accountID)
}

func (t *tx) GetCustomer(ctx context.Context, accountID string, id string) (domain.Customer, error) {
	return t.tables.GetCustomer(ctx, accountID, id)
}

func (t *tx) FindJobByRef(ctx context.Context, accountID string, ref string) (*domain.Job, error) {
	job, err := t.tables.GetJobByRef(ctx, accountID, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *tx) FindPaymentByReceipt(ctx context.Context, accountID string, receiptNo string) (*domain.Payment, error) {
	p, err := t.tables.GetPaymentByReceipt(ctx, accountID, receiptNo)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) ListLineItems(ctx context.Context, accountID string, jobID string) ([]domain.JobLineItem, error) {
	return t.tables.ListLineItems(ctx, accountID, jobID)
}

// LockInventory cannot lock; conflicting writers are caught by the version
// check in UpdateInventory.
func (t *tx) LockInventory(ctx context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error) {
	return t.tables.GetInventoryItems(ctx, accountID, ids)
}

func (t *tx) LockJob(ctx context.Context, accountID string, id string) (domain.Job, error) {
	return t.tables.GetJob(ctx, accountID, id)
}

func (t *tx) InsertJob(ctx context.Context, job domain.Job) error {
	if err := t.advance(stageJob); err != nil {
		return err
	}
	if err := t.tables.InsertJob(ctx, job); err != nil {
		return err
	}
	t.record(stageJob, func(ctx context.Context) error {
		return t.tables.DeleteJob(ctx, job.AccountID, job.ID)
	})
	return nil
}

func (t *tx) InsertLineItems(ctx context.Context, items []domain.JobLineItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := t.advance(stageLineItems); err != nil {
		return err
	}
	if err := t.tables.InsertLineItems(ctx, items); err != nil {
		return err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	accountID, jobID := items[0].AccountID, items[0].JobID
	t.record(stageLineItems, func(ctx context.Context) error {
		return t.tables.DeleteLineItems(ctx, accountID, jobID, ids)
	})
	return nil
}

func (t *tx) InsertPayment(ctx context.Context, payment domain.Payment) error {
	if err := t.advance(stagePayment); err != nil {
		return err
	}
	if err := t.tables.InsertPayment(ctx, payment); err != nil {
		return err
	}
	t.record(stagePayment, func(ctx context.Context) error {
		return t.tables.DeletePayment(ctx, payment.AccountID, payment.JobID, payment.ID)
	})
	return nil
}

func (t *tx) UpdateInventory(ctx context.Context, accountID string, changes []domain.StockChange) error {
	if len(changes) == 0 {
		return nil
	}
	if err := t.advance(stageInventory); err != nil {
		return err
	}
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ItemID)
	}
	before, err := t.tables.GetInventoryItems(ctx, accountID, ids)
	if err != nil {
		return err
	}
	restore := make([]domain.StockChange, 0, len(changes))
	for _, c := range changes {
		prev, ok := before[c.ItemID]
		if !ok {
			return domain.NotFound("inventory item", c.ItemID)
		}
		if prev.Version != c.ExpectedVersion {
			return store.ErrConcurrentModification
		}
		restore = append(restore, domain.StockChange{
			ItemID:          c.ItemID,
			Quantity:        prev.Quantity,
			ExpectedVersion: c.ExpectedVersion + 1,
		})
	}
	if err := t.tables.UpdateInventory(ctx, accountID, changes); err != nil {
		return err
	}
	t.record(stageInventory, func(ctx context.Context) error {
		return t.tables.UpdateInventory(ctx, accountID, restore)
	})
	return nil
}

func (t *tx) UpdateJobBalance(ctx context.Context, job domain.Job) error {
	if err := t.advance(stageBalance); err != nil {
		return err
	}
	prev, err := t.tables.GetJob(ctx, job.AccountID, job.ID)
	if err != nil {
		return err
	}
	if err := t.tables.UpdateJobBalance(ctx, job); err != nil {
		return err
	}
	prev.Version = job.Version + 1
	t.record(stageBalance, func(ctx context.Context) error {
		return t.tables.UpdateJobBalance(ctx, prev)
	})
	return nil
}
