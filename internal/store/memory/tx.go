package memory

import (
	"context"
	"time"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

// tx works on staged state owned by the enclosing WithinTx call.
type tx struct {
	st  *state
	now time.Time
}

func (t *tx) GetSettings(_ context.Context, accountID string) (domain.AccountSettings, error) {
	return t.st.getSettings(accountID), nil
}

func (t *tx) GetCustomer(_ context.Context, accountID string, id string) (domain.Customer, error) {
	return t.st.getCustomer(accountID, id)
}

func (t *tx) FindJobByRef(_ context.Context, accountID string, ref string) (*domain.Job, error) {
	return t.st.findJobByRef(accountID, ref), nil
}

func (t *tx) FindPaymentByReceipt(_ context.Context, accountID string, receiptNo string) (*domain.Payment, error) {
	return t.st.findPaymentByReceipt(accountID, receiptNo), nil
}

func (t *tx) ListLineItems(_ context.Context, accountID string, jobID string) ([]domain.JobLineItem, error) {
	return t.st.listLineItems(accountID, jobID), nil
}

func (t *tx) LockInventory(_ context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error) {
	return t.st.inventoryItems(accountID, ids), nil
}

func (t *tx) LockJob(_ context.Context, accountID string, id string) (domain.Job, error) {
	return t.st.getJob(accountID, id)
}

func (t *tx) InsertJob(_ context.Context, job domain.Job) error {
	return t.st.insertJob(job)
}

func (t *tx) InsertLineItems(_ context.Context, items []domain.JobLineItem) error {
	return t.st.insertLineItems(items)
}

func (t *tx) InsertPayment(_ context.Context, payment domain.Payment) error {
	return t.st.insertPayment(payment)
}

func (t *tx) UpdateInventory(_ context.Context, accountID string, changes []domain.StockChange) error {
	return t.st.updateInventory(accountID, changes)
}

func (t *tx) UpdateJobBalance(_ context.Context, job domain.Job) error {
	return t.st.updateJobBalance(job, t.now)
}
