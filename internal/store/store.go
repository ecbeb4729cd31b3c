package store

import (
	"context"
	"errors"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

var (
	// ErrDuplicate is returned when a unique job_ref or receipt_no already exists.
	ErrDuplicate = errors.New("duplicate key")
	// ErrConcurrentModification is returned when a version-guarded update
	// finds the row changed since it was read.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrConflict is a serialization failure, deadlock or lock timeout
	// reported by the database. The transaction has been rolled back.
	ErrConflict = errors.New("transaction conflict")
	// ErrCompensationFailed means a non-atomic store could not undo a
	// partially applied unit of work.
	ErrCompensationFailed = errors.New("compensation failed")
)

// Reader serves committed state. Missing rows are reported as
// *domain.NotFoundError.
type Reader interface {
	GetSettings(ctx context.Context, accountID string) (domain.AccountSettings, error)
	GetCustomer(ctx context.Context, accountID string, id string) (domain.Customer, error)
	GetJob(ctx context.Context, accountID string, id string) (domain.Job, error)
	GetJobByRef(ctx context.Context, accountID string, ref string) (domain.Job, error)
	ListLineItems(ctx context.Context, accountID string, jobID string) ([]domain.JobLineItem, error)
	ListPayments(ctx context.Context, accountID string, jobID string) ([]domain.Payment, error)
	GetPaymentByReceipt(ctx context.Context, accountID string, receiptNo string) (domain.Payment, error)
	GetInventoryItems(ctx context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error)
}

// Catalog holds the plain row edits that sit outside the ledger protocol.
type Catalog interface {
	SaveSettings(ctx context.Context, settings domain.AccountSettings) error
	SaveCustomer(ctx context.Context, customer domain.Customer) error
	SaveInventoryItem(ctx context.Context, item domain.InventoryItem) error
}

// Tx is one unit of work. Reads through Lock* hold the rows until the unit
// ends on stores that support row locks.
type Tx interface {
	GetSettings(ctx context.Context, accountID string) (domain.AccountSettings, error)
	GetCustomer(ctx context.Context, accountID string, id string) (domain.Customer, error)
	FindJobByRef(ctx context.Context, accountID string, ref string) (*domain.Job, error)
	FindPaymentByReceipt(ctx context.Context, accountID string, receiptNo string) (*domain.Payment, error)
	ListLineItems(ctx context.Context, accountID string, jobID string) ([]domain.JobLineItem, error)
	LockInventory(ctx context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error)
	LockJob(ctx context.Context, accountID string, id string) (domain.Job, error)

	InsertJob(ctx context.Context, job domain.Job) error
	InsertLineItems(ctx context.Context, items []domain.JobLineItem) error
	InsertPayment(ctx context.Context, payment domain.Payment) error
	// UpdateInventory writes new quantities where the row still has
	// ExpectedVersion, and bumps the version.
	UpdateInventory(ctx context.Context, accountID string, changes []domain.StockChange) error
	// UpdateJobBalance writes total, paid, balance and status where the row
	// still has job.Version, and bumps the version.
	UpdateJobBalance(ctx context.Context, job domain.Job) error
}

type Ledger interface {
	Reader
	// WithinTx runs fn as one all-or-nothing unit. If fn returns an error
	// nothing it wrote is visible afterwards.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Store interface {
	Ledger
	Catalog
}
