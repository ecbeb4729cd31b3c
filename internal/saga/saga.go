// Package saga runs ledger units of work on stores that cannot commit several
// writes atomically. Each write is applied immediately and paired with a
// compensating write; if the unit fails, the compensations run in reverse.
// Writes must arrive in ledger order: job, line items, payment, inventory,
// balance.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
)

type IntentStatus string

const (
	IntentPending            IntentStatus = "pending"
	IntentCommitted          IntentStatus = "committed"
	IntentCompensated        IntentStatus = "compensated"
	IntentCompensationFailed IntentStatus = "compensation_failed"
)

// Intent is recorded before the first write so an interrupted unit can be
// found and repaired.
type Intent struct {
	ID        string       `json:"id"`
	Status    IntentStatus `json:"status"`
	Steps     []string     `json:"steps"`
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Tables applies every call on its own.
type Tables interface {
	store.Reader
	SaveIntent(ctx context.Context, intent Intent) error
	InsertJob(ctx context.Context, job domain.Job) error
	DeleteJob(ctx context.Context, accountID string, id string) error
	InsertLineItems(ctx context.Context, items []domain.JobLineItem) error
	DeleteLineItems(ctx context.Context, accountID string, jobID string, ids []string) error
	InsertPayment(ctx context.Context, payment domain.Payment) error
	DeletePayment(ctx context.Context, accountID string, jobID string, id string) error
	UpdateInventory(ctx context.Context, accountID string, changes []domain.StockChange) error
	UpdateJobBalance(ctx context.Context, job domain.Job) error
}

var ErrWriteOrder = errors.New("write out of ledger order")

const compensationTimeout = 15 * time.Second

// Ledger adapts Tables to store.Ledger.
type Ledger struct {
	store.Reader
	tables Tables
	logger *logrus.Entry
}

func New(tables Tables, logger *logrus.Logger) *Ledger {
	return &Ledger{
		Reader: tables,
		tables: tables,
		logger: logger.WithField("module", "saga"),
	}
}

func (l *Ledger) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	now := time.Now().UTC()
	intent := Intent{
		ID:        uuid.NewString(),
		Status:    IntentPending,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := l.tables.SaveIntent(ctx, intent); err != nil {
		return fmt.Errorf("record intent: %w", err)
	}

	t := &tx{tables: l.tables}
	runErr := fn(t)
	if runErr == nil {
		runErr = ctx.Err()
	}
	intent.Steps = t.stepNames()

	// Compensation and intent updates run even if ctx is already done.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if runErr == nil {
		intent.Status = IntentCommitted
		l.finish(bg, intent)
		return nil
	}

	intent.Error = runErr.Error()
	entry := l.logger.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"steps":     intent.Steps,
	})
	if failures := t.compensate(bg); len(failures) > 0 {
		intent.Status = IntentCompensationFailed
		l.finish(bg, intent)
		entry.WithError(errors.Join(failures...)).WithField("alert", true).Error("compensation failed, ledger needs repair")
		return &CompensationError{Cause: runErr, Failures: failures}
	}
	if len(intent.Steps) > 0 {
		entry.WithError(runErr).Warn("unit of work compensated")
	}
	intent.Status = IntentCompensated
	l.finish(bg, intent)
	return runErr
}

func (l *Ledger) finish(ctx context.Context, intent Intent) {
	intent.UpdatedAt = time.Now().UTC()
	if err := l.tables.SaveIntent(ctx, intent); err != nil {
		l.logger.WithError(err).WithField("intent_id", intent.ID).Warn("could not update intent")
	}
}

// CompensationError reports a unit that failed and could not be fully undone.
type CompensationError struct {
	Cause    error
	Failures []error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%v; compensation failed: %v", e.Cause, errors.Join(e.Failures...))
}

// Unwrap reports only store.ErrCompensationFailed. Cause is not unwrapped.
func (e *CompensationError) Unwrap() error {
	return store.ErrCompensationFailed
}
