// Package balance is the only place a job's amount_paid and balance_due are
// derived. Writers pass jobs through Reconcile, ApplyPayment or Retotal and
// never set BalanceDue themselves.
package balance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

type Snapshot struct {
	TotalAmount decimal.Decimal
	AmountPaid  decimal.Decimal
	BalanceDue  decimal.Decimal
}

func Reconcile(total decimal.Decimal, paid decimal.Decimal) Snapshot {
	return Snapshot{
		TotalAmount: total,
		AmountPaid:  paid,
		BalanceDue:  total.Sub(paid),
	}
}

func apply(job domain.Job, snap Snapshot) domain.Job {
	job.TotalAmount = snap.TotalAmount
	job.AmountPaid = snap.AmountPaid
	job.BalanceDue = snap.BalanceDue
	return job
}

// Open returns job with nothing paid against total.
func Open(job domain.Job, total decimal.Decimal) domain.Job {
	return apply(job, Reconcile(total, decimal.Zero))
}

// ApplyPayment adds amount to what has been paid. Overpayment leaves a
// negative balance.
func ApplyPayment(job domain.Job, amount decimal.Decimal) domain.Job {
	return apply(job, Reconcile(job.TotalAmount, job.AmountPaid.Add(amount)))
}

// Retotal changes the job total, keeping what has been paid.
func Retotal(job domain.Job, total decimal.Decimal) domain.Job {
	return apply(job, Reconcile(total, job.AmountPaid))
}

func Status(job domain.Job) domain.PaymentStatus {
	switch {
	case job.AmountPaid.IsZero():
		return domain.PaymentStatusUnpaid
	case job.AmountPaid.GreaterThanOrEqual(job.TotalAmount):
		return domain.PaymentStatusPaid
	default:
		return domain.PaymentStatusPartiallyPaid
	}
}

func Overpaid(job domain.Job) bool {
	return job.BalanceDue.IsNegative()
}

// Check verifies amount_paid + balance_due == total_amount exactly and that
// balance_due is what Reconcile would have produced.
func Check(job domain.Job) error {
	if !job.AmountPaid.Add(job.BalanceDue).Equal(job.TotalAmount) {
		return &domain.InvariantViolationError{
			Entity: "job",
			ID:     job.ID,
			Detail: fmt.Sprintf("amount_paid %s + balance_due %s != total_amount %s",
				job.AmountPaid, job.BalanceDue, job.TotalAmount),
		}
	}
	if job.AmountPaid.IsNegative() {
		return &domain.InvariantViolationError{
			Entity: "job",
			ID:     job.ID,
			Detail: fmt.Sprintf("amount_paid %s is negative", job.AmountPaid),
		}
	}
	return nil
}

func CheckStock(item domain.InventoryItem) error {
	if item.Quantity < 0 {
		return &domain.InvariantViolationError{
			Entity: "inventory item",
			ID:     item.ID,
			Detail: fmt.Sprintf("quantity %d is negative", item.Quantity),
		}
	}
	return nil
}
