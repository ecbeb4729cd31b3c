package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/balance"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/pricing"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/xid"
)

// RecordPayment applies a payment against an existing job and returns the
// receipt. Concurrent payments on the same job serialize on the job row;
// neither is lost.
func (s *Service) RecordPayment(ctx context.Context, accountID string, req domain.PaymentRequest) (domain.PaymentResult, error) {
	const funcName = "RecordPayment"

	if err := validatePayment(accountID, req); err != nil {
		return domain.PaymentResult{}, err
	}
	jobID := strings.TrimSpace(req.JobID)
	receiptNo := reference(xid.PrefixReceipt, accountID, "payment", req.IdempotencyKey)

	lock, err := s.locker.Obtain(ctx, "job:"+accountID+":"+jobID, s.opts.PaymentLockTTL)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":     moduleName,
			"account_id": accountID,
			"job_id":     jobID,
		}).WithError(err).Warn("payment lock unavailable, relying on row lock")
	} else {
		defer func() {
			_ = lock.Release(context.WithoutCancel(ctx))
		}()
	}

	var (
		result    domain.PaymentResult
		settings  domain.AccountSettings
		customer  *domain.Customer
		duplicate bool
	)
	err = s.runUnit(ctx, func(tx store.Tx) error {
		existing, err := tx.FindPaymentByReceipt(ctx, accountID, receiptNo)
		if err != nil {
			return err
		}
		if existing != nil {
			duplicate = true
			return nil
		}

		job, err := tx.LockJob(ctx, accountID, jobID)
		if err != nil {
			return err
		}
		if job.Status == domain.JobStatusCancelled {
			return domain.Invalid("job_id", "job %s is cancelled", job.JobRef)
		}
		if err := balance.Check(job); err != nil {
			return err
		}

		settings, err = tx.GetSettings(ctx, accountID)
		if err != nil {
			return err
		}
		customer, err = lookupCustomer(ctx, tx.GetCustomer, accountID, job.CustomerID)
		if err != nil {
			return err
		}

		updated := balance.ApplyPayment(job, req.Amount)
		if err := balance.Check(updated); err != nil {
			return err
		}

		payment := domain.Payment{
			ID:               xid.ID(),
			AccountID:        accountID,
			JobID:            job.ID,
			ReceiptNo:        receiptNo,
			Amount:           req.Amount,
			PaymentMethod:    req.PaymentMethod,
			PaymentReference: strings.TrimSpace(req.PaymentReference),
			ServedBy:         strings.TrimSpace(req.ServedBy),
			PaymentDate:      s.now(),
			JobTotal:         updated.TotalAmount,
			BalanceAfter:     updated.BalanceDue,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		if err := tx.UpdateJobBalance(ctx, updated); err != nil {
			return err
		}
		updated.Version++

		result = domain.PaymentResult{
			Job:      updated,
			Payment:  payment,
			Status:   balance.Status(updated),
			Overpaid: balance.Overpaid(updated),
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		duplicate, err = true, nil
	}
	if err != nil {
		return domain.PaymentResult{}, s.abort(funcName, accountID, err)
	}
	if duplicate {
		return s.replayPayment(ctx, accountID, receiptNo, req)
	}

	if err := s.verifyCommitted(ctx, funcName, accountID, result.Job.ID, nil); err != nil {
		return domain.PaymentResult{}, err
	}

	result.Receipt = buildReceipt(settings, result.Job, result.Payment, customer)
	s.cacheReceipt(ctx, accountID, result.Receipt)

	entry := s.logger.WithFields(logrus.Fields{
		"module":      moduleName,
		"account_id":  accountID,
		"job_ref":     result.Job.JobRef,
		"receipt_no":  receiptNo,
		"amount":      req.Amount.String(),
		"balance_due": result.Job.BalanceDue.String(),
	})
	if result.Overpaid {
		entry.Warn("payment exceeds balance due")
	} else {
		entry.Info("payment recorded")
	}
	return result, nil
}

func validatePayment(accountID string, req domain.PaymentRequest) error {
	if err := requireAccount(accountID); err != nil {
		return err
	}
	if strings.TrimSpace(req.JobID) == "" {
		return domain.Invalid("job_id", "is required")
	}
	if !req.Amount.IsPositive() {
		return domain.Invalid("amount", "must be greater than zero")
	}
	if err := pricing.ValidateAmount("amount", req.Amount); err != nil {
		return err
	}
	return validatePaymentMethod(req.PaymentMethod)
}

func (s *Service) replayPayment(ctx context.Context, accountID string, receiptNo string, req domain.PaymentRequest) (domain.PaymentResult, error) {
	const funcName = "RecordPayment"

	payment, err := s.ledger.GetPaymentByReceipt(ctx, accountID, receiptNo)
	if err != nil {
		return domain.PaymentResult{}, s.abort(funcName, accountID, err)
	}
	if !samePayment(payment, req) {
		return domain.PaymentResult{}, keyReused("payment")
	}
	job, err := s.ledger.GetJob(ctx, accountID, payment.JobID)
	if err != nil {
		return domain.PaymentResult{}, s.abort(funcName, accountID, err)
	}
	settings, err := s.ledger.GetSettings(ctx, accountID)
	if err != nil {
		return domain.PaymentResult{}, s.abort(funcName, accountID, err)
	}
	customer, err := lookupCustomer(ctx, s.ledger.GetCustomer, accountID, job.CustomerID)
	if err != nil {
		return domain.PaymentResult{}, s.abort(funcName, accountID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"account_id": accountID,
		"receipt_no": receiptNo,
	}).Info("duplicate payment request replayed")

	return domain.PaymentResult{
		Job:       job,
		Payment:   payment,
		Receipt:   buildReceipt(settings, job, payment, customer),
		Status:    balance.Status(job),
		Overpaid:  balance.Overpaid(job),
		Duplicate: true,
	}, nil
}
