package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/balance"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/pricing"
)

func (s *Service) GetJobLedger(ctx context.Context, accountID string, jobID string) (domain.JobLedger, error) {
	const funcName = "GetJobLedger"

	if err := requireAccount(accountID); err != nil {
		return domain.JobLedger{}, err
	}
	job, err := s.ledger.GetJob(ctx, accountID, strings.TrimSpace(jobID))
	if err != nil {
		return domain.JobLedger{}, s.abort(funcName, accountID, err)
	}
	customer, err := lookupCustomer(ctx, s.ledger.GetCustomer, accountID, job.CustomerID)
	if err != nil {
		return domain.JobLedger{}, s.abort(funcName, accountID, err)
	}
	items, err := s.ledger.ListLineItems(ctx, accountID, job.ID)
	if err != nil {
		return domain.JobLedger{}, s.abort(funcName, accountID, err)
	}
	payments, err := s.ledger.ListPayments(ctx, accountID, job.ID)
	if err != nil {
		return domain.JobLedger{}, s.abort(funcName, accountID, err)
	}
	return domain.JobLedger{
		Job:       job,
		Customer:  customer,
		LineItems: items,
		Payments:  payments,
		Status:    balance.Status(job),
	}, nil
}

// GetInvoice projects a job's line items and balance for document
// rendering. Tax is recomputed from the line items at the job's rate; for
// jobs created by this engine Subtotal+Tax equals the stored total.
func (s *Service) GetInvoice(ctx context.Context, accountID string, jobID string) (domain.Invoice, error) {
	const funcName = "GetInvoice"

	ledger, err := s.GetJobLedger(ctx, accountID, jobID)
	if err != nil {
		return domain.Invoice{}, err
	}
	settings, err := s.ledger.GetSettings(ctx, accountID)
	if err != nil {
		return domain.Invoice{}, s.abort(funcName, accountID, err)
	}
	totals, err := pricing.Calculate(pricedLines(ledger.LineItems), ledger.Job.TaxPercent)
	if err != nil {
		return domain.Invoice{}, s.abort(funcName, accountID, err)
	}
	name, _ := customerName(ledger.Customer)
	if settings.ShopName == "" {
		settings.ShopName = domain.DefaultShopName
	}

	job := ledger.Job
	return domain.Invoice{
		JobID:        job.ID,
		JobRef:       job.JobRef,
		CustomerName: name,
		LineItems:    ledger.LineItems,
		Subtotal:     totals.Subtotal,
		TaxPercent:   job.TaxPercent,
		Tax:          totals.Tax,
		Total:        job.TotalAmount,
		AmountPaid:   job.AmountPaid,
		BalanceDue:   job.BalanceDue,
		Status:       ledger.Status,
		Settings:     settings,
	}, nil
}

// GetReceipt returns the receipt for one payment, from the cache when it
// holds a copy.
func (s *Service) GetReceipt(ctx context.Context, accountID string, receiptNo string) (domain.Receipt, error) {
	const funcName = "GetReceipt"

	if err := requireAccount(accountID); err != nil {
		return domain.Receipt{}, err
	}
	receiptNo = strings.TrimSpace(receiptNo)
	if receiptNo == "" {
		return domain.Receipt{}, domain.Invalid("receipt_no", "is required")
	}

	cached, ok, err := s.receipts.Get(ctx, accountID, receiptNo)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":     moduleName,
			"account_id": accountID,
			"receipt_no": receiptNo,
		}).WithError(err).Warn("receipt cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	payment, err := s.ledger.GetPaymentByReceipt(ctx, accountID, receiptNo)
	if err != nil {
		return domain.Receipt{}, s.abort(funcName, accountID, err)
	}
	job, err := s.ledger.GetJob(ctx, accountID, payment.JobID)
	if err != nil {
		return domain.Receipt{}, s.abort(funcName, accountID, err)
	}
	settings, err := s.ledger.GetSettings(ctx, accountID)
	if err != nil {
		return domain.Receipt{}, s.abort(funcName, accountID, err)
	}
	customer, err := lookupCustomer(ctx, s.ledger.GetCustomer, accountID, job.CustomerID)
	if err != nil {
		return domain.Receipt{}, s.abort(funcName, accountID, err)
	}

	receipt := buildReceipt(settings, job, payment, customer)
	s.cacheReceipt(ctx, accountID, receipt)
	return receipt, nil
}
