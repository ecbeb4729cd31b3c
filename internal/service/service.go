package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/cache"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/config"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/pricing"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/stockguard"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/xid"
)

const moduleName = "service"

type Options struct {
	TxTimeout       time.Duration
	ReceiptCacheTTL time.Duration
	PaymentLockTTL  time.Duration
}

func (o Options) withDefaults() Options {
	if o.TxTimeout <= 0 {
		o.TxTimeout = 8 * time.Second
	}
	if o.ReceiptCacheTTL <= 0 {
		o.ReceiptCacheTTL = 10 * time.Minute
	}
	if o.PaymentLockTTL <= 0 {
		o.PaymentLockTTL = 10 * time.Second
	}
	return o
}

// Service is the sale and payment engine. Every operation takes the account
// it acts for explicitly; nothing is read from ambient session state.
type Service struct {
	ledger   store.Ledger
	receipts cache.ReceiptCache
	locker   cache.Locker
	logger   *logrus.Logger
	opts     Options
	now      func() time.Time
}

func New(ledger store.Ledger, receipts cache.ReceiptCache, locker cache.Locker, logger *logrus.Logger, opts Options) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if locker == nil {
		locker = cache.NoopLocker{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		ledger:   ledger,
		receipts: receipts,
		locker:   locker,
		logger:   logger,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// runUnit executes fn as one unit of work bounded by the transaction timeout.
// The returned error is raw; callers check for store.ErrDuplicate before
// passing it to abort.
func (s *Service) runUnit(ctx context.Context, fn func(tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
	defer cancel()
	return s.ledger.WithinTx(ctx, fn)
}

// abort maps a failed unit of work onto the ledger error taxonomy. Anything
// that is not already a domain error means the store did not commit.
func (s *Service) abort(funcName string, accountID string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrCompensationFailed):
		config.LogAlert(s.logger, moduleName, funcName, "compensation failed", map[string]any{"account_id": accountID}, err)
		return &domain.TransactionAbortedError{Op: funcName, Cause: err}
	case domain.IsDomainError(err):
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"funcName":   funcName,
		"account_id": accountID,
	}).WithError(err).Warn("transaction aborted")
	return &domain.TransactionAbortedError{Op: funcName, Cause: err}
}

// recheckStock turns a lost version race on inventory into the stock error
// the caller would have seen had it arrived second. A race that still leaves
// enough stock keeps its original error.
func (s *Service) recheckStock(ctx context.Context, accountID string, itemIDs []string, deductions []stockguard.Deduction, err error) error {
	if !errors.Is(err, store.ErrConcurrentModification) || len(deductions) == 0 {
		return err
	}
	stock, readErr := s.ledger.GetInventoryItems(ctx, accountID, itemIDs)
	if readErr != nil {
		return err
	}
	if _, reserveErr := stockguard.Reserve(stock, deductions); errors.Is(reserveErr, domain.ErrInsufficientStock) {
		return reserveErr
	}
	return err
}

func requireAccount(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return domain.Invalid("account_id", "is required")
	}
	return nil
}

func validatePaymentMethod(method domain.PaymentMethod) error {
	if !method.Valid() {
		return domain.Invalid("payment_method", "unsupported payment method %q", method)
	}
	return nil
}

// reference derives job_ref or receipt_no. scope keeps keys supplied for
// different operations from colliding.
func reference(prefix string, accountID string, scope string, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return xid.New(prefix)
	}
	return xid.FromKey(prefix, accountID, scope+":"+key)
}

func customerName(customer *domain.Customer) (string, string) {
	if customer == nil {
		return "Walk-in Customer", ""
	}
	return customer.Name, customer.Phone
}

// lookupCustomer resolves the customer for a receipt. A job whose customer
// row has since been removed still gets a receipt.
func lookupCustomer(ctx context.Context, get func(ctx context.Context, accountID string, id string) (domain.Customer, error), accountID string, id *string) (*domain.Customer, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	customer, err := get(ctx, accountID, *id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func buildReceipt(settings domain.AccountSettings, job domain.Job, payment domain.Payment, customer *domain.Customer) domain.Receipt {
	subtotal, tax := pricing.BackDerive(payment.Amount, settings.TaxPercent)
	name, phone := customerName(customer)
	shopName := settings.ShopName
	if shopName == "" {
		shopName = domain.DefaultShopName
	}
	return domain.Receipt{
		ReceiptNo:        payment.ReceiptNo,
		JobID:            job.ID,
		JobRef:           job.JobRef,
		CustomerName:     name,
		CustomerPhone:    phone,
		Amount:           payment.Amount,
		Subtotal:         subtotal,
		Tax:              tax,
		TaxPercent:       settings.TaxPercent,
		PaymentMethod:    payment.PaymentMethod,
		PaymentReference: payment.PaymentReference,
		ServedBy:         payment.ServedBy,
		PaymentDate:      payment.PaymentDate,
		JobTotal:         payment.JobTotal,
		BalanceDue:       payment.BalanceAfter,
		ShopName:         shopName,
		ShopPhone:        settings.ShopPhone,
		ShopEmail:        settings.ShopEmail,
		ShopAddress:      settings.ShopAddress,
	}
}

func (s *Service) cacheReceipt(ctx context.Context, accountID string, receipt domain.Receipt) {
	if err := s.receipts.Set(ctx, accountID, &receipt, s.opts.ReceiptCacheTTL); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":     moduleName,
			"account_id": accountID,
			"receipt_no": receipt.ReceiptNo,
		}).WithError(err).Warn("receipt cache write failed")
	}
}
