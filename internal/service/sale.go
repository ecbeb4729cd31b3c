package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/balance"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/pricing"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/stockguard"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/xid"
)

const saleDescription = "POS sale"

// RecordSale converts a cart into a paid job with line items, one payment
// and the matching stock deductions. All of it commits or none of it does.
//
// A request carrying an idempotency key that was already committed returns
// the stored sale with Duplicate set and writes nothing.
func (s *Service) RecordSale(ctx context.Context, accountID string, req domain.SaleRequest) (domain.SaleResult, error) {
	const funcName = "RecordSale"

	if err := validateSale(accountID, req); err != nil {
		return domain.SaleResult{}, err
	}

	jobRef := reference(xid.PrefixSale, accountID, "sale", req.IdempotencyKey)
	receiptNo := reference(xid.PrefixReceipt, accountID, "sale", req.IdempotencyKey)

	deductions := make([]stockguard.Deduction, 0, len(req.Cart))
	for _, line := range req.Cart {
		deductions = append(deductions, stockguard.Deduction{ItemID: line.InventoryItemID, Quantity: line.Quantity})
	}
	itemIDs := stockguard.ItemIDs(deductions)

	var (
		result    domain.SaleResult
		settings  domain.AccountSettings
		customer  *domain.Customer
		duplicate bool
	)
	err := s.runUnit(ctx, func(tx store.Tx) error {
		existing, err := tx.FindJobByRef(ctx, accountID, jobRef)
		if err != nil {
			return err
		}
		if existing != nil {
			duplicate = true
			return nil
		}

		settings, err = tx.GetSettings(ctx, accountID)
		if err != nil {
			return err
		}
		if req.CustomerID != nil && *req.CustomerID != "" {
			c, err := tx.GetCustomer(ctx, accountID, *req.CustomerID)
			if err != nil {
				return err
			}
			customer = &c
		}

		stock, err := tx.LockInventory(ctx, accountID, itemIDs)
		if err != nil {
			return err
		}
		for _, id := range itemIDs {
			if _, ok := stock[id]; !ok {
				return domain.NotFound("inventory item", id)
			}
		}

		lines := make([]pricing.Line, 0, len(req.Cart))
		for _, line := range req.Cart {
			lines = append(lines, pricing.Line{Quantity: line.Quantity, UnitPrice: line.UnitPrice})
		}
		totals, err := pricing.Calculate(lines, settings.TaxPercent)
		if err != nil {
			return err
		}

		changes, err := stockguard.Reserve(stock, deductions)
		if err != nil {
			return err
		}

		now := s.now()
		job := balance.Open(domain.Job{
			ID:             xid.ID(),
			AccountID:      accountID,
			JobRef:         jobRef,
			Kind:           domain.JobKindSale,
			CustomerID:     req.CustomerID,
			DeviceType:     domain.SaleDeviceType,
			Description:    saleDescription,
			Status:         domain.JobStatusCompleted,
			TaxPercent:     settings.TaxPercent,
			IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, totals.Total)
		if err := tx.InsertJob(ctx, job); err != nil {
			return err
		}

		lineItems := make([]domain.JobLineItem, 0, len(req.Cart))
		for _, line := range req.Cart {
			itemID := line.InventoryItemID
			total, _ := pricing.LineTotal(line.Quantity, line.UnitPrice)
			lineItems = append(lineItems, domain.JobLineItem{
				ID:              xid.ID(),
				AccountID:       accountID,
				JobID:           job.ID,
				InventoryItemID: &itemID,
				Description:     stock[itemID].Name,
				Quantity:        line.Quantity,
				UnitPrice:       line.UnitPrice,
				Total:           total,
				CreatedAt:       now,
			})
		}
		if err := tx.InsertLineItems(ctx, lineItems); err != nil {
			return err
		}

		paid := balance.ApplyPayment(job, totals.Total)
		if err := balance.Check(paid); err != nil {
			return err
		}

		payment := domain.Payment{
			ID:               xid.ID(),
			AccountID:        accountID,
			JobID:            job.ID,
			ReceiptNo:        receiptNo,
			Amount:           totals.Total,
			PaymentMethod:    req.PaymentMethod,
			PaymentReference: strings.TrimSpace(req.PaymentReference),
			ServedBy:         strings.TrimSpace(req.ServedBy),
			PaymentDate:      now,
			JobTotal:         paid.TotalAmount,
			BalanceAfter:     paid.BalanceDue,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		if err := tx.UpdateInventory(ctx, accountID, changes); err != nil {
			return err
		}

		if err := tx.UpdateJobBalance(ctx, paid); err != nil {
			return err
		}
		paid.Version++

		result = domain.SaleResult{
			Job:       paid,
			LineItems: lineItems,
			Payment:   payment,
			Subtotal:  totals.Subtotal,
			Tax:       totals.Tax,
			Total:     totals.Total,
			LowStock:  lowStockAfter(stock, changes),
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		duplicate, err = true, nil
	}
	if err != nil {
		err = s.recheckStock(ctx, accountID, itemIDs, deductions, err)
		return domain.SaleResult{}, s.abort(funcName, accountID, err)
	}
	if duplicate {
		return s.replaySale(ctx, accountID, jobRef, receiptNo, req)
	}

	if err := s.verifyCommitted(ctx, funcName, accountID, result.Job.ID, itemIDs); err != nil {
		return domain.SaleResult{}, err
	}

	result.Receipt = buildReceipt(settings, result.Job, result.Payment, customer)
	s.cacheReceipt(ctx, accountID, result.Receipt)

	s.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"account_id": accountID,
		"job_ref":    jobRef,
		"receipt_no": receiptNo,
		"total":      result.Total.String(),
		"lines":      len(result.LineItems),
	}).Info("sale recorded")
	for _, item := range result.LowStock {
		s.logger.WithFields(logrus.Fields{
			"module":        moduleName,
			"account_id":    accountID,
			"item_id":       item.ID,
			"quantity":      item.Quantity,
			"reorder_level": item.ReorderLevel,
		}).Warn("inventory below reorder level")
	}
	return result, nil
}

func validateSale(accountID string, req domain.SaleRequest) error {
	if err := requireAccount(accountID); err != nil {
		return err
	}
	if len(req.Cart) == 0 {
		return domain.Invalid("cart", "must contain at least one line")
	}
	for i, line := range req.Cart {
		if strings.TrimSpace(line.InventoryItemID) == "" {
			return domain.Invalid(cartField(i, "inventory_item_id"), "is required")
		}
		if line.Quantity <= 0 {
			return domain.Invalid(cartField(i, "quantity"), "must be positive")
		}
		if err := pricing.ValidateAmount(cartField(i, "unit_price"), line.UnitPrice); err != nil {
			return err
		}
	}
	return validatePaymentMethod(req.PaymentMethod)
}

func cartField(index int, field string) string {
	return "cart[" + strconv.Itoa(index) + "]." + field
}

func lowStockAfter(stock map[string]domain.InventoryItem, changes []domain.StockChange) []domain.InventoryItem {
	var low []domain.InventoryItem
	for _, change := range changes {
		item := stock[change.ItemID]
		item.Quantity = change.Quantity
		item.Version++
		if item.LowStock() {
			low = append(low, item)
		}
	}
	return low
}

// replaySale rebuilds the result of a sale that was already committed under
// the same idempotency key.
func (s *Service) replaySale(ctx context.Context, accountID string, jobRef string, receiptNo string, req domain.SaleRequest) (domain.SaleResult, error) {
	const funcName = "RecordSale"

	job, err := s.ledger.GetJobByRef(ctx, accountID, jobRef)
	if err != nil {
		return domain.SaleResult{}, s.abort(funcName, accountID, err)
	}
	items, err := s.ledger.ListLineItems(ctx, accountID, job.ID)
	if err != nil {
		return domain.SaleResult{}, s.abort(funcName, accountID, err)
	}
	payment, err := s.ledger.GetPaymentByReceipt(ctx, accountID, receiptNo)
	if err != nil {
		return domain.SaleResult{}, s.abort(funcName, accountID, err)
	}
	if !sameSale(job, items, payment, req) {
		return domain.SaleResult{}, keyReused("sale")
	}
	settings, err := s.ledger.GetSettings(ctx, accountID)
	if err != nil {
		return domain.SaleResult{}, s.abort(funcName, accountID, err)
	}
	customer, err := lookupCustomer(ctx, s.ledger.GetCustomer, accountID, job.CustomerID)
	if err != nil {
		return domain.SaleResult{}, s.abort(funcName, accountID, err)
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Total)
	}

	s.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"account_id": accountID,
		"job_ref":    jobRef,
	}).Info("duplicate sale request replayed")

	return domain.SaleResult{
		Job:       job,
		LineItems: items,
		Payment:   payment,
		Receipt:   buildReceipt(settings, job, payment, customer),
		Subtotal:  subtotal,
		Tax:       job.TotalAmount.Sub(subtotal),
		Total:     job.TotalAmount,
		Duplicate: true,
	}, nil
}
