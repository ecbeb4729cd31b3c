package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/balance"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/pricing"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/stockguard"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/xid"
)

// CreateJob opens a repair job with nothing paid. Items drawn from inventory
// are deducted in the same unit of work.
func (s *Service) CreateJob(ctx context.Context, accountID string, req domain.JobRequest) (domain.JobResult, error) {
	const funcName = "CreateJob"

	if err := requireAccount(accountID); err != nil {
		return domain.JobResult{}, err
	}
	if err := validateItems(req.Items); err != nil {
		return domain.JobResult{}, err
	}
	jobRef := reference(xid.PrefixJob, accountID, "job", req.IdempotencyKey)
	deductions := stockDeductions(req.Items)
	itemIDs := stockguard.ItemIDs(deductions)

	var (
		result    domain.JobResult
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

		settings, err := tx.GetSettings(ctx, accountID)
		if err != nil {
			return err
		}
		if req.CustomerID != nil && *req.CustomerID != "" {
			if _, err := tx.GetCustomer(ctx, accountID, *req.CustomerID); err != nil {
				return err
			}
		}

		stock, changes, err := reserveStock(ctx, tx, accountID, itemIDs, deductions)
		if err != nil {
			return err
		}

		now := s.now()
		job := domain.Job{
			ID:             xid.ID(),
			AccountID:      accountID,
			JobRef:         jobRef,
			Kind:           domain.JobKindRepair,
			CustomerID:     req.CustomerID,
			DeviceType:     strings.TrimSpace(req.DeviceType),
			Description:    strings.TrimSpace(req.Description),
			Status:         domain.JobStatusReceived,
			TaxPercent:     settings.TaxPercent,
			IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		lineItems := newLineItems(job, req.Items, stock, now)
		totals, err := pricing.Calculate(pricedLines(lineItems), job.TaxPercent)
		if err != nil {
			return err
		}
		job = balance.Open(job, totals.Total)
		if err := balance.Check(job); err != nil {
			return err
		}

		if err := tx.InsertJob(ctx, job); err != nil {
			return err
		}
		if len(lineItems) > 0 {
			if err := tx.InsertLineItems(ctx, lineItems); err != nil {
				return err
			}
		}
		if len(changes) > 0 {
			if err := tx.UpdateInventory(ctx, accountID, changes); err != nil {
				return err
			}
		}

		result = domain.JobResult{Job: job, LineItems: lineItems}
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		duplicate, err = true, nil
	}
	if err != nil {
		err = s.recheckStock(ctx, accountID, itemIDs, deductions, err)
		return domain.JobResult{}, s.abort(funcName, accountID, err)
	}
	if duplicate {
		job, err := s.ledger.GetJobByRef(ctx, accountID, jobRef)
		if err != nil {
			return domain.JobResult{}, s.abort(funcName, accountID, err)
		}
		if !sameJob(job, req) {
			return domain.JobResult{}, keyReused("job")
		}
		items, err := s.ledger.ListLineItems(ctx, accountID, job.ID)
		if err != nil {
			return domain.JobResult{}, s.abort(funcName, accountID, err)
		}
		return domain.JobResult{Job: job, LineItems: items, Duplicate: true}, nil
	}

	if err := s.verifyCommitted(ctx, funcName, accountID, result.Job.ID, itemIDs); err != nil {
		return domain.JobResult{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"account_id": accountID,
		"job_ref":    jobRef,
		"total":      result.Job.TotalAmount.String(),
	}).Info("job created")
	return result, nil
}

// AddJobItems appends line items to an open repair job and re-derives its
// total and balance at the tax rate the job was opened with.
func (s *Service) AddJobItems(ctx context.Context, accountID string, jobID string, items []domain.JobItemInput) (domain.JobResult, error) {
	const funcName = "AddJobItems"

	if err := requireAccount(accountID); err != nil {
		return domain.JobResult{}, err
	}
	if strings.TrimSpace(jobID) == "" {
		return domain.JobResult{}, domain.Invalid("job_id", "is required")
	}
	if len(items) == 0 {
		return domain.JobResult{}, domain.Invalid("items", "must contain at least one item")
	}
	if err := validateItems(items); err != nil {
		return domain.JobResult{}, err
	}
	deductions := stockDeductions(items)
	itemIDs := stockguard.ItemIDs(deductions)

	var result domain.JobResult
	err := s.runUnit(ctx, func(tx store.Tx) error {
		job, err := tx.LockJob(ctx, accountID, jobID)
		if err != nil {
			return err
		}
		if job.Kind != domain.JobKindRepair {
			return domain.Invalid("job_id", "items can only be added to repair jobs")
		}
		switch job.Status {
		case domain.JobStatusCancelled, domain.JobStatusDelivered, domain.JobStatusCompleted:
			return domain.Invalid("job_id", "job %s is %s", job.JobRef, job.Status)
		}

		existing, err := tx.ListLineItems(ctx, accountID, job.ID)
		if err != nil {
			return err
		}
		stock, changes, err := reserveStock(ctx, tx, accountID, itemIDs, deductions)
		if err != nil {
			return err
		}

		added := newLineItems(job, items, stock, s.now())
		all := append(append([]domain.JobLineItem{}, existing...), added...)
		totals, err := pricing.Calculate(pricedLines(all), job.TaxPercent)
		if err != nil {
			return err
		}

		if err := tx.InsertLineItems(ctx, added); err != nil {
			return err
		}
		if len(changes) > 0 {
			if err := tx.UpdateInventory(ctx, accountID, changes); err != nil {
				return err
			}
		}
		updated := balance.Retotal(job, totals.Total)
		if err := balance.Check(updated); err != nil {
			return err
		}
		if err := tx.UpdateJobBalance(ctx, updated); err != nil {
			return err
		}
		updated.Version++

		result = domain.JobResult{Job: updated, LineItems: all}
		return nil
	})
	if err != nil {
		err = s.recheckStock(ctx, accountID, itemIDs, deductions, err)
		return domain.JobResult{}, s.abort(funcName, accountID, err)
	}

	if err := s.verifyCommitted(ctx, funcName, accountID, result.Job.ID, itemIDs); err != nil {
		return domain.JobResult{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"module":      moduleName,
		"account_id":  accountID,
		"job_ref":     result.Job.JobRef,
		"added":       len(items),
		"balance_due": result.Job.BalanceDue.String(),
	}).Info("job items added")
	return result, nil
}

func validateItems(items []domain.JobItemInput) error {
	for i, item := range items {
		stocked := item.InventoryItemID != nil && strings.TrimSpace(*item.InventoryItemID) != ""
		if !stocked && strings.TrimSpace(item.Description) == "" {
			return domain.Invalid(itemField(i, "description"), "is required for items not drawn from inventory")
		}
		if item.Quantity <= 0 {
			return domain.Invalid(itemField(i, "quantity"), "must be positive")
		}
		if err := pricing.ValidateAmount(itemField(i, "unit_price"), item.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func itemField(index int, field string) string {
	return "items[" + strconv.Itoa(index) + "]." + field
}

func stockDeductions(items []domain.JobItemInput) []stockguard.Deduction {
	var deductions []stockguard.Deduction
	for _, item := range items {
		if item.InventoryItemID == nil || strings.TrimSpace(*item.InventoryItemID) == "" {
			continue
		}
		deductions = append(deductions, stockguard.Deduction{ItemID: *item.InventoryItemID, Quantity: item.Quantity})
	}
	return deductions
}

func reserveStock(ctx context.Context, tx store.Tx, accountID string, itemIDs []string, deductions []stockguard.Deduction) (map[string]domain.InventoryItem, []domain.StockChange, error) {
	if len(deductions) == 0 {
		return nil, nil, nil
	}
	stock, err := tx.LockInventory(ctx, accountID, itemIDs)
	if err != nil {
		return nil, nil, err
	}
	changes, err := stockguard.Reserve(stock, deductions)
	if err != nil {
		return nil, nil, err
	}
	return stock, changes, nil
}

func newLineItems(job domain.Job, inputs []domain.JobItemInput, stock map[string]domain.InventoryItem, now time.Time) []domain.JobLineItem {
	items := make([]domain.JobLineItem, 0, len(inputs))
	for _, in := range inputs {
		var inventoryID *string
		description := strings.TrimSpace(in.Description)
		if in.InventoryItemID != nil && strings.TrimSpace(*in.InventoryItemID) != "" {
			id := *in.InventoryItemID
			inventoryID = &id
			if description == "" {
				description = stock[id].Name
			}
		}
		total, _ := pricing.LineTotal(in.Quantity, in.UnitPrice)
		items = append(items, domain.JobLineItem{
			ID:              xid.ID(),
			AccountID:       job.AccountID,
			JobID:           job.ID,
			InventoryItemID: inventoryID,
			Description:     description,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			Total:           total,
			CreatedAt:       now,
		})
	}
	return items
}

func pricedLines(items []domain.JobLineItem) []pricing.Line {
	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, pricing.Line{Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return lines
}
