package service

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

// A replayed idempotency key must carry the request it was first used with.
// Anything else is a client bug and is rejected instead of answered with the
// stored result.
func keyReused(operation string) error {
	return domain.Invalid("idempotency_key", "already used for a different %s", operation)
}

func optionalID(id *string) string {
	if id == nil {
		return ""
	}
	return strings.TrimSpace(*id)
}

func samePayment(p domain.Payment, req domain.PaymentRequest) bool {
	return p.JobID == strings.TrimSpace(req.JobID) &&
		p.Amount.Equal(req.Amount) &&
		p.PaymentMethod == req.PaymentMethod
}

func saleLineKey(itemID string, quantity int, unitPrice decimal.Decimal) string {
	return itemID + "|" + strconv.Itoa(quantity) + "|" + unitPrice.StringFixed(domain.MoneyScale)
}

// sameSale compares cart lines as a multiset; stores may list them in any
// order.
func sameSale(job domain.Job, items []domain.JobLineItem, payment domain.Payment, req domain.SaleRequest) bool {
	if payment.PaymentMethod != req.PaymentMethod || optionalID(job.CustomerID) != optionalID(req.CustomerID) {
		return false
	}
	if len(items) != len(req.Cart) {
		return false
	}
	want := make(map[string]int, len(req.Cart))
	for _, line := range req.Cart {
		want[saleLineKey(line.InventoryItemID, line.Quantity, line.UnitPrice)]++
	}
	for _, item := range items {
		if item.InventoryItemID == nil {
			return false
		}
		key := saleLineKey(*item.InventoryItemID, item.Quantity, item.UnitPrice)
		if want[key] == 0 {
			return false
		}
		want[key]--
	}
	return true
}

// Line items are not compared for jobs: AddJobItems extends them after the
// job is opened.
func sameJob(job domain.Job, req domain.JobRequest) bool {
	return job.Kind == domain.JobKindRepair &&
		optionalID(job.CustomerID) == optionalID(req.CustomerID) &&
		job.DeviceType == strings.TrimSpace(req.DeviceType) &&
		job.Description == strings.TrimSpace(req.Description)
}
