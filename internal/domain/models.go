package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for persisted amounts.
const MoneyScale int32 = 2

const DefaultShopName = "Tech Biz Track"

type JobKind string

const (
	JobKindSale   JobKind = "sale"
	JobKindRepair JobKind = "repair"
)

const (
	JobStatusReceived   = "received"
	JobStatusDiagnosing = "diagnosing"
	JobStatusRepairing  = "repairing"
	JobStatusReady      = "ready"
	JobStatusDelivered  = "delivered"
	JobStatusCancelled  = "cancelled"
	JobStatusCompleted  = "completed"
)

// Sales are recorded with this device type so they can be told apart from
// repair intake in job listings.
const SaleDeviceType = "Parts Sale"

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentMobileMoney  PaymentMethod = "mobile_money"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentMobileMoney, PaymentCard, PaymentBankTransfer:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid        PaymentStatus = "UNPAID"
	PaymentStatusPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentStatusPaid          PaymentStatus = "PAID"
)

type Customer struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Address      string `json:"address,omitempty"`
	CustomerType string `json:"customer_type,omitempty"`
}

type InventoryItem struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	SKU          string          `json:"sku,omitempty"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	ReorderLevel int             `json:"reorder_level"`
	Version      int64           `json:"version"`
}

func (i InventoryItem) LowStock() bool {
	return i.Quantity <= i.ReorderLevel
}

type Job struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	JobRef         string          `json:"job_ref"`
	Kind           JobKind         `json:"kind"`
	CustomerID     *string         `json:"customer_id,omitempty"`
	DeviceType     string          `json:"device_type,omitempty"`
	Description    string          `json:"description,omitempty"`
	Status         string          `json:"status"`
	TaxPercent     decimal.Decimal `json:"tax_percent"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
	IdempotencyKey string          `json:"-"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type JobLineItem struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"-"`
	JobID           string          `json:"job_id"`
	InventoryItemID *string         `json:"inventory_item_id,omitempty"`
	Description     string          `json:"description"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Payment struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"-"`
	JobID            string          `json:"job_id"`
	ReceiptNo        string          `json:"receipt_no"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	ServedBy         string          `json:"served_by,omitempty"`
	PaymentDate      time.Time       `json:"payment_date"`
	// JobTotal and BalanceAfter record the job's balance as this payment
	// left it. Receipts are printed from them.
	JobTotal     decimal.Decimal `json:"job_total"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

type AccountSettings struct {
	AccountID      string          `json:"account_id"`
	ShopName       string          `json:"shop_name"`
	ShopPhone      string          `json:"shop_phone,omitempty"`
	ShopEmail      string          `json:"shop_email,omitempty"`
	ShopAddress    string          `json:"shop_address,omitempty"`
	PaymentDetails string          `json:"payment_details,omitempty"`
	TaxPercent     decimal.Decimal `json:"tax_percent"`
}

// DefaultSettings is used when an account has not saved any settings yet.
func DefaultSettings(accountID string) AccountSettings {
	return AccountSettings{
		AccountID:  accountID,
		ShopName:   DefaultShopName,
		TaxPercent: decimal.Zero,
	}
}

// StockChange is a quantity the reservation guard wants written back.
// ExpectedVersion guards against writers that did not hold a row lock.
type StockChange struct {
	ItemID          string
	Quantity        int
	ExpectedVersion int64
}
