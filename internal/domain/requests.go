package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	InventoryItemID string          `json:"inventory_item_id" validate:"required"`
	Quantity        int             `json:"quantity" validate:"gt=0"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

type SaleRequest struct {
	IdempotencyKey   string        `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
	CustomerID       *string       `json:"customer_id,omitempty"`
	PaymentMethod    PaymentMethod `json:"payment_method" validate:"required"`
	PaymentReference string        `json:"payment_reference,omitempty" validate:"omitempty,max=128"`
	ServedBy         string        `json:"served_by,omitempty" validate:"omitempty,max=128"`
	Cart             []CartLine    `json:"cart" validate:"required,min=1,dive"`
}

type SaleResult struct {
	Job       Job             `json:"job"`
	LineItems []JobLineItem   `json:"line_items"`
	Payment   Payment         `json:"payment"`
	Receipt   Receipt         `json:"receipt"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	LowStock  []InventoryItem `json:"low_stock,omitempty"`
	Duplicate bool            `json:"duplicate"`
}

type PaymentRequest struct {
	IdempotencyKey   string          `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
	JobID            string          `json:"job_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method" validate:"required"`
	PaymentReference string          `json:"payment_reference,omitempty" validate:"omitempty,max=128"`
	ServedBy         string          `json:"served_by,omitempty" validate:"omitempty,max=128"`
}

type PaymentResult struct {
	Job       Job           `json:"job"`
	Payment   Payment       `json:"payment"`
	Receipt   Receipt       `json:"receipt"`
	Status    PaymentStatus `json:"payment_status"`
	Overpaid  bool          `json:"overpaid"`
	Duplicate bool          `json:"duplicate"`
}

// Receipt is the projection of a single payment handed to document rendering.
// Subtotal and Tax decompose Amount using the account tax rate.
type Receipt struct {
	ReceiptNo        string          `json:"receipt_no"`
	JobID            string          `json:"job_id"`
	JobRef           string          `json:"job_ref"`
	CustomerName     string          `json:"customer_name"`
	CustomerPhone    string          `json:"customer_phone,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"tax"`
	TaxPercent       decimal.Decimal `json:"tax_percent"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	ServedBy         string          `json:"served_by,omitempty"`
	PaymentDate      time.Time       `json:"payment_date"`
	JobTotal         decimal.Decimal `json:"job_total"`
	BalanceDue       decimal.Decimal `json:"balance_due"`
	ShopName         string          `json:"shop_name"`
	ShopPhone        string          `json:"shop_phone,omitempty"`
	ShopEmail        string          `json:"shop_email,omitempty"`
	ShopAddress      string          `json:"shop_address,omitempty"`
}

type JobItemInput struct {
	InventoryItemID *string         `json:"inventory_item_id,omitempty"`
	Description     string          `json:"description" validate:"max=512"`
	Quantity        int             `json:"quantity" validate:"gt=0"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

type JobRequest struct {
	IdempotencyKey string         `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
	CustomerID     *string        `json:"customer_id,omitempty"`
	DeviceType     string         `json:"device_type,omitempty" validate:"omitempty,max=128"`
	Description    string         `json:"description,omitempty" validate:"omitempty,max=2048"`
	Items          []JobItemInput `json:"items,omitempty" validate:"dive"`
}

type JobResult struct {
	Job       Job           `json:"job"`
	LineItems []JobLineItem `json:"line_items"`
	Duplicate bool          `json:"duplicate"`
}

type JobLedger struct {
	Job       Job           `json:"job"`
	Customer  *Customer     `json:"customer,omitempty"`
	LineItems []JobLineItem `json:"line_items"`
	Payments  []Payment     `json:"payments"`
	Status    PaymentStatus `json:"payment_status"`
}

// Invoice is the projection of a job's full line items and balance state.
type Invoice struct {
	JobID        string          `json:"job_id"`
	JobRef       string          `json:"job_ref"`
	CustomerName string          `json:"customer_name"`
	LineItems    []JobLineItem   `json:"line_items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxPercent   decimal.Decimal `json:"tax_percent"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	BalanceDue   decimal.Decimal `json:"balance_due"`
	Status       PaymentStatus   `json:"payment_status"`
	Settings     AccountSettings `json:"shop"`
}
