package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

var (
	hundred    = decimal.NewFromInt(100)
	maxPercent = decimal.NewFromInt(100)
)

type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Calculate prices lines at the given tax percentage. Tax is rounded half away
// from zero to domain.MoneyScale places; subtotal and line totals are exact.
func Calculate(lines []Line, taxPercent decimal.Decimal) (Totals, error) {
	if err := ValidateRate(taxPercent); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	for i, line := range lines {
		total, err := LineTotal(line.Quantity, line.UnitPrice)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				ve.Field = lineField(i, ve.Field)
			}
			return Totals{}, err
		}
		subtotal = subtotal.Add(total)
	}

	tax := subtotal.Mul(taxPercent).Div(hundred).Round(domain.MoneyScale)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}, nil
}

// LineTotal returns quantity*unitPrice. Zero quantity is allowed here; callers
// that need a positive quantity check it themselves.
func LineTotal(quantity int, unitPrice decimal.Decimal) (decimal.Decimal, error) {
	if quantity < 0 {
		return decimal.Zero, domain.Invalid("quantity", "must not be negative")
	}
	if err := ValidateAmount("unit_price", unitPrice); err != nil {
		return decimal.Zero, err
	}
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// ValidateAmount rejects negative values and sub-cent precision.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.Invalid(field, "must not be negative")
	}
	if !amount.Equal(amount.Round(domain.MoneyScale)) {
		return domain.Invalid(field, "must have at most %d decimal places", domain.MoneyScale)
	}
	return nil
}

func ValidateRate(taxPercent decimal.Decimal) error {
	if taxPercent.IsNegative() || taxPercent.GreaterThan(maxPercent) {
		return domain.Invalid("tax_percent", "must be between 0 and 100")
	}
	return nil
}

// BackDerive splits a tax-inclusive amount into its pre-tax and tax parts
// for display. The parts always sum to amount exactly.
func BackDerive(amount decimal.Decimal, taxPercent decimal.Decimal) (subtotal decimal.Decimal, tax decimal.Decimal) {
	if taxPercent.IsZero() {
		return amount, decimal.Zero
	}
	divisor := decimal.NewFromInt(1).Add(taxPercent.Div(hundred))
	subtotal = amount.DivRound(divisor, domain.MoneyScale)
	return subtotal, amount.Sub(subtotal)
}

func lineField(index int, field string) string {
	return fmt.Sprintf("lines[%d].%s", index, field)
}
