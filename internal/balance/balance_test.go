package balance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPaymentProgression(t *testing.T) {
	job := Open(domain.Job{ID: "job-1"}, d("5000"))
	assert.Equal(t, domain.PaymentStatusUnpaid, Status(job))
	require.NoError(t, Check(job))

	job = ApplyPayment(job, d("2000"))
	assert.True(t, job.AmountPaid.Equal(d("2000")))
	assert.True(t, job.BalanceDue.Equal(d("3000")))
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, Status(job))
	require.NoError(t, Check(job))

	job = ApplyPayment(job, d("3000"))
	assert.True(t, job.AmountPaid.Equal(d("5000")))
	assert.True(t, job.BalanceDue.IsZero())
	assert.Equal(t, domain.PaymentStatusPaid, Status(job))
	assert.False(t, Overpaid(job))
	require.NoError(t, Check(job))
}

func TestOverpaymentIsReportedNotClamped(t *testing.T) {
	job := Open(domain.Job{ID: "job-1"}, d("100"))
	job = ApplyPayment(job, d("150.50"))

	assert.True(t, job.BalanceDue.Equal(d("-50.50")))
	assert.True(t, Overpaid(job))
	assert.Equal(t, domain.PaymentStatusPaid, Status(job))
	require.NoError(t, Check(job))
}

func TestRetotalKeepsPaid(t *testing.T) {
	job := ApplyPayment(Open(domain.Job{ID: "job-1"}, d("100")), d("40"))
	job = Retotal(job, d("250.75"))

	assert.True(t, job.AmountPaid.Equal(d("40")))
	assert.True(t, job.BalanceDue.Equal(d("210.75")))
	require.NoError(t, Check(job))
}

func TestCheckDetectsDrift(t *testing.T) {
	job := domain.Job{
		ID:          "job-1",
		TotalAmount: d("100"),
		AmountPaid:  d("60"),
		BalanceDue:  d("39.99"),
	}
	err := Check(job)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestCheckStock(t *testing.T) {
	require.NoError(t, CheckStock(domain.InventoryItem{ID: "x", Quantity: 0}))
	require.ErrorIs(t, CheckStock(domain.InventoryItem{ID: "x", Quantity: -1}), domain.ErrInvariantViolation)
}
