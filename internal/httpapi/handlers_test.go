package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/service"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store/memory"
)

const testSecret = "test-secret-key-that-is-32-bytes-plus"

type testEnv struct {
	handler http.Handler
	store   *memory.Store
	auth    *AuthManager
	token   string
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T, opts Options) testEnv {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, quietLogger(), service.Options{})
	return newEnvWithEngine(t, repo, svc, opts)
}

func newEnvWithEngine(t *testing.T, repo *memory.Store, engine Engine, opts Options) testEnv {
	t.Helper()
	auth := NewAuthManager(testSecret, time.Hour)
	token, _, err := auth.IssueToken(memory.SeedAccountID, "amina")
	require.NoError(t, err)
	return testEnv{
		handler: New(engine, auth, quietLogger(), opts).Handler(),
		store:   repo,
		auth:    auth,
		token:   token,
	}
}

func newRequest(t *testing.T, method string, path string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) do(t *testing.T, method string, path string, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := newRequest(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return serve(e.handler, req)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func chargerSale(quantity int) map[string]any {
	return map[string]any{
		"payment_method": "cash",
		"cart": []map[string]any{
			{"inventory_item_id": "inv-charger-typec", "quantity": quantity, "unit_price": "15000"},
		},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestRecordSaleEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.token, chargerSale(2), "Idempotency-Key", "till-1-0001")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[domain.SaleResult](t, rec)
	assertMoney(t, "30000", res.Subtotal)
	assertMoney(t, "5400", res.Tax)
	assertMoney(t, "35400", res.Total)
	assertMoney(t, "0", res.Job.BalanceDue)
	assert.Equal(t, "amina", res.Payment.ServedBy)
	assert.False(t, res.Duplicate)

	replay := env.do(t, http.MethodPost, "/api/v1/sales", env.token, chargerSale(2), "Idempotency-Key", "till-1-0001")
	require.Equal(t, http.StatusOK, replay.Code, replay.Body.String())
	again := decodeBody[domain.SaleResult](t, replay)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.Job.ID, again.Job.ID)
	assert.Equal(t, res.Receipt.ReceiptNo, again.Receipt.ReceiptNo)

	items, err := env.store.GetInventoryItems(context.Background(), memory.SeedAccountID, []string{"inv-charger-typec"})
	require.NoError(t, err)
	assert.Equal(t, 18, items["inv-charger-typec"].Quantity)
}

func TestRecordSaleValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	cases := []struct {
		name  string
		body  any
		field string
	}{
		{name: "empty cart", body: map[string]any{"payment_method": "cash", "cart": []any{}}, field: "cart"},
		{name: "zero quantity", body: chargerSale(0), field: "cart[0].quantity"},
		{name: "missing method", body: map[string]any{"cart": chargerSale(1)["cart"]}, field: "payment_method"},
		{name: "unknown method", body: map[string]any{"payment_method": "barter", "cart": chargerSale(1)["cart"]}, field: "payment_method"},
		{name: "negative price", body: map[string]any{"payment_method": "cash", "cart": []map[string]any{
			{"inventory_item_id": "inv-charger-typec", "quantity": 1, "unit_price": "-1"},
		}}, field: "cart[0].unit_price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/sales", env.token, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeBody[errorBody](t, rec)
			assert.Equal(t, "validation_failed", body.Code)
			assert.Equal(t, tc.field, body.Field)
			assert.False(t, body.Retryable)
		})
	}

	malformed := env.do(t, http.MethodPost, "/api/v1/sales", env.token, `{"cart": [`)
	assert.Equal(t, http.StatusBadRequest, malformed.Code)

	unknownField := env.do(t, http.MethodPost, "/api/v1/sales", env.token, `{"payment_method":"cash","discount":"10"}`)
	assert.Equal(t, http.StatusBadRequest, unknownField.Code)
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	env := newTestEnv(t, Options{})

	body := map[string]any{
		"payment_method": "mobile_money",
		"cart": []map[string]any{
			{"inventory_item_id": "inv-battery-ip11", "quantity": 6, "unit_price": "60000"},
		},
	}
	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.token, body)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	errBody := decodeBody[errorBody](t, rec)
	assert.Equal(t, "insufficient_stock", errBody.Code)
	assert.True(t, errBody.Retryable)
	assert.Equal(t, "inv-battery-ip11", errBody.Details["item_id"])
	assert.EqualValues(t, 5, errBody.Details["available"])
	assert.EqualValues(t, 6, errBody.Details["requested"])

	items, err := env.store.GetInventoryItems(context.Background(), memory.SeedAccountID, []string{"inv-battery-ip11"})
	require.NoError(t, err)
	assert.Equal(t, 5, items["inv-battery-ip11"].Quantity)
}

func TestRecordSaleUnknownItem(t *testing.T) {
	env := newTestEnv(t, Options{})

	body := map[string]any{
		"payment_method": "cash",
		"cart":           []map[string]any{{"inventory_item_id": "inv-missing", "quantity": 1, "unit_price": "100"}},
	}
	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.token, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[errorBody](t, rec).Code)
}

func TestJobPaymentFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	created := env.do(t, http.MethodPost, "/api/v1/jobs", env.token, map[string]any{
		"device_type": "Tecno Spark 10",
		"description": "Cracked screen",
		"items":       []map[string]any{{"description": "Screen replacement", "quantity": 1, "unit_price": "10000"}},
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	job := decodeBody[domain.JobResult](t, created).Job
	assertMoney(t, "11800", job.TotalAmount)
	assertMoney(t, "11800", job.BalanceDue)

	paid := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/payments", env.token,
		map[string]any{"amount": "5900", "payment_method": "mobile_money"}, "Idempotency-Key", "pay-1")
	require.Equal(t, http.StatusCreated, paid.Code, paid.Body.String())
	payment := decodeBody[domain.PaymentResult](t, paid)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, payment.Status)
	assertMoney(t, "5900", payment.Job.BalanceDue)
	assertMoney(t, "5000", payment.Receipt.Subtotal)
	assertMoney(t, "900", payment.Receipt.Tax)

	replay := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/payments", env.token,
		map[string]any{"amount": "5900", "payment_method": "mobile_money"}, "Idempotency-Key", "pay-1")
	require.Equal(t, http.StatusOK, replay.Code)
	assert.True(t, decodeBody[domain.PaymentResult](t, replay).Duplicate)

	ledgerRec := env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, env.token, nil)
	require.Equal(t, http.StatusOK, ledgerRec.Code)
	ledger := decodeBody[domain.JobLedger](t, ledgerRec)
	assert.Len(t, ledger.Payments, 1)
	assert.Len(t, ledger.LineItems, 1)

	invoiceRec := env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/invoice", env.token, nil)
	require.Equal(t, http.StatusOK, invoiceRec.Code)
	invoice := decodeBody[domain.Invoice](t, invoiceRec)
	assertMoney(t, "10000", invoice.Subtotal)
	assertMoney(t, "1800", invoice.Tax)
	assertMoney(t, "5900", invoice.AmountPaid)
	assertMoney(t, "5900", invoice.BalanceDue)

	receiptRec := env.do(t, http.MethodGet, "/api/v1/receipts/"+payment.Receipt.ReceiptNo, env.token, nil)
	require.Equal(t, http.StatusOK, receiptRec.Code)
	assertMoney(t, "5900", decodeBody[domain.Receipt](t, receiptRec).Amount)
}

func TestAddJobItemsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})

	created := env.do(t, http.MethodPost, "/api/v1/jobs", env.token, map[string]any{"device_type": "iPhone 11"})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	job := decodeBody[domain.JobResult](t, created).Job

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/items", env.token, map[string]any{
		"items": []map[string]any{{"inventory_item_id": "inv-battery-ip11", "quantity": 1, "unit_price": "60000"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[domain.JobResult](t, rec)
	assertMoney(t, "70800", res.Job.TotalAmount)
	assertMoney(t, "70800", res.Job.BalanceDue)

	empty := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/items", env.token, map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
	assert.Equal(t, "items", decodeBody[errorBody](t, empty).Field)
}

func TestPaymentErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	missing := env.do(t, http.MethodPost, "/api/v1/jobs/job-missing/payments", env.token,
		map[string]any{"amount": "100", "payment_method": "cash"})
	assert.Equal(t, http.StatusNotFound, missing.Code)

	created := env.do(t, http.MethodPost, "/api/v1/jobs", env.token, map[string]any{
		"items": []map[string]any{{"description": "Diagnostics", "quantity": 1, "unit_price": "1000"}},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	job := decodeBody[domain.JobResult](t, created).Job

	negative := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/payments", env.token,
		map[string]any{"amount": "-5", "payment_method": "cash"})
	require.Equal(t, http.StatusBadRequest, negative.Code)
	assert.Equal(t, "amount", decodeBody[errorBody](t, negative).Field)
}

func TestAccountScopeFollowsToken(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.token, chargerSale(1))
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decodeBody[domain.SaleResult](t, rec)

	other, _, err := env.auth.IssueToken("acct-repairs", "joel")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/jobs/"+res.Job.ID, other, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/receipts/"+res.Receipt.ReceiptNo, other, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/jobs/"+res.Job.ID, env.token, nil).Code)
}

type abortingEngine struct {
	Engine
}

func (abortingEngine) RecordSale(context.Context, string, domain.SaleRequest) (domain.SaleResult, error) {
	return domain.SaleResult{}, &domain.TransactionAbortedError{
		Op:    "RecordSale",
		Cause: errors.New("could not serialize access due to concurrent update"),
	}
}

func (abortingEngine) GetReceipt(context.Context, string, string) (domain.Receipt, error) {
	return domain.Receipt{}, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestAbortedAndInternalErrorsAreOpaque(t *testing.T) {
	env := newEnvWithEngine(t, nil, abortingEngine{}, Options{})

	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.token, chargerSale(1))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "transaction_aborted", body.Code)
	assert.True(t, body.Retryable)
	assert.NotContains(t, body.Error, "serialize")

	internal := env.do(t, http.MethodGet, "/api/v1/receipts/REC-1", env.token, nil)
	require.Equal(t, http.StatusInternalServerError, internal.Code)
	internalBody := decodeBody[errorBody](t, internal)
	assert.Equal(t, "internal_error", internalBody.Code)
	assert.Equal(t, "internal server error", internalBody.Error)
}
