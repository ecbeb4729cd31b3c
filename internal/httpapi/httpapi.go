package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

const moduleName = "httpapi"

// Engine is the ledger surface the API drives.
type Engine interface {
	RecordSale(ctx context.Context, accountID string, req domain.SaleRequest) (domain.SaleResult, error)
	RecordPayment(ctx context.Context, accountID string, req domain.PaymentRequest) (domain.PaymentResult, error)
	CreateJob(ctx context.Context, accountID string, req domain.JobRequest) (domain.JobResult, error)
	AddJobItems(ctx context.Context, accountID string, jobID string, items []domain.JobItemInput) (domain.JobResult, error)
	GetJobLedger(ctx context.Context, accountID string, jobID string) (domain.JobLedger, error)
	GetInvoice(ctx context.Context, accountID string, jobID string) (domain.Invoice, error)
	GetReceipt(ctx context.Context, accountID string, receiptNo string) (domain.Receipt, error)
}

type Options struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type API struct {
	engine   Engine
	auth     *AuthManager
	limiter  *accountLimiter
	logger   *logrus.Logger
	validate *validator.Validate
	origins  []string
}

func New(engine Engine, auth *AuthManager, logger *logrus.Logger, opts Options) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		engine:   engine,
		auth:     auth,
		limiter:  newAccountLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		logger:   logger,
		validate: newValidator(),
		origins:  opts.AllowedOrigins,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Use(a.rateLimit)

		r.Post("/sales", a.handleRecordSale)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.handleCreateJob)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", a.handleGetJob)
				r.Get("/invoice", a.handleGetInvoice)
				r.Post("/items", a.handleAddJobItems)
				r.Post("/payments", a.handleRecordPayment)
			})
		})
		r.Get("/receipts/{receiptNo}", a.handleGetReceipt)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	var req domain.SaleRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idempotencyKey(r)
	}
	if req.ServedBy == "" {
		req.ServedBy = principal.Staff
	}

	res, err := a.engine.RecordSale(r.Context(), principal.AccountID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, createdStatus(res.Duplicate), res)
}

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	var req domain.JobRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idempotencyKey(r)
	}

	res, err := a.engine.CreateJob(r.Context(), principal.AccountID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, createdStatus(res.Duplicate), res)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	ledger, err := a.engine.GetJobLedger(r.Context(), principal.AccountID, chi.URLParam(r, "jobID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	invoice, err := a.engine.GetInvoice(r.Context(), principal.AccountID, chi.URLParam(r, "jobID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

type addItemsRequest struct {
	Items []domain.JobItemInput `json:"items" validate:"required,min=1,dive"`
}

func (a *API) handleAddJobItems(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	var req addItemsRequest
	if !a.decode(w, r, &req) {
		return
	}

	res, err := a.engine.AddJobItems(r.Context(), principal.AccountID, chi.URLParam(r, "jobID"), req.Items)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	var req domain.PaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.JobID = chi.URLParam(r, "jobID")
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idempotencyKey(r)
	}
	if req.ServedBy == "" {
		req.ServedBy = principal.Staff
	}

	res, err := a.engine.RecordPayment(r.Context(), principal.AccountID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, createdStatus(res.Duplicate), res)
}

func (a *API) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	receipt, err := a.engine.GetReceipt(r.Context(), principal.AccountID, chi.URLParam(r, "receiptNo"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

// A replayed write answers 200 with the stored result instead of 201.
func createdStatus(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

// decode reads a JSON body into dest and runs its validate tags. On failure
// the response has been written and decode returns false.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(w, r, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		a.writeError(w, r, http.StatusBadRequest, domain.Invalid("", "malformed JSON body: %v", err))
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		a.writeError(w, r, http.StatusBadRequest, validationError(err))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Invalid("", "%v", err)
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	if fe.Param() != "" {
		return domain.Invalid(field, "failed %s=%s", fe.Tag(), fe.Param())
	}
	return domain.Invalid(field, "failed %s", fe.Tag())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTransactionAborted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "insufficient_stock"
	case http.StatusRequestEntityTooLarge:
		return "body_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "transaction_aborted"
	}
	return "internal_error"
}

type errorBody struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Field     string         `json:"field,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.writeError(w, r, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := errorBody{
		Error:     err.Error(),
		Code:      codeFor(status),
		Retryable: domain.IsRetryable(err),
	}

	var (
		validation *domain.ValidationError
		stock      *domain.InsufficientStockError
	)
	if errors.As(err, &validation) {
		body.Field = validation.Field
	}
	if errors.As(err, &stock) {
		body.Details = map[string]any{
			"item_id":   stock.ItemID,
			"item_name": stock.ItemName,
			"available": stock.Available,
			"requested": stock.Requested,
		}
	}

	entry := a.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
		"status":     status,
	})
	switch {
	case status == http.StatusServiceUnavailable:
		entry.WithError(err).Warn("request aborted")
		w.Header().Set("Retry-After", "1")
		body.Error = "transaction aborted, nothing was recorded"
	case status >= 500:
		entry.WithError(err).Error("internal error")
		body.Error = "internal server error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
