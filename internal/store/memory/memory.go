package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/saga"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
)

const SeedAccountID = "main-account"

type state struct {
	settings         map[string]domain.AccountSettings
	customers        map[string]domain.Customer
	inventory        map[string]domain.InventoryItem
	jobs             map[string]domain.Job
	jobsByRef        map[string]string
	lineItems        map[string][]domain.JobLineItem
	payments         map[string][]domain.Payment
	paymentByReceipt map[string]string
	intents          map[string]saga.Intent
}

func newState() *state {
	return &state{
		settings:         map[string]domain.AccountSettings{},
		customers:        map[string]domain.Customer{},
		inventory:        map[string]domain.InventoryItem{},
		jobs:             map[string]domain.Job{},
		jobsByRef:        map[string]string{},
		lineItems:        map[string][]domain.JobLineItem{},
		payments:         map[string][]domain.Payment{},
		paymentByReceipt: map[string]string{},
		intents:          map[string]saga.Intent{},
	}
}

// clone copies every table. Row values are copied by value; slices are
// cloned so staged appends never alias committed state.
func (st *state) clone() *state {
	out := newState()
	for k, v := range st.settings {
		out.settings[k] = v
	}
	for k, v := range st.customers {
		out.customers[k] = v
	}
	for k, v := range st.inventory {
		out.inventory[k] = v
	}
	for k, v := range st.jobs {
		out.jobs[k] = v
	}
	for k, v := range st.jobsByRef {
		out.jobsByRef[k] = v
	}
	for k, v := range st.lineItems {
		out.lineItems[k] = slices.Clone(v)
	}
	for k, v := range st.payments {
		out.payments[k] = slices.Clone(v)
	}
	for k, v := range st.paymentByReceipt {
		out.paymentByReceipt[k] = v
	}
	for k, v := range st.intents {
		out.intents[k] = v
	}
	return out
}

// Store keeps the ledger in process memory. Units of work run against a
// staged copy that replaces committed state only when fn succeeds, and are
// serialized by the write lock.
type Store struct {
	mu    sync.RWMutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

// NewSeeded returns a store with one demo account, a walk-in customer and a
// few stocked parts.
func NewSeeded() *Store {
	s := New()
	st := s.state
	st.settings[SeedAccountID] = domain.AccountSettings{
		AccountID:  SeedAccountID,
		ShopName:   domain.DefaultShopName,
		ShopPhone:  "+256 700 000000",
		TaxPercent: decimal.NewFromInt(18),
	}
	st.customers[scoped(SeedAccountID, "cust-walkin")] = domain.Customer{
		ID:           "cust-walkin",
		AccountID:    SeedAccountID,
		Name:         "Walk-in Customer",
		CustomerType: "retail",
	}
	for _, item := range []domain.InventoryItem{
		{ID: "inv-screen-a12", SKU: "SCR-A12", Name: "Samsung A12 Screen", Quantity: 8, UnitPrice: decimal.NewFromInt(85000), ReorderLevel: 2},
		{ID: "inv-battery-ip11", SKU: "BAT-IP11", Name: "iPhone 11 Battery", Quantity: 5, UnitPrice: decimal.NewFromInt(60000), ReorderLevel: 2},
		{ID: "inv-charger-typec", SKU: "CHG-TC", Name: "Type-C Charger", Quantity: 20, UnitPrice: decimal.NewFromInt(15000), ReorderLevel: 5},
		{ID: "inv-tempered-glass", SKU: "TG-UNI", Name: "Tempered Glass", Quantity: 40, UnitPrice: decimal.NewFromInt(5000), ReorderLevel: 10},
	} {
		item.AccountID = SeedAccountID
		item.Version = 1
		st.inventory[scoped(SeedAccountID, item.ID)] = item
	}
	return s
}

func scoped(accountID string, key string) string {
	return accountID + "\x00" + key
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&tx{st: staged, now: time.Now().UTC()}); err != nil {
		return err
	}
	// A deadline that passed while fn ran aborts the unit like a database
	// statement timeout would.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) GetSettings(_ context.Context, accountID string) (domain.AccountSettings, error) {
	return s.read().getSettings(accountID), nil
}

func (s *Store) GetCustomer(_ context.Context, accountID string, id string) (domain.Customer, error) {
	return s.read().getCustomer(accountID, id)
}

func (s *Store) GetJob(_ context.Context, accountID string, id string) (domain.Job, error) {
	return s.read().getJob(accountID, id)
}

func (s *Store) GetJobByRef(_ context.Context, accountID string, ref string) (domain.Job, error) {
	job := s.read().findJobByRef(accountID, ref)
	if job == nil {
		return domain.Job{}, domain.NotFound("job", ref)
	}
	return *job, nil
}

func (s *Store) ListLineItems(_ context.Context, accountID string, jobID string) ([]domain.JobLineItem, error) {
	return s.read().listLineItems(accountID, jobID), nil
}

func (s *Store) ListPayments(_ context.Context, accountID string, jobID string) ([]domain.Payment, error) {
	st := s.read()
	out := make([]domain.Payment, 0, len(st.payments[jobID]))
	for _, p := range st.payments[jobID] {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) GetPaymentByReceipt(_ context.Context, accountID string, receiptNo string) (domain.Payment, error) {
	p := s.read().findPaymentByReceipt(accountID, receiptNo)
	if p == nil {
		return domain.Payment{}, domain.NotFound("receipt", receiptNo)
	}
	return *p, nil
}

func (s *Store) GetInventoryItems(_ context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error) {
	return s.read().inventoryItems(accountID, ids), nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.AccountSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.clone()
	s.state.settings[settings.AccountID] = settings
	return nil
}

func (s *Store) SaveCustomer(_ context.Context, customer domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.clone()
	s.state.customers[scoped(customer.AccountID, customer.ID)] = customer
	return nil
}

func (s *Store) SaveInventoryItem(_ context.Context, item domain.InventoryItem) error {
	if item.Quantity < 0 {
		return domain.Invalid("quantity", "must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.clone()
	key := scoped(item.AccountID, item.ID)
	if existing, ok := s.state.inventory[key]; ok {
		item.Version = existing.Version + 1
	} else if item.Version == 0 {
		item.Version = 1
	}
	s.state.inventory[key] = item
	return nil
}

func (st *state) getSettings(accountID string) domain.AccountSettings {
	if settings, ok := st.settings[accountID]; ok {
		return settings
	}
	return domain.DefaultSettings(accountID)
}

func (st *state) getCustomer(accountID string, id string) (domain.Customer, error) {
	customer, ok := st.customers[scoped(accountID, id)]
	if !ok {
		return domain.Customer{}, domain.NotFound("customer", id)
	}
	return customer, nil
}

func (st *state) getJob(accountID string, id string) (domain.Job, error) {
	job, ok := st.jobs[id]
	if !ok || job.AccountID != accountID {
		return domain.Job{}, domain.NotFound("job", id)
	}
	return job, nil
}

func (st *state) findJobByRef(accountID string, ref string) *domain.Job {
	id, ok := st.jobsByRef[scoped(accountID, ref)]
	if !ok {
		return nil
	}
	job := st.jobs[id]
	return &job
}

func (st *state) findPaymentByReceipt(accountID string, receiptNo string) *domain.Payment {
	jobID, ok := st.paymentByReceipt[scoped(accountID, receiptNo)]
	if !ok {
		return nil
	}
	for _, p := range st.payments[jobID] {
		if p.ReceiptNo == receiptNo {
			return &p
		}
	}
	return nil
}

func (st *state) listLineItems(accountID string, jobID string) []domain.JobLineItem {
	out := make([]domain.JobLineItem, 0, len(st.lineItems[jobID]))
	for _, item := range st.lineItems[jobID] {
		if item.AccountID == accountID {
			out = append(out, item)
		}
	}
	return out
}

func (st *state) inventoryItems(accountID string, ids []string) map[string]domain.InventoryItem {
	out := make(map[string]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := st.inventory[scoped(accountID, id)]; ok {
			out[id] = item
		}
	}
	return out
}

func (st *state) insertJob(job domain.Job) error {
	refKey := scoped(job.AccountID, job.JobRef)
	if _, exists := st.jobsByRef[refKey]; exists {
		return store.ErrDuplicate
	}
	if _, exists := st.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	st.jobs[job.ID] = job
	st.jobsByRef[refKey] = job.ID
	return nil
}

func (st *state) deleteJob(accountID string, id string) {
	job, ok := st.jobs[id]
	if !ok || job.AccountID != accountID {
		return
	}
	delete(st.jobsByRef, scoped(accountID, job.JobRef))
	delete(st.jobs, id)
	delete(st.lineItems, id)
}

func (st *state) insertLineItems(items []domain.JobLineItem) error {
	for _, item := range items {
		job, ok := st.jobs[item.JobID]
		if !ok || job.AccountID != item.AccountID {
			return domain.NotFound("job", item.JobID)
		}
	}
	for _, item := range items {
		st.lineItems[item.JobID] = append(st.lineItems[item.JobID], item)
	}
	return nil
}

func (st *state) deleteLineItems(accountID string, jobID string, ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	st.lineItems[jobID] = slices.DeleteFunc(slices.Clone(st.lineItems[jobID]), func(item domain.JobLineItem) bool {
		_, ok := drop[item.ID]
		return ok && item.AccountID == accountID
	})
}

func (st *state) insertPayment(p domain.Payment) error {
	job, ok := st.jobs[p.JobID]
	if !ok || job.AccountID != p.AccountID {
		return domain.NotFound("job", p.JobID)
	}
	receiptKey := scoped(p.AccountID, p.ReceiptNo)
	if _, exists := st.paymentByReceipt[receiptKey]; exists {
		return store.ErrDuplicate
	}
	st.payments[p.JobID] = append(st.payments[p.JobID], p)
	st.paymentByReceipt[receiptKey] = p.JobID
	return nil
}

func (st *state) deletePayment(accountID string, jobID string, id string) {
	var receiptNo string
	st.payments[jobID] = slices.DeleteFunc(slices.Clone(st.payments[jobID]), func(p domain.Payment) bool {
		if p.ID == id && p.AccountID == accountID {
			receiptNo = p.ReceiptNo
			return true
		}
		return false
	})
	if receiptNo != "" {
		delete(st.paymentByReceipt, scoped(accountID, receiptNo))
	}
}

func (st *state) updateInventory(accountID string, changes []domain.StockChange) error {
	for _, change := range changes {
		key := scoped(accountID, change.ItemID)
		item, ok := st.inventory[key]
		if !ok {
			return domain.NotFound("inventory item", change.ItemID)
		}
		if item.Version != change.ExpectedVersion {
			return store.ErrConcurrentModification
		}
		if change.Quantity < 0 {
			return &domain.InsufficientStockError{ItemID: item.ID, ItemName: item.Name, Available: item.Quantity, Requested: item.Quantity - change.Quantity}
		}
	}
	for _, change := range changes {
		key := scoped(accountID, change.ItemID)
		item := st.inventory[key]
		item.Quantity = change.Quantity
		item.Version++
		st.inventory[key] = item
	}
	return nil
}

func (st *state) updateJobBalance(job domain.Job, now time.Time) error {
	current, ok := st.jobs[job.ID]
	if !ok || current.AccountID != job.AccountID {
		return domain.NotFound("job", job.ID)
	}
	if current.Version != job.Version {
		return store.ErrConcurrentModification
	}
	current.TotalAmount = job.TotalAmount
	current.AmountPaid = job.AmountPaid
	current.BalanceDue = job.BalanceDue
	current.Status = job.Status
	current.Version++
	current.UpdatedAt = now
	st.jobs[job.ID] = current
	return nil
}
