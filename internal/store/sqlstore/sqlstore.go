// Package sqlstore implements the ledger store on database/sql. Driver
// specific behaviour (placeholders, row locks, error codes) comes from a
// Dialect supplied by the postgres and sqlite packages.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
)

type Dialect struct {
	Name string
	// NumberedParams rewrites ? placeholders to $1, $2, ...
	NumberedParams bool
	// LockClause is appended to SELECTs that must hold rows until commit.
	LockClause string
	TxOptions  *sql.TxOptions
	// Classify maps driver errors onto store.ErrDuplicate and
	// store.ErrConflict. Unknown errors are returned unchanged.
	Classify func(err error) error
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) classify(err error) error {
	if err == nil || d.Classify == nil {
		return err
	}
	return d.Classify(err)
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) reader() queries {
	return queries{q: s.db, d: s.dialect}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return s.dialect.classify(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{queries{q: sqlTx, d: s.dialect, lock: true}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.dialect.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context, accountID string) (domain.AccountSettings, error) {
	return s.reader().getSettings(ctx, accountID)
}

func (s *Store) GetCustomer(ctx context.Context, accountID string, id string) (domain.Customer, error) {
	return s.reader().getCustomer(ctx, accountID, id)
}

func (s *Store) GetJob(ctx context.Context, accountID string, id string) (domain.Job, error) {
	return s.reader().getJob(ctx, accountID, id)
}

func (s *Store) GetJobByRef(ctx context.Context, accountID string, ref string) (domain.Job, error) {
	job, err := s.reader().findJobByRef(ctx, accountID, ref)
	if err != nil {
		return domain.Job{}, err
	}
	if job == nil {
		return domain.Job{}, domain.NotFound("job", ref)
	}
	return *job, nil
}

func (s *Store) ListLineItems(ctx context.Context, accountID string, jobID string) ([]domain.JobLineItem, error) {
	return s.reader().listLineItems(ctx, accountID, jobID)
}

func (s *Store) ListPayments(ctx context.Context, accountID string, jobID string) ([]domain.Payment, error) {
	return s.reader().listPayments(ctx, accountID, jobID)
}

func (s *Store) GetPaymentByReceipt(ctx context.Context, accountID string, receiptNo string) (domain.Payment, error) {
	p, err := s.reader().findPaymentByReceipt(ctx, accountID, receiptNo)
	if err != nil {
		return domain.Payment{}, err
	}
	if p == nil {
		return domain.Payment{}, domain.NotFound("receipt", receiptNo)
	}
	return *p, nil
}

func (s *Store) GetInventoryItems(ctx context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error) {
	return s.reader().inventoryItems(ctx, accountID, ids)
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.AccountSettings) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO account_settings (account_id, shop_name, shop_phone, shop_email, shop_address, payment_details, tax_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			shop_name = excluded.shop_name,
			shop_phone = excluded.shop_phone,
			shop_email = excluded.shop_email,
			shop_address = excluded.shop_address,
			payment_details = excluded.payment_details,
			tax_percent = excluded.tax_percent
	`), settings.AccountID, settings.ShopName, settings.ShopPhone, settings.ShopEmail,
		settings.ShopAddress, settings.PaymentDetails, settings.TaxPercent)
	return s.dialect.classify(err)
}

func (s *Store) SaveCustomer(ctx context.Context, c domain.Customer) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO customers (account_id, id, name, phone, email, address, customer_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address,
			customer_type = excluded.customer_type
	`), c.AccountID, c.ID, c.Name, c.Phone, c.Email, c.Address, c.CustomerType)
	return s.dialect.classify(err)
}

// SaveInventoryItem is the manual stock edit path. It bumps the row version
// so in-flight version-guarded writers notice the change.
func (s *Store) SaveInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	if item.Quantity < 0 {
		return domain.Invalid("quantity", "must not be negative")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO inventory_items (account_id, id, sku, name, quantity, unit_price, reorder_level, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (account_id, id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price,
			reorder_level = excluded.reorder_level,
			version = inventory_items.version + 1
	`), item.AccountID, item.ID, item.SKU, item.Name, item.Quantity, item.UnitPrice, item.ReorderLevel)
	return s.dialect.classify(err)
}

type tx struct {
	queries
}

func (t *tx) GetSettings(ctx context.Context, accountID string) (domain.AccountSettings, error) {
	return t.getSettings(ctx, accountID)
}

func (t *tx) GetCustomer(ctx context.Context, accountID string, id string) (domain.Customer, error) {
	return t.getCustomer(ctx, accountID, id)
}

func (t *tx) FindJobByRef(ctx context.Context, accountID string, ref string) (*domain.Job, error) {
	return t.findJobByRef(ctx, accountID, ref)
}

func (t *tx) FindPaymentByReceipt(ctx context.Context, accountID string, receiptNo string) (*domain.Payment, error) {
	return t.findPaymentByReceipt(ctx, accountID, receiptNo)
}

func (t *tx) ListLineItems(ctx context.Context, accountID string, jobID string) ([]domain.JobLineItem, error) {
	return t.listLineItems(ctx, accountID, jobID)
}

func (t *tx) LockInventory(ctx context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error) {
	return t.inventoryItems(ctx, accountID, ids)
}

func (t *tx) LockJob(ctx context.Context, accountID string, id string) (domain.Job, error) {
	return t.getJob(ctx, accountID, id)
}

func (t *tx) InsertJob(ctx context.Context, job domain.Job) error {
	return t.insertJob(ctx, job)
}

func (t *tx) InsertLineItems(ctx context.Context, items []domain.JobLineItem) error {
	return t.insertLineItems(ctx, items)
}

func (t *tx) InsertPayment(ctx context.Context, payment domain.Payment) error {
	return t.insertPayment(ctx, payment)
}

func (t *tx) UpdateInventory(ctx context.Context, accountID string, changes []domain.StockChange) error {
	return t.updateInventory(ctx, accountID, changes)
}

func (t *tx) UpdateJobBalance(ctx context.Context, job domain.Job) error {
	return t.updateJobBalance(ctx, job)
}
