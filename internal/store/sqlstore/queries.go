package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// queries runs statements against either the pool or an open transaction.
// lock is set inside transactions and adds the dialect's row lock clause.
type queries struct {
	q    querier
	d    Dialect
	lock bool
}

func (qs queries) locked(query string) string {
	if qs.lock && qs.d.LockClause != "" {
		query += " " + qs.d.LockClause
	}
	return qs.d.rebind(query)
}

func (qs queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := qs.q.ExecContext(ctx, qs.d.rebind(query), args...)
	return res, qs.d.classify(err)
}

const jobColumns = `id, account_id, job_ref, kind, customer_id, device_type, description, status,
	tax_percent, total_amount, amount_paid, balance_due, idempotency_key, version, created_at, updated_at`

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var customerID sql.NullString
	var kind string
	if err := row.Scan(
		&job.ID, &job.AccountID, &job.JobRef, &kind, &customerID, &job.DeviceType, &job.Description, &job.Status,
		&job.TaxPercent, &job.TotalAmount, &job.AmountPaid, &job.BalanceDue, &job.IdempotencyKey, &job.Version,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}
	job.Kind = domain.JobKind(kind)
	if customerID.Valid {
		job.CustomerID = &customerID.String
	}
	return job, nil
}

func (qs queries) getSettings(ctx context.Context, accountID string) (domain.AccountSettings, error) {
	settings := domain.AccountSettings{AccountID: accountID}
	err := qs.q.QueryRowContext(ctx, qs.d.rebind(`
		SELECT shop_name, shop_phone, shop_email, shop_address, payment_details, tax_percent
		FROM account_settings
		WHERE account_id = ?
	`), accountID).Scan(&settings.ShopName, &settings.ShopPhone, &settings.ShopEmail,
		&settings.ShopAddress, &settings.PaymentDetails, &settings.TaxPercent)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(accountID), nil
	}
	if err != nil {
		return domain.AccountSettings{}, qs.d.classify(err)
	}
	return settings, nil
}

func (qs queries) getCustomer(ctx context.Context, accountID string, id string) (domain.Customer, error) {
	c := domain.Customer{AccountID: accountID}
	err := qs.q.QueryRowContext(ctx, qs.d.rebind(`
		SELECT id, name, phone, email, address, customer_type
		FROM customers
		WHERE account_id = ? AND id = ?
	`), accountID, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.CustomerType)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, domain.NotFound("customer", id)
	}
	if err != nil {
		return domain.Customer{}, qs.d.classify(err)
	}
	return c, nil
}

func (qs queries) getJob(ctx context.Context, accountID string, id string) (domain.Job, error) {
	row := qs.q.QueryRowContext(ctx, qs.locked(`SELECT `+jobColumns+` FROM jobs WHERE account_id = ? AND id = ?`), accountID, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.NotFound("job", id)
	}
	if err != nil {
		return domain.Job{}, qs.d.classify(err)
	}
	return job, nil
}

func (qs queries) findJobByRef(ctx context.Context, accountID string, ref string) (*domain.Job, error) {
	row := qs.q.QueryRowContext(ctx, qs.d.rebind(`SELECT `+jobColumns+` FROM jobs WHERE account_id = ? AND job_ref = ?`), accountID, ref)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.d.classify(err)
	}
	return &job, nil
}

func (qs queries) listLineItems(ctx context.Context, accountID string, jobID string) ([]domain.JobLineItem, error) {
	rows, err := qs.q.QueryContext(ctx, qs.d.rebind(`
		SELECT id, job_id, inventory_item_id, description, quantity, unit_price, total, created_at
		FROM job_items
		WHERE account_id = ? AND job_id = ?
		ORDER BY created_at, id
	`), accountID, jobID)
	if err != nil {
		return nil, qs.d.classify(err)
	}
	defer rows.Close()

	items := make([]domain.JobLineItem, 0, 8)
	for rows.Next() {
		item := domain.JobLineItem{AccountID: accountID}
		var inventoryID sql.NullString
		if err := rows.Scan(&item.ID, &item.JobID, &inventoryID, &item.Description, &item.Quantity,
			&item.UnitPrice, &item.Total, &item.CreatedAt); err != nil {
			return nil, err
		}
		if inventoryID.Valid {
			item.InventoryItemID = &inventoryID.String
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const paymentColumns = `id, job_id, receipt_no, amount, payment_method, payment_reference, served_by, payment_date, job_total, balance_after`

func scanPayment(row rowScanner, accountID string) (domain.Payment, error) {
	p := domain.Payment{AccountID: accountID}
	var method string
	if err := row.Scan(&p.ID, &p.JobID, &p.ReceiptNo, &p.Amount, &method, &p.PaymentReference, &p.ServedBy, &p.PaymentDate, &p.JobTotal, &p.BalanceAfter); err != nil {
		return domain.Payment{}, err
	}
	p.PaymentMethod = domain.PaymentMethod(method)
	return p, nil
}

func (qs queries) listPayments(ctx context.Context, accountID string, jobID string) ([]domain.Payment, error) {
	rows, err := qs.q.QueryContext(ctx, qs.d.rebind(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE account_id = ? AND job_id = ?
		ORDER BY payment_date, id
	`), accountID, jobID)
	if err != nil {
		return nil, qs.d.classify(err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		p, err := scanPayment(rows, accountID)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (qs queries) findPaymentByReceipt(ctx context.Context, accountID string, receiptNo string) (*domain.Payment, error) {
	row := qs.q.QueryRowContext(ctx, qs.d.rebind(`SELECT `+paymentColumns+` FROM payments WHERE account_id = ? AND receipt_no = ?`), accountID, receiptNo)
	p, err := scanPayment(row, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qs.d.classify(err)
	}
	return &p, nil
}

// inventoryItems reads items in id order so concurrent lockers acquire row
// locks in the same order.
func (qs queries) inventoryItems(ctx context.Context, accountID string, ids []string) (map[string]domain.InventoryItem, error) {
	out := make(map[string]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	args := make([]any, 0, len(sorted)+1)
	args = append(args, accountID)
	for _, id := range sorted {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sorted)), ", ")

	rows, err := qs.q.QueryContext(ctx, qs.locked(`
		SELECT account_id, id, sku, name, quantity, unit_price, reorder_level, version
		FROM inventory_items
		WHERE account_id = ? AND id IN (`+placeholders+`)
		ORDER BY id`), args...)
	if err != nil {
		return nil, qs.d.classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.AccountID, &item.ID, &item.SKU, &item.Name, &item.Quantity,
			&item.UnitPrice, &item.ReorderLevel, &item.Version); err != nil {
			return nil, err
		}
		out[item.ID] = item
	}
	return out, rows.Err()
}

func (qs queries) insertJob(ctx context.Context, job domain.Job) error {
	_, err := qs.exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.AccountID, job.JobRef, string(job.Kind), nullIfEmpty(job.CustomerID), job.DeviceType,
		job.Description, job.Status, job.TaxPercent, job.TotalAmount, job.AmountPaid, job.BalanceDue,
		job.IdempotencyKey, job.Version, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.JobRef, err)
	}
	return nil
}

func (qs queries) insertLineItems(ctx context.Context, items []domain.JobLineItem) error {
	for _, item := range items {
		if _, err := qs.exec(ctx, `
			INSERT INTO job_items (id, account_id, job_id, inventory_item_id, description, quantity, unit_price, total, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, item.AccountID, item.JobID, nullIfEmpty(item.InventoryItemID), item.Description,
			item.Quantity, item.UnitPrice, item.Total, item.CreatedAt); err != nil {
			return fmt.Errorf("insert job item: %w", err)
		}
	}
	return nil
}

func (qs queries) insertPayment(ctx context.Context, p domain.Payment) error {
	_, err := qs.exec(ctx, `
		INSERT INTO payments (id, account_id, job_id, receipt_no, amount, payment_method, payment_reference, served_by, payment_date, job_total, balance_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.AccountID, p.JobID, p.ReceiptNo, p.Amount, string(p.PaymentMethod), p.PaymentReference,
		p.ServedBy, p.PaymentDate, p.JobTotal, p.BalanceAfter)
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ReceiptNo, err)
	}
	return nil
}

func (qs queries) updateInventory(ctx context.Context, accountID string, changes []domain.StockChange) error {
	for _, c := range changes {
		if c.Quantity < 0 {
			return &domain.InvariantViolationError{Entity: "inventory item", ID: c.ItemID, Detail: "refusing to write negative quantity"}
		}
		res, err := qs.exec(ctx, `
			UPDATE inventory_items
			SET quantity = ?, version = version + 1
			WHERE account_id = ? AND id = ? AND version = ?
		`, c.Quantity, accountID, c.ItemID, c.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update stock %s: %w", c.ItemID, err)
		}
		if err := expectOneRow(res); err != nil {
			return fmt.Errorf("update stock %s: %w", c.ItemID, err)
		}
	}
	return nil
}

func (qs queries) updateJobBalance(ctx context.Context, job domain.Job) error {
	res, err := qs.exec(ctx, `
		UPDATE jobs
		SET total_amount = ?, amount_paid = ?, balance_due = ?, status = ?, version = version + 1, updated_at = ?
		WHERE account_id = ? AND id = ? AND version = ?
	`, job.TotalAmount, job.AmountPaid, job.BalanceDue, job.Status, time.Now().UTC(), job.AccountID, job.ID, job.Version)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return store.ErrConcurrentModification
	}
	return nil
}

func nullIfEmpty(val *string) any {
	if val == nil || *val == "" {
		return nil
	}
	return *val
}
