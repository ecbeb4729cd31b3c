// Package sqlite backs the ledger with a single SQLite file. Transactions
// begin IMMEDIATE, so one writer holds the database at a time and stock or
// balance reads inside a unit of work cannot go stale before the write.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name:     "sqlite",
	Classify: classify,
}

type Store struct {
	*sqlstore.Store
}

// New opens (creating if needed) the database at path and migrates it.
func New(path string) (*Store, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{Store: sqlstore.New(db, dialect)}, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", store.ErrDuplicate, sqliteErr)
	case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", store.ErrConflict, sqliteErr)
	}
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS account_settings (
	account_id      TEXT PRIMARY KEY,
	shop_name       TEXT NOT NULL DEFAULT 'Tech Biz Track',
	shop_phone      TEXT NOT NULL DEFAULT '',
	shop_email      TEXT NOT NULL DEFAULT '',
	shop_address    TEXT NOT NULL DEFAULT '',
	payment_details TEXT NOT NULL DEFAULT '',
	tax_percent     TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS customers (
	account_id    TEXT NOT NULL,
	id            TEXT NOT NULL,
	name          TEXT NOT NULL,
	phone         TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	customer_type TEXT NOT NULL DEFAULT 'retail',
	PRIMARY KEY (account_id, id)
);

-- Money is stored as decimal text so values round-trip exactly.
CREATE TABLE IF NOT EXISTS inventory_items (
	account_id    TEXT NOT NULL,
	id            TEXT NOT NULL,
	sku           TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	quantity      INTEGER NOT NULL CHECK (quantity >= 0),
	unit_price    TEXT NOT NULL,
	reorder_level INTEGER NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (account_id, id)
);

CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	job_ref         TEXT NOT NULL,
	kind            TEXT NOT NULL,
	customer_id     TEXT,
	device_type     TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	tax_percent     TEXT NOT NULL DEFAULT '0',
	total_amount    TEXT NOT NULL,
	amount_paid     TEXT NOT NULL DEFAULT '0',
	balance_due     TEXT NOT NULL,
	idempotency_key TEXT NOT NULL DEFAULT '',
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	UNIQUE (account_id, job_ref)
);

CREATE TABLE IF NOT EXISTS job_items (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL,
	job_id            TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	inventory_item_id TEXT,
	description       TEXT NOT NULL,
	quantity          INTEGER NOT NULL CHECK (quantity > 0),
	unit_price        TEXT NOT NULL,
	total             TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_items_job ON job_items (account_id, job_id);

CREATE TABLE IF NOT EXISTS payments (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL,
	job_id            TEXT NOT NULL REFERENCES jobs (id),
	receipt_no        TEXT NOT NULL,
	amount            TEXT NOT NULL,
	payment_method    TEXT NOT NULL,
	payment_reference TEXT NOT NULL DEFAULT '',
	served_by         TEXT NOT NULL DEFAULT '',
	payment_date      TIMESTAMP NOT NULL,
	job_total         TEXT NOT NULL,
	balance_after     TEXT NOT NULL,
	UNIQUE (account_id, receipt_no)
);

CREATE INDEX IF NOT EXISTS idx_payments_job ON payments (account_id, job_id);
`
