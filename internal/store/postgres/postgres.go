package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

// Read committed plus SELECT ... FOR UPDATE: concurrent payments on one job
// and sales on one item queue on the row lock and then see the committed
// values, instead of failing with serialization errors.
var dialect = sqlstore.Dialect{
	Name:           "postgres",
	NumberedParams: true,
	LockClause:     "FOR UPDATE",
	TxOptions:      &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	Classify:       classify,
}

type Store struct {
	*sqlstore.Store
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{Store: sqlstore.New(db, dialect)}, nil
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB().ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	}
	return err
}
