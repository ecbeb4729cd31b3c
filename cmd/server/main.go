package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/namandisafari-sketch/tech-biz-flow/internal/cache"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/config"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/httpapi"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/saga"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/service"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store/memory"
	pgstore "github.com/namandisafari-sketch/tech-biz-flow/internal/store/postgres"
	"github.com/namandisafari-sketch/tech-biz-flow/internal/store/sqlite"
)

const tokenTTL = 8 * time.Hour

func main() {
	issueFor := flag.String("issue-token", "", "print a bearer token for this staff member on DEFAULT_ACCOUNT_ID and exit")
	flag.Parse()

	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	auth := httpapi.NewAuthManager(cfg.AuthSecret, tokenTTL)

	if *issueFor != "" {
		if err := issueToken(os.Stdout, auth, cfg.DefaultAccountID, *issueFor); err != nil {
			logger.WithError(err).Fatal("could not issue token")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, auth); err != nil {
		logger.WithError(err).Fatal("server error")
	}
}

func issueToken(w io.Writer, auth *httpapi.AuthManager, accountID string, staff string) error {
	token, expiresAt, err := auth.IssueToken(accountID, staff)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n# account %s, expires %s\n", token, accountID, expiresAt.Format(time.RFC3339))
	return err
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger, auth *httpapi.AuthManager) error {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ledger, closers, err := openLedger(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	receipts, locker, cacheClosers := openCache(startCtx, cfg, logger)
	closers = append(closers, cacheClosers...)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.WithError(err).Warn("close failed")
			}
		}
	}()

	svc := service.New(ledger, receipts, locker, logger, service.Options{
		TxTimeout:       cfg.TxTimeout,
		ReceiptCacheTTL: cfg.ReceiptCacheTTL,
		PaymentLockTTL:  cfg.PaymentLockTTL,
	})
	api := httpapi.New(svc, auth, logger, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.TxTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Address()).Info("ledger api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.TxTimeout+2*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	logger.Info("server stopped")
	return nil
}

// openLedger picks the backing store. A DATABASE_URL that cannot be reached
// stops startup instead of falling back to memory.
func openLedger(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Ledger, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		logger.WithField("ledger", "postgres").Info("ledger ready")
		return pg, []func() error{pg.Close}, nil

	case cfg.SQLitePath != "":
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithFields(logrus.Fields{"ledger": "sqlite", "path": cfg.SQLitePath}).Info("ledger ready")
		return db, []func() error{db.Close}, nil
	}

	repo := memory.NewSeeded()
	if cfg.LedgerMode == config.LedgerModeSaga {
		logger.WithField("ledger", "memory-saga").Info("ledger ready")
		return saga.New(repo.Tables(), logger), nil, nil
	}
	logger.WithField("ledger", "memory").Info("ledger ready")
	return repo, nil, nil
}

// openCache connects Redis when configured. An unreachable Redis only
// degrades to no caching and no cross-instance payment lock.
func openCache(ctx context.Context, cfg config.Config, logger *logrus.Logger) (cache.ReceiptCache, cache.Locker, []func() error) {
	if cfg.RedisAddr == "" {
		logger.WithField("cache", "noop").Info("cache ready")
		return cache.NoopReceiptCache{}, cache.NoopLocker{}, nil
	}

	client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	receipts := cache.NewRedisReceiptCache(client)
	if err := receipts.Ping(ctx); err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis unavailable, using noop cache")
		_ = receipts.Close()
		return cache.NoopReceiptCache{}, cache.NoopLocker{}, nil
	}
	logger.WithField("cache", "redis").Info("cache ready")
	return receipts, cache.NewRedisLocker(client), []func() error{receipts.Close}
}
