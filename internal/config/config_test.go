package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := FromViper(newViper())
	assert.Empty(t, cfg.AuthSecret)
	require.Error(t, cfg.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("TX_TIMEOUT_SECONDS", "3")
	t.Setenv("RECEIPT_CACHE_TTL_SECONDS", "-5")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("AUTH_SECRET", "  0123456789abcdef0123456789abcdef  ")

	cfg := FromViper(newViper())
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.TxTimeout)
	assert.Equal(t, 600*time.Second, cfg.ReceiptCacheTTL)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.AuthSecret)
	assert.Equal(t, LedgerModeTx, cfg.LedgerMode)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsTwoDatabases(t *testing.T) {
	cfg := Config{
		AuthSecret:  "0123456789abcdef0123456789abcdef",
		DatabaseURL: "postgres://localhost/ledger",
		SQLitePath:  "ledger.db",
	}
	require.Error(t, cfg.Validate())
}

func TestValidateLedgerMode(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"

	require.NoError(t, Config{AuthSecret: secret, LedgerMode: LedgerModeSaga}.Validate())
	require.Error(t, Config{AuthSecret: secret, LedgerMode: LedgerModeSaga, SQLitePath: "ledger.db"}.Validate())
	require.Error(t, Config{AuthSecret: secret, LedgerMode: "eventual"}.Validate())
}

func TestLogErrorWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug")
	logger.SetOutput(&buf)

	LogError(logger, "service", "RecordSale", "commit", map[string]string{"job_ref": "SALE-1"}, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, "service", entry["module"])
	assert.Equal(t, "RecordSale", entry["funcName"])
	assert.Equal(t, logrus.ErrorLevel.String(), entry["level"])
}

func TestLogAlertSetsTopLevelAlert(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info")
	logger.SetOutput(&buf)

	LogAlert(logger, "service", "RecordPayment", "post-commit verification", map[string]string{"job_id": "job-1"}, errors.New("balance mismatch"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, true, entry["alert"])
	assert.Equal(t, "balance mismatch", entry["msg"])
	assert.Equal(t, map[string]any{"job_id": "job-1"}, entry["data"])
}
