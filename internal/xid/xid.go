package xid

import (
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixSale    = "SALE"
	PrefixJob     = "JOB"
	PrefixReceipt = "REC"
)

var namespace = uuid.MustParse("6f1c3f0e-3b5a-4c55-9a57-2f4f8d1d7c21")

// New returns a random reference such as SALE-9F0C2B1E5D7A4E7C8B3A6D2F1E0C9B8A.
func New(prefix string) string {
	return format(prefix, uuid.New())
}

// FromKey derives the reference for an idempotency key. The same account,
// prefix and key always give the same reference, so a retried request
// collides with the first one instead of creating a second row.
func FromKey(prefix string, accountID string, key string) string {
	if key == "" {
		return New(prefix)
	}
	return format(prefix, uuid.NewSHA1(namespace, []byte(accountID+"\x00"+prefix+"\x00"+key)))
}

// ID returns a fresh row identifier.
func ID() string {
	return uuid.NewString()
}

func format(prefix string, id uuid.UUID) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}
