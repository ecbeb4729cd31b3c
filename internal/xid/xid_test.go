package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromKeyIsStablePerAccount(t *testing.T) {
	a := FromKey(PrefixSale, "acct-1", "till-3-0001")
	b := FromKey(PrefixSale, "acct-1", "till-3-0001")
	other := FromKey(PrefixSale, "acct-2", "till-3-0001")
	receipt := FromKey(PrefixReceipt, "acct-1", "till-3-0001")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	assert.NotEqual(t, strings.TrimPrefix(a, "SALE-"), strings.TrimPrefix(receipt, "REC-"))
	assert.True(t, strings.HasPrefix(a, "SALE-"))
	assert.Len(t, a, len("SALE-")+32)
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		ref := New(PrefixReceipt)
		_, dup := seen[ref]
		assert.False(t, dup, "duplicate ref %s", ref)
		seen[ref] = struct{}{}
	}
}

func TestFromKeyWithoutKeyIsRandom(t *testing.T) {
	assert.NotEqual(t, FromKey(PrefixJob, "acct-1", ""), FromKey(PrefixJob, "acct-1", ""))
}
