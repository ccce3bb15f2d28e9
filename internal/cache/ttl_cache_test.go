package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheRoundTrip(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, got)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)
	c.Delete("a")

	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestBankDirectoryCache(t *testing.T) {
	c := NewBankDirectoryCache()
	record := BankRecord{Found: true, BankName: "Commerzbank", BIC: "COBADEFFXXX", SDDCapable: true}
	c.Set("DE", "37040044", record)

	got, ok := c.Get("DE", "37040044")
	require.True(t, ok)
	require.Equal(t, record, got)

	_, ok = c.Get("DE", "00000000")
	require.False(t, ok)
}
