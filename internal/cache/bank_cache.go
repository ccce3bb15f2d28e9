package cache

import (
	"time"
)

// bankCacheTTL is the bank-directory write-back cache lifetime.
const bankCacheTTL = 24 * time.Hour

// BankRecord is the cached projection of a bank-directory lookup. It
// mirrors internal/vop.BankRecord's shape without importing that
// package, so internal/cache stays a leaf dependency.
type BankRecord struct {
	Found      bool
	BankName   string
	BIC        string
	SDDCapable bool
}

// BankDirectoryCache is the 24h local cache in front of the remote bank
// directory lookup.
type BankDirectoryCache struct {
	store Cache[string, BankRecord]
}

func NewBankDirectoryCache() *BankDirectoryCache {
	return &BankDirectoryCache{store: NewTTLCache[string, BankRecord]()}
}

func (c *BankDirectoryCache) Get(country, bankCode string) (BankRecord, bool) {
	return c.store.Get(country + ":" + bankCode)
}

func (c *BankDirectoryCache) Set(country, bankCode string, record BankRecord) {
	c.store.Set(country+":"+bankCode, record, bankCacheTTL)
}
