package vop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
	"github.com/smallbiznis/sepa-recovery/internal/cache"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// CacheStore is the relational bank-cache seam, satisfied by the
// repository Store.
type CacheStore interface {
	GetBankCacheEntry(ctx context.Context, country, bankCode string) (*debtordomain.BankCacheEntry, error)
	UpsertBankCacheEntry(ctx context.Context, entry *debtordomain.BankCacheEntry) error
}

// RemoteDirectory is the wrapped remote bank-lookup service.
type RemoteDirectory interface {
	Lookup(ctx context.Context, country, bankCode string) (BankRecord, error)
}

// CachedBankDirectory answers lookups from a hot in-process cache, then
// the bank_cache table, then the remote service, writing remote results
// back through both cache tiers.
type CachedBankDirectory struct {
	store  CacheStore
	remote RemoteDirectory
	hot    *cache.BankDirectoryCache
	genID  *snowflake.Node
	log    *zap.Logger
}

func NewCachedBankDirectory(store CacheStore, remote RemoteDirectory, genID *snowflake.Node, log *zap.Logger) *CachedBankDirectory {
	return &CachedBankDirectory{
		store:  store,
		remote: remote,
		hot:    cache.NewBankDirectoryCache(),
		genID:  genID,
		log:    log.Named("vop.bankdir"),
	}
}

func (d *CachedBankDirectory) Lookup(ctx context.Context, country, bankCode string) (BankRecord, error) {
	if country == "" || bankCode == "" {
		return BankRecord{}, nil
	}

	if hit, ok := d.hot.Get(country, bankCode); ok {
		return BankRecord{
			Found:      hit.Found,
			BankName:   hit.BankName,
			BIC:        hit.BIC,
			SDDCapable: hit.SDDCapable,
			CacheHit:   true,
		}, nil
	}

	if d.store != nil {
		entry, err := d.store.GetBankCacheEntry(ctx, country, bankCode)
		if err != nil {
			return BankRecord{}, err
		}
		if entry != nil {
			record := BankRecord{
				Found:      entry.Found,
				BankName:   entry.BankName,
				BIC:        entry.BIC,
				SDDCapable: entry.SDDCapable,
				CacheHit:   true,
			}
			d.hot.Set(country, bankCode, cache.BankRecord{
				Found: entry.Found, BankName: entry.BankName, BIC: entry.BIC, SDDCapable: entry.SDDCapable,
			})
			return record, nil
		}
	}

	if d.remote == nil {
		return BankRecord{}, nil
	}
	record, err := d.remote.Lookup(ctx, country, bankCode)
	if err != nil {
		return BankRecord{}, err
	}
	record.CacheHit = false

	d.hot.Set(country, bankCode, cache.BankRecord{
		Found: record.Found, BankName: record.BankName, BIC: record.BIC, SDDCapable: record.SDDCapable,
	})
	if d.store != nil {
		entry := &debtordomain.BankCacheEntry{
			ID:         d.genID.Generate(),
			Country:    country,
			BankCode:   bankCode,
			Found:      record.Found,
			BankName:   record.BankName,
			BIC:        record.BIC,
			SDDCapable: record.SDDCapable,
		}
		if err := d.store.UpsertBankCacheEntry(ctx, entry); err != nil {
			d.log.Warn("bank cache write-back failed", zap.Error(err))
		}
	}
	return record, nil
}

// httpRemoteDirectory implements RemoteDirectory over the vendor's JSON
// lookup endpoint.
type httpRemoteDirectory struct {
	baseURL string
	http    *http.Client
}

// NewRemoteDirectory builds the remote bank-lookup client from process
// configuration. An empty base URL disables remote lookups entirely.
func NewRemoteDirectory(cfg config.Config) RemoteDirectory {
	if cfg.BankDirectoryBaseURL == "" {
		return nil
	}
	return &httpRemoteDirectory{
		baseURL: cfg.BankDirectoryBaseURL,
		http:    &http.Client{Timeout: time.Duration(cfg.BAVTimeoutSec) * time.Second},
	}
}

type bankLookupResponse struct {
	Found      bool   `json:"found"`
	BankName   string `json:"bank_name"`
	BIC        string `json:"bic"`
	SDDCapable bool   `json:"sdd_capable"`
}

func (c *httpRemoteDirectory) Lookup(ctx context.Context, country, bankCode string) (BankRecord, error) {
	url := fmt.Sprintf("%s/v1/banks/%s/%s", c.baseURL, country, bankCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return BankRecord{}, apperrors.Wrap(apperrors.KindInternal, "build bank lookup request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return BankRecord{}, apperrors.Wrap(apperrors.KindUnavailable, "bank lookup failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return BankRecord{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return BankRecord{}, apperrors.New(apperrors.KindUnavailable, fmt.Sprintf("bank lookup status %d", resp.StatusCode))
	}

	var payload bankLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return BankRecord{}, apperrors.Wrap(apperrors.KindInternal, "decode bank lookup response", err)
	}
	return BankRecord{
		Found:      payload.Found,
		BankName:   payload.BankName,
		BIC:        payload.BIC,
		SDDCapable: payload.SDDCapable,
	}, nil
}
