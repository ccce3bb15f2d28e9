package vop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
	"github.com/smallbiznis/sepa-recovery/internal/config"
)

// httpBAVClient implements BAVClient over the vendor's JSON name-match
// endpoint. The wire shape is the vendor's, wrapped here and nowhere
// else.
type httpBAVClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewBAVClient builds the remote name-match client from process
// configuration. An empty base URL disables BAV: every verification
// resolves to unavailable.
func NewBAVClient(cfg config.Config) BAVClient {
	if cfg.BAVBaseURL == "" {
		return nil
	}
	return &httpBAVClient{
		baseURL: cfg.BAVBaseURL,
		apiKey:  cfg.BAVAPIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.BAVTimeoutSec) * time.Second},
	}
}

type bavRequest struct {
	IBAN      string `json:"iban"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type bavResponse struct {
	NameMatch string `json:"name_match"`
}

func (c *httpBAVClient) VerifyName(ctx context.Context, iban, firstName, lastName string) (NameMatch, error) {
	payload, err := json.Marshal(bavRequest{IBAN: iban, FirstName: firstName, LastName: lastName})
	if err != nil {
		return NameMatchUnavailable, apperrors.Wrap(apperrors.KindInternal, "encode bav request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/verify-name", bytes.NewReader(payload))
	if err != nil {
		return NameMatchUnavailable, apperrors.Wrap(apperrors.KindInternal, "build bav request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NameMatchUnavailable, apperrors.Wrap(apperrors.KindUnavailable, "bav call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NameMatchUnavailable, apperrors.New(apperrors.KindUnavailable, fmt.Sprintf("bav status %d", resp.StatusCode))
	}

	var decoded bavResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return NameMatchUnavailable, apperrors.Wrap(apperrors.KindInternal, "decode bav response", err)
	}

	switch decoded.NameMatch {
	case "yes":
		return NameMatchYes, nil
	case "partial":
		return NameMatchPartial, nil
	case "no":
		return NameMatchNo, nil
	default:
		return NameMatchUnavailable, nil
	}
}
