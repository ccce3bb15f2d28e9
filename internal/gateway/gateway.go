// Package gateway wraps the upstream payment gateway's XML wire protocol.
// The wire shape is given by the external interface contract, not
// re-derived: this package only marshals/unmarshals it and exposes a Go
// client with a stable status vocabulary to the rest of the pipeline.
package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
	"github.com/smallbiznis/sepa-recovery/internal/config"
)

// Status is the closed set of gateway-reported statuses, already mapped
// through the status table in the external-interface contract.
type Status string

const (
	StatusApproved     Status = "approved"
	StatusDeclined     Status = "declined"
	StatusError        Status = "error"
	StatusVoided       Status = "voided"
	StatusPending      Status = "pending"
	StatusChargebacked Status = "chargebacked"
	StatusUnchanged    Status = "unchanged"
)

// MapStatus applies the closed status-mapping table from the external
// interface contract: pending and pending_async both collapse to pending;
// anything unrecognized maps to "unchanged" (no transition).
func MapStatus(wire string) Status {
	switch wire {
	case "approved":
		return StatusApproved
	case "declined":
		return StatusDeclined
	case "error":
		return StatusError
	case "voided":
		return StatusVoided
	case "chargebacked":
		return StatusChargebacked
	case "pending", "pending_async":
		return StatusPending
	default:
		return StatusUnchanged
	}
}

// ChargeResult is the normalized response shape shared by charge and
// reconcile calls.
type ChargeResult struct {
	UniqueID     string
	Status       Status
	ErrorCode    string
	ErrorMessage string
}

// ChargebackDetail carries everything the pipeline records about one
// chargeback event: the reason code/description, the card network's ARN,
// the disputed amount, and the raw notification for auditing. Webhook
// payloads fill every field; the chargeback_detail endpoint only returns
// the reason.
type ChargebackDetail struct {
	ReasonCode       string
	Description      string
	ARN              string
	Type             string
	AmountMinorUnits int64
	Currency         string
	PostDate         *time.Time
	Raw              map[string]interface{}
}

// Page is one page of a bulk transaction refresh.
type Page struct {
	Transactions []ChargeResult
	HasMore      bool
	PagesCount   int
}

// Client is the minimal surface the billing worker, webhook handler, and
// reconciler need from the upstream gateway.
type Client interface {
	Charge(ctx context.Context, amountMinorUnits int64, currency, iban, mandateContext, idempotencyKey string) (ChargeResult, error)
	Reconcile(ctx context.Context, uniqueID string) (ChargeResult, error)
	Void(ctx context.Context, uniqueID string) (bool, error)
	Page(ctx context.Context, from, to time.Time, pageNumber int) (Page, error)
	ChargebackDetail(ctx context.Context, uniqueID string) (ChargebackDetail, error)
}

// httpClient implements Client over the vendor's XML request/response
// protocol. The exact element names are part of the external interface
// contract, not invented here.
type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a gateway Client from process configuration.
func New(cfg config.Config) Client {
	return &httpClient{
		baseURL: cfg.GatewayBaseURL,
		apiKey:  cfg.GatewayAPIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.GatewayTimeoutSec) * time.Second},
	}
}

type xmlChargeRequest struct {
	XMLName        xml.Name `xml:"charge_request"`
	Amount         int64    `xml:"amount"`
	Currency       string   `xml:"currency"`
	IBAN           string   `xml:"iban"`
	MandateContext string   `xml:"mandate_context"`
	IdempotencyKey string   `xml:"idempotency_key"`
}

type xmlChargeResponse struct {
	XMLName      xml.Name `xml:"charge_response"`
	UniqueID     string   `xml:"unique_id"`
	Status       string   `xml:"status"`
	ErrorCode    string   `xml:"error_code"`
	ErrorMessage string   `xml:"error_message"`
}

func (c *httpClient) Charge(ctx context.Context, amountMinorUnits int64, currency, iban, mandateContext, idempotencyKey string) (ChargeResult, error) {
	req := xmlChargeRequest{
		Amount:         amountMinorUnits,
		Currency:       currency,
		IBAN:           iban,
		MandateContext: mandateContext,
		IdempotencyKey: idempotencyKey,
	}
	var resp xmlChargeResponse
	if err := c.call(ctx, "/v1/charge", req, &resp); err != nil {
		return ChargeResult{}, err
	}
	return ChargeResult{
		UniqueID:     resp.UniqueID,
		Status:       MapStatus(resp.Status),
		ErrorCode:    resp.ErrorCode,
		ErrorMessage: resp.ErrorMessage,
	}, nil
}

type xmlReconcileRequest struct {
	XMLName  xml.Name `xml:"reconcile_request"`
	UniqueID string   `xml:"unique_id"`
}

func (c *httpClient) Reconcile(ctx context.Context, uniqueID string) (ChargeResult, error) {
	req := xmlReconcileRequest{UniqueID: uniqueID}
	var resp xmlChargeResponse
	if err := c.call(ctx, "/v1/reconcile", req, &resp); err != nil {
		return ChargeResult{}, err
	}
	return ChargeResult{
		UniqueID:     resp.UniqueID,
		Status:       MapStatus(resp.Status),
		ErrorCode:    resp.ErrorCode,
		ErrorMessage: resp.ErrorMessage,
	}, nil
}

type xmlVoidRequest struct {
	XMLName  xml.Name `xml:"void_request"`
	UniqueID string   `xml:"unique_id"`
}

type xmlVoidResponse struct {
	XMLName xml.Name `xml:"void_response"`
	Success bool     `xml:"success"`
}

func (c *httpClient) Void(ctx context.Context, uniqueID string) (bool, error) {
	req := xmlVoidRequest{UniqueID: uniqueID}
	var resp xmlVoidResponse
	if err := c.call(ctx, "/v1/void", req, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

type xmlPageRequest struct {
	XMLName xml.Name `xml:"page_request"`
	From    string   `xml:"from"`
	To      string   `xml:"to"`
	Page    int      `xml:"page"`
}

type xmlPageTransaction struct {
	UniqueID     string `xml:"unique_id"`
	Status       string `xml:"status"`
	ErrorCode    string `xml:"error_code"`
	ErrorMessage string `xml:"error_message"`
}

type xmlPageResponse struct {
	XMLName      xml.Name             `xml:"page_response"`
	Transactions []xmlPageTransaction `xml:"transactions>transaction"`
	HasMore      bool                 `xml:"has_more"`
	Pagination   struct {
		PagesCount int `xml:"pages_count"`
	} `xml:"pagination"`
}

func (c *httpClient) Page(ctx context.Context, from, to time.Time, pageNumber int) (Page, error) {
	req := xmlPageRequest{
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
		Page: pageNumber,
	}
	var resp xmlPageResponse
	if err := c.call(ctx, "/v1/page", req, &resp); err != nil {
		return Page{}, err
	}
	transactions := make([]ChargeResult, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		transactions = append(transactions, ChargeResult{
			UniqueID:     t.UniqueID,
			Status:       MapStatus(t.Status),
			ErrorCode:    t.ErrorCode,
			ErrorMessage: t.ErrorMessage,
		})
	}
	return Page{Transactions: transactions, HasMore: resp.HasMore, PagesCount: resp.Pagination.PagesCount}, nil
}

type xmlChargebackDetailRequest struct {
	XMLName  xml.Name `xml:"chargeback_detail_request"`
	UniqueID string   `xml:"unique_id"`
}

type xmlChargebackDetailResponse struct {
	XMLName     xml.Name `xml:"chargeback_detail_response"`
	ReasonCode  string   `xml:"reason_code"`
	Description string   `xml:"description"`
}

func (c *httpClient) ChargebackDetail(ctx context.Context, uniqueID string) (ChargebackDetail, error) {
	req := xmlChargebackDetailRequest{UniqueID: uniqueID}
	var resp xmlChargebackDetailResponse
	if err := c.call(ctx, "/v1/chargeback_detail", req, &resp); err != nil {
		return ChargebackDetail{}, err
	}
	return ChargebackDetail{ReasonCode: resp.ReasonCode, Description: resp.Description}, nil
}

func (c *httpClient) call(ctx context.Context, path string, body, out interface{}) error {
	payload, err := xml.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encode gateway request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "gateway call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperrors.New(apperrors.KindUnavailable, fmt.Sprintf("gateway transient error: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("gateway rejected request: status %d", resp.StatusCode))
	}

	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "decode gateway response", err)
	}
	return nil
}
