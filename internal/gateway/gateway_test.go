package gateway

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
	"github.com/smallbiznis/sepa-recovery/internal/config"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]Status{
		"approved":      StatusApproved,
		"declined":      StatusDeclined,
		"error":         StatusError,
		"voided":        StatusVoided,
		"chargebacked":  StatusChargebacked,
		"pending":       StatusPending,
		"pending_async": StatusPending,
		"":              StatusUnchanged,
		"weird_status":  StatusUnchanged,
	}
	for wire, want := range cases {
		require.Equal(t, want, MapStatus(wire), wire)
	}
}

func newTestClient(baseURL string) Client {
	return New(config.Config{
		GatewayBaseURL:    baseURL,
		GatewayAPIKey:     "test-key",
		GatewayTimeoutSec: 5,
	})
}

func TestChargeRoundTrip(t *testing.T) {
	var captured xmlChargeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/charge", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, xml.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<charge_response><unique_id>tx-123</unique_id><status>approved</status></charge_response>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.Charge(context.Background(), 2000, "EUR", "DE89370400440532013000", "sepa_recovery", "idem-key-1")
	require.NoError(t, err)
	require.Equal(t, "tx-123", result.UniqueID)
	require.Equal(t, StatusApproved, result.Status)

	require.Equal(t, int64(2000), captured.Amount)
	require.Equal(t, "EUR", captured.Currency)
	require.Equal(t, "idem-key-1", captured.IdempotencyKey)
}

func TestReconcileMapsPendingAsync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/reconcile", r.URL.Path)
		_, _ = w.Write([]byte(`<charge_response><unique_id>tx-9</unique_id><status>pending_async</status></charge_response>`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Reconcile(context.Background(), "tx-9")
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.Status)
}

func TestServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Charge(context.Background(), 100, "EUR", "DE89370400440532013000", "m", "k")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindUnavailable))
}

func TestClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Charge(context.Background(), 100, "EUR", "DE89370400440532013000", "m", "k")
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/page", r.URL.Path)
		_, _ = w.Write([]byte(`<page_response>
			<transactions>
				<transaction><unique_id>a</unique_id><status>approved</status></transaction>
				<transaction><unique_id>b</unique_id><status>chargebacked</status></transaction>
			</transactions>
			<has_more>true</has_more>
			<pagination><pages_count>7</pages_count></pagination>
		</page_response>`))
	}))
	defer server.Close()

	page, err := newTestClient(server.URL).Page(context.Background(), time.Now().AddDate(0, 0, -7), time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	require.Equal(t, StatusChargebacked, page.Transactions[1].Status)
	require.True(t, page.HasMore)
	require.Equal(t, 7, page.PagesCount)
}

func TestVoidAndChargebackDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/void":
			_, _ = w.Write([]byte(`<void_response><success>true</success></void_response>`))
		case "/v1/chargeback_detail":
			_, _ = w.Write([]byte(`<chargeback_detail_response><reason_code>MD06</reason_code><description>refund request</description></chargeback_detail_response>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ok, err := client.Void(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, ok)

	detail, err := client.ChargebackDetail(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, "MD06", detail.ReasonCode)
	require.Equal(t, "refund request", detail.Description)
}
