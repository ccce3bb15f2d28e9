// Package webhook implements the inbound gateway notification endpoint.
// It decodes the vendor's form-encoded payload, applies the reported
// event transactionally through internal/statemachine, and always
// answers with the XML unique_id echo the gateway expects — the gateway
// retries on a missing echo, and idempotent replay is cheaper than a
// retry storm.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/sepa-recovery/internal/amountparse"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	"github.com/smallbiznis/sepa-recovery/internal/dateparse"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
	obsmetrics "github.com/smallbiznis/sepa-recovery/internal/observability/metrics"
	"github.com/smallbiznis/sepa-recovery/internal/statemachine"
)

// ProcessingType is the closed set of webhook event kinds.
type ProcessingType string

const (
	TypeChargeback       ProcessingType = "chargeback"
	TypeRetrievalRequest ProcessingType = "retrieval_request"
	TypeStatusUpdate     ProcessingType = "sdd_status_update"
)

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Deduper suppresses duplicate deliveries of the same notification
// within a bounded window, keyed (processing_type, unique_id).
type Deduper interface {
	// Seen marks the pair as delivered and reports whether it had
	// already been delivered inside the window.
	Seen(ctx context.Context, processingType, uniqueID string) (bool, error)
}

// Handler wires the gateway webhook endpoint to the shared status state
// machine.
type Handler struct {
	db      TxRunner
	repo    statemachine.Repository
	deduper Deduper
	billing *config.BillingModelConfigHolder
	genID   *snowflake.Node
	metrics *obsmetrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func New(db TxRunner, repo statemachine.Repository, deduper Deduper, billing *config.BillingModelConfigHolder, genID *snowflake.Node, metrics *obsmetrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{
		db:      db,
		repo:    repo,
		deduper: deduper,
		billing: billing,
		genID:   genID,
		metrics: metrics,
		log:     log.Named("webhook"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts the webhook ingress route on the gin engine.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/webhooks/:gateway", h.Handle)
}

// Handle processes one notification. Every outcome — success, duplicate,
// unknown unique_id, internal failure — is acknowledged with the echo.
func (h *Handler) Handle(c *gin.Context) {
	uniqueID := c.PostForm("unique_id")
	if uniqueID == "" {
		c.Data(http.StatusOK, "application/xml", []byte(echo("")))
		return
	}

	processingType := h.classify(c)

	if h.deduper != nil {
		seen, err := h.deduper.Seen(c.Request.Context(), string(processingType), uniqueID)
		if err != nil {
			h.log.Warn("webhook dedup check failed", zap.Error(err))
		} else if seen {
			h.log.Info("duplicate webhook suppressed",
				zap.String("processing_type", string(processingType)),
				zap.String("unique_id", uniqueID))
			c.Data(http.StatusOK, "application/xml", []byte(echo(uniqueID)))
			return
		}
	}

	if err := h.process(c, processingType, uniqueID); err != nil {
		h.log.Warn("webhook processing failed",
			zap.String("processing_type", string(processingType)),
			zap.String("unique_id", uniqueID),
			zap.Error(err))
	}
	c.Data(http.StatusOK, "application/xml", []byte(echo(uniqueID)))
}

// classify derives the processing type from the explicit field when
// present, falling back to the transaction_type vocabulary.
func (h *Handler) classify(c *gin.Context) ProcessingType {
	switch c.PostForm("processing_type") {
	case string(TypeChargeback):
		return TypeChargeback
	case string(TypeRetrievalRequest):
		return TypeRetrievalRequest
	case string(TypeStatusUpdate):
		return TypeStatusUpdate
	}
	switch c.PostForm("transaction_type") {
	case "chargeback":
		return TypeChargeback
	case "retrieval_request":
		return TypeRetrievalRequest
	default:
		return TypeStatusUpdate
	}
}

func (h *Handler) process(c *gin.Context, processingType ProcessingType, uniqueID string) error {
	ctx := c.Request.Context()
	now := h.now()
	cfg := h.billing.Get()

	switch processingType {
	case TypeChargeback:
		detail := chargebackDetail(c)
		return h.db.WithTransaction(ctx, func(tx *gorm.DB) error {
			transition, err := statemachine.ApplyChargeback(ctx, h.repo, tx, h.genID, cfg, uniqueID, detail, debtordomain.ChargebackSourceWebhook, now)
			if err != nil {
				return err
			}
			h.logOutcome(ctx, "chargeback", uniqueID, transition)
			return nil
		})
	case TypeRetrievalRequest:
		payload := formSnapshot(c)
		return h.db.WithTransaction(ctx, func(tx *gorm.DB) error {
			transition, err := statemachine.AppendRetrievalRequest(ctx, h.repo, tx, uniqueID, payload, now)
			if err != nil {
				return err
			}
			h.logOutcome(ctx, "retrieval_request", uniqueID, transition)
			return nil
		})
	default:
		status := gateway.MapStatus(c.PostForm("status"))
		return h.db.WithTransaction(ctx, func(tx *gorm.DB) error {
			transition, err := statemachine.ApplyStatus(ctx, h.repo, tx, cfg, uniqueID, status, now)
			if err != nil {
				return err
			}
			h.logOutcome(ctx, "sdd_status_update", uniqueID, transition)
			return nil
		})
	}
}

func (h *Handler) logOutcome(ctx context.Context, kind, uniqueID string, transition statemachine.Transition) {
	switch {
	case transition.Attempt == nil:
		// The authoritative record may simply not have landed yet.
		h.log.Info("webhook for unknown unique_id ignored",
			zap.String("kind", kind), zap.String("unique_id", uniqueID))
	case transition.AlreadyProcessed:
		h.log.Info("webhook replay ignored",
			zap.String("kind", kind), zap.String("unique_id", uniqueID))
	default:
		h.log.Info("webhook applied",
			zap.String("kind", kind),
			zap.String("unique_id", uniqueID),
			zap.String("status", string(transition.NewStatus)))
	}
	h.metrics.RecordWebhookEvent(ctx, kind, outcomeOf(transition))
}

func outcomeOf(transition statemachine.Transition) string {
	switch {
	case transition.Attempt == nil:
		return "unknown_unique_id"
	case transition.AlreadyProcessed:
		return "replay"
	default:
		return "applied"
	}
}

// chargebackDetail assembles a ChargebackDetail from the vendor's form
// fields, tolerating the reason-code and reason-description aliases seen
// across gateway versions.
func chargebackDetail(c *gin.Context) gateway.ChargebackDetail {
	detail := gateway.ChargebackDetail{
		ReasonCode:  firstForm(c, "reason_code", "rc_code", "error_code"),
		Description: firstForm(c, "reason", "rc_description", "reason_description"),
		ARN:         c.PostForm("arn"),
		Type:        c.PostForm("transaction_type"),
		Currency:    c.PostForm("currency"),
		Raw:         formSnapshot(c),
	}
	if amount, ok := amountparse.Parse(c.PostForm("amount")); ok {
		detail.AmountMinorUnits = amount
	}
	if postDate, ok := dateparse.Parse(c.PostForm("post_date")); ok {
		detail.PostDate = &postDate
	}
	return detail
}

func firstForm(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := c.PostForm(key); v != "" {
			return v
		}
	}
	return ""
}

func formSnapshot(c *gin.Context) map[string]interface{} {
	if err := c.Request.ParseForm(); err != nil {
		return nil
	}
	snapshot := make(map[string]interface{}, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			snapshot[key] = values[0]
		}
	}
	return snapshot
}

func echo(uniqueID string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><notification_echo><unique_id>` + uniqueID + `</unique_id></notification_echo>`
}
