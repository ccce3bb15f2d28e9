package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
	UploadStatusCancelled  UploadStatus = "cancelled"
)

type PhaseStatus string

const (
	PhaseIdle      PhaseStatus = "idle"
	PhaseStarted   PhaseStatus = "started"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
)

// Upload tracks one submitted spreadsheet through its full lifecycle.
type Upload struct {
	ID               snowflake.ID       `json:"id" gorm:"primaryKey"`
	OriginalFilename string             `json:"original_filename" gorm:"type:text;not null"`
	StoredPath       string             `json:"stored_path" gorm:"type:text;not null"`
	Size             int64              `json:"size" gorm:"not null"`
	UploaderID       snowflake.ID       `json:"uploader_id" gorm:"not null;index"`
	BillingModel     BillingModel       `json:"billing_model" gorm:"type:text;not null;default:legacy"`
	TotalRows        int                `json:"total_rows" gorm:"not null;default:0"`
	Processed        int                `json:"processed" gorm:"not null;default:0"`
	Failed           int                `json:"failed" gorm:"not null;default:0"`
	Status           UploadStatus       `json:"status" gorm:"type:text;not null;default:pending"`
	ValidationPhase  PhaseStatus        `json:"validation_phase" gorm:"type:text;not null;default:idle"`
	VopPhase         PhaseStatus        `json:"vop_phase" gorm:"type:text;not null;default:idle"`
	BillingPhase     PhaseStatus        `json:"billing_phase" gorm:"type:text;not null;default:idle"`
	ReconcilePhase   PhaseStatus        `json:"reconcile_phase" gorm:"type:text;not null;default:idle"`
	ColumnMapping    datatypes.JSONMap  `json:"column_mapping" gorm:"type:jsonb"`
	Meta             datatypes.JSONMap  `json:"meta" gorm:"type:jsonb"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (Upload) TableName() string { return "uploads" }

type DebtorStatus string

const (
	DebtorStatusUploaded  DebtorStatus = "uploaded"
	DebtorStatusPending   DebtorStatus = "pending"
	DebtorStatusApproved  DebtorStatus = "approved"
	DebtorStatusFailed    DebtorStatus = "failed"
	DebtorStatusRecovered DebtorStatus = "recovered"
)

type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// Debtor is one row of a spreadsheet upload, normalized and tracked
// through validation, VOP scoring, billing, and reconciliation.
type Debtor struct {
	ID                  snowflake.ID      `json:"id" gorm:"primaryKey"`
	UploadID            snowflake.ID      `json:"upload_id" gorm:"not null;index"`
	FirstName           string            `json:"first_name" gorm:"type:text"`
	LastName            string            `json:"last_name" gorm:"type:text"`
	Email               string            `json:"email" gorm:"type:text;index"`
	IBAN                string            `json:"iban" gorm:"type:text;not null"`
	IBANHash            string            `json:"iban_hash" gorm:"type:text;not null;index"`
	IBANValid           bool              `json:"iban_valid" gorm:"not null;default:false"`
	Country             string            `json:"country" gorm:"type:text"`
	AmountMinorUnits     int64             `json:"amount_minor_units" gorm:"not null"`
	Currency            string            `json:"currency" gorm:"type:text;not null"`
	RawRow              datatypes.JSONMap `json:"raw_row" gorm:"type:jsonb"`
	ValidationStatus    ValidationStatus  `json:"validation_status" gorm:"type:text;not null;default:pending"`
	ValidationErrors    datatypes.JSON    `json:"validation_errors" gorm:"type:jsonb"`
	Status              DebtorStatus      `json:"status" gorm:"type:text;not null;default:uploaded"`
	SkipReason          string            `json:"skip_reason" gorm:"type:text"`
	SkipPermanent       bool              `json:"skip_permanent" gorm:"not null;default:false"`
	SelectedForBAV      bool              `json:"selected_for_bav" gorm:"not null;default:false"`
	DebtorProfileID     *snowflake.ID     `json:"debtor_profile_id" gorm:"index"`
	ValidatedAt         *time.Time        `json:"validated_at"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (Debtor) TableName() string { return "debtors" }

type BillingModel string

const (
	ModelLegacy   BillingModel = "legacy"
	ModelFlywheel BillingModel = "flywheel"
	ModelRecovery BillingModel = "recovery"

	// ModelAll is a billing-dispatch target only, never stored on a
	// profile: it selects debtors of every model.
	ModelAll BillingModel = "all"
)

// DebtorProfile is the per-IBAN, cross-upload billing record.
type DebtorProfile struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	IBANHash        string       `json:"iban_hash" gorm:"type:text;not null;uniqueIndex"`
	IBANMasked      string       `json:"iban_masked" gorm:"type:text;not null"`
	BillingModel    BillingModel `json:"billing_model" gorm:"type:text;not null"`
	BillingAmount   int64        `json:"billing_amount" gorm:"not null"`
	Currency        string       `json:"currency" gorm:"type:text;not null"`
	IsActive        bool         `json:"is_active" gorm:"not null;default:true"`
	LastSuccessAt   *time.Time   `json:"last_success_at"`
	LastBilledAt    *time.Time   `json:"last_billed_at"`
	NextBillAt      *time.Time   `json:"next_bill_at"`
	LifetimeRevenue int64        `json:"lifetime_revenue" gorm:"not null;default:0"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (DebtorProfile) TableName() string { return "debtor_profiles" }

type AttemptStatus string

const (
	AttemptPending      AttemptStatus = "pending"
	AttemptApproved     AttemptStatus = "approved"
	AttemptDeclined     AttemptStatus = "declined"
	AttemptError        AttemptStatus = "error"
	AttemptVoided       AttemptStatus = "voided"
	AttemptChargebacked AttemptStatus = "chargebacked"
)

// BillingAttempt is one gateway charge attempt against a Debtor.
type BillingAttempt struct {
	ID                  snowflake.ID      `json:"id" gorm:"primaryKey"`
	DebtorID            snowflake.ID      `json:"debtor_id" gorm:"not null;index"`
	UploadID            *snowflake.ID     `json:"upload_id" gorm:"index"`
	ProfileID           snowflake.ID      `json:"profile_id" gorm:"not null;index"`
	AttemptNumber       int               `json:"attempt_number" gorm:"not null"`
	UniqueID            string            `json:"unique_id" gorm:"type:text;index"`
	IdempotencyKey      string            `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex"`
	AmountMinorUnits    int64             `json:"amount_minor_units" gorm:"not null"`
	Currency            string            `json:"currency" gorm:"type:text;not null"`
	BillingModel        BillingModel      `json:"billing_model" gorm:"type:text;not null"`
	Status              AttemptStatus     `json:"status" gorm:"type:text;not null;default:pending;index"`
	ErrorCode           string            `json:"error_code" gorm:"type:text"`
	ErrorMessage        string            `json:"error_message" gorm:"type:text"`
	ChargebackReasonCode string           `json:"chargeback_reason_code" gorm:"type:text"`
	ChargebackedAt      *time.Time        `json:"chargebacked_at"`
	ReconciliationAttempts int            `json:"reconciliation_attempts" gorm:"not null;default:0"`
	LastReconciledAt    *time.Time        `json:"last_reconciled_at"`
	Meta                datatypes.JSONMap `json:"meta" gorm:"type:jsonb"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (BillingAttempt) TableName() string { return "billing_attempts" }

type VopResult string

const (
	VopVerified       VopResult = "verified"
	VopLikelyVerified VopResult = "likely_verified"
	VopInconclusive   VopResult = "inconclusive"
	VopMismatch       VopResult = "mismatch"
	VopRejected       VopResult = "rejected"
)

type BAVNameMatch string

const (
	BAVMatchYes         BAVNameMatch = "yes"
	BAVMatchPartial     BAVNameMatch = "partial"
	BAVMatchNo          BAVNameMatch = "no"
	BAVMatchUnavailable BAVNameMatch = "unavailable"
)

// VopLog records one Verification-of-Payee scoring run for a Debtor.
type VopLog struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	DebtorID       snowflake.ID      `json:"debtor_id" gorm:"not null;index"`
	UploadID       snowflake.ID      `json:"upload_id" gorm:"not null;index"`
	IBANMasked     string            `json:"iban_masked" gorm:"type:text"`
	IBANValid      bool              `json:"iban_valid"`
	BankIdentified bool              `json:"bank_identified"`
	BankName       string            `json:"bank_name" gorm:"type:text"`
	BIC            string            `json:"bic" gorm:"type:text"`
	Country        string            `json:"country" gorm:"type:text"`
	Score          int               `json:"vop_score" gorm:"not null"`
	Result         VopResult         `json:"result" gorm:"type:text;not null"`
	BAVVerified    bool              `json:"bav_verified"`
	BAVNameMatch   BAVNameMatch      `json:"bav_name_match" gorm:"type:text"`
	BankCacheHit   bool              `json:"bank_cache_hit"`
	Meta           datatypes.JSONMap `json:"meta" gorm:"type:jsonb"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (VopLog) TableName() string { return "vop_logs" }

// Blacklist is an IBAN or identity marked as never-bill.
type Blacklist struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	IBANHash  string       `json:"iban_hash" gorm:"type:text;uniqueIndex"`
	IBAN      string       `json:"iban" gorm:"type:text"`
	FirstName string       `json:"first_name" gorm:"type:text"`
	LastName  string       `json:"last_name" gorm:"type:text"`
	Email     string       `json:"email" gorm:"type:text;index"`
	Reason    string       `json:"reason" gorm:"type:text;not null"`
	Source    string       `json:"source" gorm:"type:text;not null"`
	AddedBy   snowflake.ID `json:"added_by"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Blacklist) TableName() string { return "blacklist" }

type ChargebackSource string

const (
	ChargebackSourceWebhook ChargebackSource = "webhook"
	ChargebackSourceAPISync ChargebackSource = "api_sync"
)

// Chargeback is a post-settlement reversal notification.
type Chargeback struct {
	ID                         snowflake.ID      `json:"id" gorm:"primaryKey"`
	BillingAttemptID           snowflake.ID      `json:"billing_attempt_id" gorm:"not null;index"`
	DebtorID                   snowflake.ID      `json:"debtor_id" gorm:"not null;index"`
	OriginalTransactionUniqueID string           `json:"original_transaction_unique_id" gorm:"type:text;not null;uniqueIndex"`
	Type                       string            `json:"type" gorm:"type:text"`
	ReasonCode                 string            `json:"reason_code" gorm:"type:text"`
	ReasonDescription          string            `json:"reason_description" gorm:"type:text"`
	AmountMinorUnits           int64             `json:"amount_minor_units"`
	Currency                   string            `json:"currency" gorm:"type:text"`
	PostDate                   *time.Time        `json:"post_date"`
	ImportDate                 time.Time         `json:"import_date"`
	Source                     ChargebackSource  `json:"source" gorm:"type:text;not null"`
	RawResponse                datatypes.JSONMap `json:"raw_response" gorm:"type:jsonb"`
	CreatedAt                  time.Time         `json:"created_at"`
}

func (Chargeback) TableName() string { return "chargebacks" }

// BankCacheEntry is the local bank-directory cache row, keyed by the
// country and the national bank-code prefix extracted from an IBAN.
type BankCacheEntry struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	Country    string       `json:"country" gorm:"type:text;not null;uniqueIndex:idx_bank_cache_key"`
	BankCode   string       `json:"bank_code" gorm:"type:text;not null;uniqueIndex:idx_bank_cache_key"`
	Found      bool         `json:"found" gorm:"not null;default:false"`
	BankName   string       `json:"bank_name" gorm:"type:text"`
	BIC        string       `json:"bic" gorm:"type:text"`
	SDDCapable bool         `json:"sdd_capable" gorm:"not null;default:false"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (BankCacheEntry) TableName() string { return "bank_cache" }
