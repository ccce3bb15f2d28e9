package statemachine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtor/repository"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
	"github.com/smallbiznis/sepa-recovery/internal/statemachine"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_sm_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&debtordomain.Upload{},
		&debtordomain.DebtorProfile{},
		&debtordomain.Debtor{},
		&debtordomain.BillingAttempt{},
		&debtordomain.VopLog{},
		&debtordomain.Blacklist{},
		&debtordomain.Chargeback{},
		&debtordomain.BankCacheEntry{},
	))
	return db
}

type fixture struct {
	db      *gorm.DB
	store   *repository.Store
	node    *snowflake.Node
	profile *debtordomain.DebtorProfile
	debtor  *debtordomain.Debtor
	attempt *debtordomain.BillingAttempt
}

func newFixture(t *testing.T, model debtordomain.BillingModel, attemptStatus debtordomain.AttemptStatus) *fixture {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(20)
	require.NoError(t, err)

	profile := &debtordomain.DebtorProfile{
		ID:              node.Generate(),
		IBANHash:        "hash-1",
		IBANMasked:      "DE8937************3000",
		BillingModel:    model,
		BillingAmount:   700,
		Currency:        "EUR",
		IsActive:        true,
		LifetimeRevenue: 1000,
	}
	require.NoError(t, db.Create(profile).Error)

	debtor := &debtordomain.Debtor{
		ID:               node.Generate(),
		UploadID:         node.Generate(),
		FirstName:        "Hans",
		LastName:         "Meier",
		Email:            "hans@example.com",
		IBAN:             "DE89370400440532013000",
		IBANHash:         "hash-1",
		AmountMinorUnits: 2000,
		Currency:         "EUR",
		ValidationStatus: debtordomain.ValidationValid,
		Status:           debtordomain.DebtorStatusApproved,
		DebtorProfileID:  &profile.ID,
	}
	require.NoError(t, db.Create(debtor).Error)

	attempt := &debtordomain.BillingAttempt{
		ID:               node.Generate(),
		DebtorID:         debtor.ID,
		ProfileID:        profile.ID,
		AttemptNumber:    1,
		UniqueID:         "tx-100",
		IdempotencyKey:   "idem-100",
		AmountMinorUnits: 700,
		Currency:         "EUR",
		BillingModel:     model,
		Status:           attemptStatus,
	}
	require.NoError(t, db.Create(attempt).Error)

	return &fixture{db: db, store: repository.New(db), node: node, profile: profile, debtor: debtor, attempt: attempt}
}

func billingCfg() config.BillingModelConfig {
	cfg := config.DefaultBillingModelConfig()
	cfg.ChargebackBlacklistCodes = []string{"MD06", "AC04"}
	return cfg
}

func TestApplyStatusApprovedRunsSuccessHandler(t *testing.T) {
	f := newFixture(t, debtordomain.ModelFlywheel, debtordomain.AttemptPending)
	ctx := context.Background()
	now := time.Now().UTC()

	err := f.store.WithTransaction(ctx, func(tx *gorm.DB) error {
		transition, err := statemachine.ApplyStatus(ctx, f.store, tx, billingCfg(), "tx-100", gateway.StatusApproved, now)
		require.NoError(t, err)
		require.False(t, transition.AlreadyProcessed)
		return nil
	})
	require.NoError(t, err)

	var debtor debtordomain.Debtor
	require.NoError(t, f.db.First(&debtor, "id = ?", f.debtor.ID).Error)
	require.Equal(t, debtordomain.DebtorStatusRecovered, debtor.Status)

	var profile debtordomain.DebtorProfile
	require.NoError(t, f.db.First(&profile, "id = ?", f.profile.ID).Error)
	require.Equal(t, int64(1700), profile.LifetimeRevenue)
	require.NotNil(t, profile.LastSuccessAt)
	require.NotNil(t, profile.NextBillAt)
	require.True(t, profile.NextBillAt.After(now))
}

func TestApplyStatusUnchangedIsNoOp(t *testing.T) {
	f := newFixture(t, debtordomain.ModelLegacy, debtordomain.AttemptPending)
	ctx := context.Background()

	err := f.store.WithTransaction(ctx, func(tx *gorm.DB) error {
		transition, err := statemachine.ApplyStatus(ctx, f.store, tx, billingCfg(), "tx-100", gateway.StatusUnchanged, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, transition.AlreadyProcessed)
		return nil
	})
	require.NoError(t, err)

	var attempt debtordomain.BillingAttempt
	require.NoError(t, f.db.First(&attempt, "id = ?", f.attempt.ID).Error)
	require.Equal(t, debtordomain.AttemptPending, attempt.Status)
}

func TestApplyChargebackFullSideEffects(t *testing.T) {
	f := newFixture(t, debtordomain.ModelFlywheel, debtordomain.AttemptApproved)
	ctx := context.Background()
	now := time.Now().UTC()

	detail := gateway.ChargebackDetail{
		ReasonCode:       "MD06",
		Description:      "refund request",
		ARN:              "arn-555",
		AmountMinorUnits: 700,
		Currency:         "EUR",
	}

	apply := func() statemachine.Transition {
		var transition statemachine.Transition
		err := f.store.WithTransaction(ctx, func(tx *gorm.DB) error {
			var txErr error
			transition, txErr = statemachine.ApplyChargeback(ctx, f.store, tx, f.node, billingCfg(), "tx-100", detail, debtordomain.ChargebackSourceWebhook, now)
			return txErr
		})
		require.NoError(t, err)
		return transition
	}

	first := apply()
	require.False(t, first.AlreadyProcessed)

	var attempt debtordomain.BillingAttempt
	require.NoError(t, f.db.First(&attempt, "id = ?", f.attempt.ID).Error)
	require.Equal(t, debtordomain.AttemptChargebacked, attempt.Status)
	require.Equal(t, "MD06", attempt.ChargebackReasonCode)
	require.NotNil(t, attempt.ChargebackedAt)
	require.Equal(t, "arn-555", attempt.Meta["arn"])

	var debtor debtordomain.Debtor
	require.NoError(t, f.db.First(&debtor, "id = ?", f.debtor.ID).Error)
	require.Equal(t, debtordomain.DebtorStatusFailed, debtor.Status)

	var profile debtordomain.DebtorProfile
	require.NoError(t, f.db.First(&profile, "id = ?", f.profile.ID).Error)
	require.False(t, profile.IsActive)
	require.Nil(t, profile.NextBillAt)
	require.Equal(t, int64(300), profile.LifetimeRevenue)

	var blacklistCount int64
	require.NoError(t, f.db.Model(&debtordomain.Blacklist{}).Where("iban_hash = ?", "hash-1").Count(&blacklistCount).Error)
	require.EqualValues(t, 1, blacklistCount)

	var chargebacks []debtordomain.Chargeback
	require.NoError(t, f.db.Find(&chargebacks).Error)
	require.Len(t, chargebacks, 1)
	require.Equal(t, debtordomain.ChargebackSourceWebhook, chargebacks[0].Source)
	require.Equal(t, "tx-100", chargebacks[0].OriginalTransactionUniqueID)

	// A second identical delivery leaves everything unchanged.
	second := apply()
	require.True(t, second.AlreadyProcessed)

	require.NoError(t, f.db.Find(&chargebacks).Error)
	require.Len(t, chargebacks, 1)
	require.NoError(t, f.db.Model(&debtordomain.Blacklist{}).Where("iban_hash = ?", "hash-1").Count(&blacklistCount).Error)
	require.EqualValues(t, 1, blacklistCount)
	require.NoError(t, f.db.First(&profile, "id = ?", f.profile.ID).Error)
	require.Equal(t, int64(300), profile.LifetimeRevenue)
}

func TestApplyChargebackWithoutBlacklistCode(t *testing.T) {
	f := newFixture(t, debtordomain.ModelLegacy, debtordomain.AttemptApproved)
	ctx := context.Background()

	detail := gateway.ChargebackDetail{ReasonCode: "XX99", Description: "not configured"}
	err := f.store.WithTransaction(ctx, func(tx *gorm.DB) error {
		_, txErr := statemachine.ApplyChargeback(ctx, f.store, tx, f.node, billingCfg(), "tx-100", detail, debtordomain.ChargebackSourceAPISync, time.Now().UTC())
		return txErr
	})
	require.NoError(t, err)

	var blacklistCount int64
	require.NoError(t, f.db.Model(&debtordomain.Blacklist{}).Count(&blacklistCount).Error)
	require.EqualValues(t, 0, blacklistCount)

	var chargebacks []debtordomain.Chargeback
	require.NoError(t, f.db.Find(&chargebacks).Error)
	require.Len(t, chargebacks, 1)
	require.Equal(t, debtordomain.ChargebackSourceAPISync, chargebacks[0].Source)
}

func TestApplyChargebackUnknownUniqueID(t *testing.T) {
	f := newFixture(t, debtordomain.ModelLegacy, debtordomain.AttemptApproved)
	ctx := context.Background()

	err := f.store.WithTransaction(ctx, func(tx *gorm.DB) error {
		transition, txErr := statemachine.ApplyChargeback(ctx, f.store, tx, f.node, billingCfg(), "tx-missing", gateway.ChargebackDetail{}, debtordomain.ChargebackSourceWebhook, time.Now().UTC())
		require.NoError(t, txErr)
		require.Nil(t, transition.Attempt)
		return nil
	})
	require.NoError(t, err)
}

func TestAppendRetrievalRequest(t *testing.T) {
	f := newFixture(t, debtordomain.ModelLegacy, debtordomain.AttemptApproved)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := f.store.WithTransaction(ctx, func(tx *gorm.DB) error {
			_, txErr := statemachine.AppendRetrievalRequest(ctx, f.store, tx, "tx-100", map[string]interface{}{"reason": "docs"}, time.Now().UTC())
			return txErr
		})
		require.NoError(t, err)
	}

	var attempt debtordomain.BillingAttempt
	require.NoError(t, f.db.First(&attempt, "id = ?", f.attempt.ID).Error)
	requests, ok := attempt.Meta["retrieval_requests"].([]interface{})
	require.True(t, ok)
	require.Len(t, requests, 2)

	require.Equal(t, debtordomain.AttemptApproved, attempt.Status)
}
