package vop_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtor/repository"
	"github.com/smallbiznis/sepa-recovery/internal/iban"
	"github.com/smallbiznis/sepa-recovery/internal/vop"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_vop_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

type recordingDirectory struct {
	lookups int
}

func (d *recordingDirectory) Lookup(context.Context, string, string) (vop.BankRecord, error) {
	d.lookups++
	return vop.BankRecord{Found: true, BankName: "Commerzbank", BIC: "COBADEFFXXX", SDDCapable: true}, nil
}

type recordingBAV struct {
	calls int
}

func (b *recordingBAV) VerifyName(context.Context, string, string, string) (vop.NameMatch, error) {
	b.calls++
	return vop.NameMatchYes, nil
}

func TestRunnerScoresUpload(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(95)
	require.NoError(t, err)
	store := repository.New(db)

	upload := &debtordomain.Upload{
		ID:               node.Generate(),
		OriginalFilename: "debtors.csv",
		StoredPath:       "/tmp/debtors.csv",
		UploaderID:       node.Generate(),
		Status:           debtordomain.UploadStatusCompleted,
	}
	require.NoError(t, db.Create(upload).Error)

	normalized := iban.Normalize("DE89370400440532013000")
	debtor := &debtordomain.Debtor{
		ID:               node.Generate(),
		UploadID:         upload.ID,
		FirstName:        "Hans",
		LastName:         "Meier",
		IBAN:             normalized,
		IBANHash:         iban.Hash(normalized),
		IBANValid:        true,
		AmountMinorUnits: 2000,
		Currency:         "EUR",
		ValidationStatus: debtordomain.ValidationValid,
		Status:           debtordomain.DebtorStatusUploaded,
	}
	require.NoError(t, db.Create(debtor).Error)

	directory := &recordingDirectory{}
	bav := &recordingBAV{}
	engine := vop.New(directory, bav)

	cfg := config.DefaultBillingModelConfig()
	cfg.BAVEnabled = true
	cfg.BAVSamplingPercentage = 100
	cfg.BAVDailyLimit = 10
	holder := config.NewStaticBillingModelConfigHolder(cfg)

	runner := vop.NewRunner(store, engine, nil, nil, holder, node, zap.NewNop())
	require.NoError(t, runner.Run(context.Background(), upload.ID))

	var logs []debtordomain.VopLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, 100, logs[0].Score)
	require.Equal(t, debtordomain.VopVerified, logs[0].Result)
	require.True(t, logs[0].BAVVerified)
	require.Equal(t, debtordomain.BAVMatchYes, logs[0].BAVNameMatch)
	require.Equal(t, 1, bav.calls)

	var reloaded debtordomain.Debtor
	require.NoError(t, db.First(&reloaded, "id = ?", debtor.ID).Error)
	require.True(t, reloaded.SelectedForBAV)

	var stored debtordomain.Upload
	require.NoError(t, db.First(&stored, "id = ?", upload.ID).Error)
	require.Equal(t, debtordomain.PhaseCompleted, stored.VopPhase)
}

func TestRunnerWithBAVDisabled(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(96)
	require.NoError(t, err)
	store := repository.New(db)

	upload := &debtordomain.Upload{
		ID:               node.Generate(),
		OriginalFilename: "debtors.csv",
		StoredPath:       "/tmp/debtors.csv",
		UploaderID:       node.Generate(),
		Status:           debtordomain.UploadStatusCompleted,
	}
	require.NoError(t, db.Create(upload).Error)

	normalized := iban.Normalize("NL91ABNA0417164300")
	require.NoError(t, db.Create(&debtordomain.Debtor{
		ID:               node.Generate(),
		UploadID:         upload.ID,
		FirstName:        "Erika",
		LastName:         "Muster",
		IBAN:             normalized,
		IBANHash:         iban.Hash(normalized),
		IBANValid:        true,
		AmountMinorUnits: 3000,
		Currency:         "EUR",
		ValidationStatus: debtordomain.ValidationValid,
		Status:           debtordomain.DebtorStatusUploaded,
	}).Error)

	bav := &recordingBAV{}
	engine := vop.New(&recordingDirectory{}, bav)

	cfg := config.DefaultBillingModelConfig()
	cfg.BAVEnabled = false
	holder := config.NewStaticBillingModelConfigHolder(cfg)

	runner := vop.NewRunner(store, engine, nil, nil, holder, node, zap.NewNop())
	require.NoError(t, runner.Run(context.Background(), upload.ID))

	require.Equal(t, 0, bav.calls)

	var logs []debtordomain.VopLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, debtordomain.BAVMatchUnavailable, logs[0].BAVNameMatch)
	require.False(t, logs[0].BAVVerified)
	// Without a name match the score tops out at 85.
	require.Equal(t, 85, logs[0].Score)
}

func TestCachedBankDirectoryTiers(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(97)
	require.NoError(t, err)
	store := repository.New(db)

	remote := &recordingDirectory{}
	directory := vop.NewCachedBankDirectory(store, remote, node, zap.NewNop())

	first, err := directory.Lookup(context.Background(), "DE", "37040044")
	require.NoError(t, err)
	require.True(t, first.Found)
	require.False(t, first.CacheHit)
	require.Equal(t, 1, remote.lookups)

	// The second lookup is served from cache.
	second, err := directory.Lookup(context.Background(), "DE", "37040044")
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, 1, remote.lookups)

	// The write-back row landed in the bank_cache table.
	var entry debtordomain.BankCacheEntry
	require.NoError(t, db.First(&entry, "country = ? AND bank_code = ?", "DE", "37040044").Error)
	require.True(t, entry.Found)
	require.Equal(t, "Commerzbank", entry.BankName)
}
