package validation_test

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

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtor/repository"
	"github.com/smallbiznis/sepa-recovery/internal/iban"
	"github.com/smallbiznis/sepa-recovery/internal/validation"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_validation_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

func seedDebtor(t *testing.T, db *gorm.DB, node *snowflake.Node, uploadID snowflake.ID, ibanValue string, amount int64, firstName string) *debtordomain.Debtor {
	t.Helper()
	normalized := iban.Normalize(ibanValue)
	debtor := &debtordomain.Debtor{
		ID:               node.Generate(),
		UploadID:         uploadID,
		FirstName:        firstName,
		LastName:         "Meier",
		IBAN:             normalized,
		IBANHash:         iban.Hash(normalized),
		IBANValid:        iban.Valid(normalized),
		AmountMinorUnits: amount,
		Currency:         "EUR",
		ValidationStatus: debtordomain.ValidationPending,
		Status:           debtordomain.DebtorStatusUploaded,
	}
	require.NoError(t, db.Create(debtor).Error)
	return debtor
}

func TestRunnerValidatesUpload(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(90)
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

	good := seedDebtor(t, db, node, upload.ID, "DE89370400440532013000", 2000, "Hans")
	badIBAN := seedDebtor(t, db, node, upload.ID, "DE89370400440532013001", 2000, "Hans")
	badName := seedDebtor(t, db, node, upload.ID, "NL91ABNA0417164300", 2000, "H4ns")

	runner := validation.NewRunner(store, store, zap.NewNop())
	require.NoError(t, runner.Run(context.Background(), upload.ID))

	var reloaded debtordomain.Debtor
	require.NoError(t, db.First(&reloaded, "id = ?", good.ID).Error)
	require.Equal(t, debtordomain.ValidationValid, reloaded.ValidationStatus)
	require.NotNil(t, reloaded.ValidatedAt)

	reloaded = debtordomain.Debtor{}
	require.NoError(t, db.First(&reloaded, "id = ?", badIBAN.ID).Error)
	require.Equal(t, debtordomain.ValidationInvalid, reloaded.ValidationStatus)
	require.NotEmpty(t, reloaded.ValidationErrors)

	reloaded = debtordomain.Debtor{}
	require.NoError(t, db.First(&reloaded, "id = ?", badName.ID).Error)
	require.Equal(t, debtordomain.ValidationInvalid, reloaded.ValidationStatus)

	var stored debtordomain.Upload
	require.NoError(t, db.First(&stored, "id = ?", upload.ID).Error)
	require.Equal(t, debtordomain.PhaseCompleted, stored.ValidationPhase)
}

func TestRunnerSkipsAlreadySkippedRows(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(91)
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

	skipped := seedDebtor(t, db, node, upload.ID, "DE89370400440532013000", 2000, "Hans")
	require.NoError(t, db.Model(skipped).Update("skip_reason", "blacklisted").Error)

	runner := validation.NewRunner(store, store, zap.NewNop())
	require.NoError(t, runner.Run(context.Background(), upload.ID))

	var reloaded debtordomain.Debtor
	require.NoError(t, db.First(&reloaded, "id = ?", skipped.ID).Error)
	require.Equal(t, debtordomain.ValidationPending, reloaded.ValidationStatus)
	require.Nil(t, reloaded.ValidatedAt)
}
