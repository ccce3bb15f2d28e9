package upload_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
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
	"github.com/smallbiznis/sepa-recovery/internal/dedup"
	"github.com/smallbiznis/sepa-recovery/internal/iban"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
	"github.com/smallbiznis/sepa-recovery/internal/upload"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_upload_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

func newService(t *testing.T, db *gorm.DB) (*upload.Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(80)
	require.NoError(t, err)
	store := repository.New(db)
	engine := dedup.New(store, nil)
	holder := config.NewStaticBillingModelConfigHolder(config.DefaultBillingModelConfig())
	pool := jobqueue.NewPool(zap.NewNop(), map[string]int{"default": 1}, nil)
	ingestor := upload.New(store, engine, holder, node, pool, zap.NewNop())
	return upload.NewService(store, ingestor, node, zap.NewNop()), node
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "debtors.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCreateAndIngestSmallUpload(t *testing.T) {
	db := setupTestDB(t)
	service, node := newService(t, db)

	csv := "IBAN Number,Name,Amount,Email\n" +
		"DE89370400440532013000,\"Meier, Hans\",\"20,00\",hans@example.com\n" +
		"NL91ABNA0417164300,ERIKA MUSTER,\"30,00\",erika@example.com\n"
	path := writeCSV(t, csv)

	created, err := service.CreateAndIngest(context.Background(), path, "debtors.csv", int64(len(csv)), node.Generate(), debtordomain.ModelLegacy)
	require.NoError(t, err)

	var stored debtordomain.Upload
	require.NoError(t, db.First(&stored, "id = ?", created.ID).Error)
	require.Equal(t, debtordomain.UploadStatusCompleted, stored.Status)
	require.Equal(t, 2, stored.TotalRows)
	require.Equal(t, 2, stored.Processed)
	require.Equal(t, 0, stored.Failed)
	require.Equal(t, "iban", stored.ColumnMapping["IBAN Number"])

	var debtors []debtordomain.Debtor
	require.NoError(t, db.Order("id").Find(&debtors).Error)
	require.Len(t, debtors, 2)

	require.Equal(t, "Hans", debtors[0].FirstName)
	require.Equal(t, "Meier", debtors[0].LastName)
	require.Equal(t, int64(2000), debtors[0].AmountMinorUnits)
	require.Equal(t, "DE89370400440532013000", debtors[0].IBAN)
	require.True(t, debtors[0].IBANValid)
	require.Equal(t, "EUR", debtors[0].Currency)

	require.Equal(t, "Erika", debtors[1].FirstName)
	require.Equal(t, "Muster", debtors[1].LastName)
}

func TestIngestSkipsBlacklistedIBAN(t *testing.T) {
	db := setupTestDB(t)
	service, node := newService(t, db)

	blocked := iban.Normalize("DE89370400440532013000")
	require.NoError(t, db.Create(&debtordomain.Blacklist{
		ID:       node.Generate(),
		IBANHash: iban.Hash(blocked),
		IBAN:     blocked,
		Reason:   "fraud",
		Source:   "manual",
	}).Error)

	csv := "iban,name,amount\n" +
		"DE89370400440532013000,Hans Meier,\"20,00\"\n" +
		"NL91ABNA0417164300,Erika Muster,\"30,00\"\n"
	path := writeCSV(t, csv)

	created, err := service.CreateAndIngest(context.Background(), path, "debtors.csv", int64(len(csv)), node.Generate(), debtordomain.ModelLegacy)
	require.NoError(t, err)

	var debtors []debtordomain.Debtor
	require.NoError(t, db.Order("id").Find(&debtors).Error)
	require.Len(t, debtors, 2)
	require.Equal(t, string(dedup.ReasonBlacklisted), debtors[0].SkipReason)
	require.True(t, debtors[0].SkipPermanent)
	require.Empty(t, debtors[1].SkipReason)

	var stored debtordomain.Upload
	require.NoError(t, db.First(&stored, "id = ?", created.ID).Error)
	require.Equal(t, 1, stored.Failed)

	skipped, ok := stored.Meta["skipped"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, json.Number("1"), skipped[string(dedup.ReasonBlacklisted)])
}

func TestIngestSkipsModelConflicts(t *testing.T) {
	db := setupTestDB(t)
	service, node := newService(t, db)

	// An IBAN already owned by a legacy profile cannot join a
	// flywheel upload.
	normalized := iban.Normalize("DE89370400440532013000")
	require.NoError(t, db.Create(&debtordomain.DebtorProfile{
		ID:           node.Generate(),
		IBANHash:     iban.Hash(normalized),
		BillingModel: debtordomain.ModelLegacy,
		Currency:     "EUR",
		IsActive:     true,
	}).Error)

	csv := "iban,name,amount\nDE89370400440532013000,Hans Meier,\"7,00\"\n"
	path := writeCSV(t, csv)

	_, err := service.CreateAndIngest(context.Background(), path, "debtors.csv", int64(len(csv)), node.Generate(), debtordomain.ModelFlywheel)
	require.NoError(t, err)

	var debtor debtordomain.Debtor
	require.NoError(t, db.First(&debtor).Error)
	require.Equal(t, "existing_legacy_iban", debtor.SkipReason)
}

func TestCreateAndIngestRejectsUnsupportedFormat(t *testing.T) {
	db := setupTestDB(t)
	service, node := newService(t, db)

	path := filepath.Join(t.TempDir(), "debtors.xls")
	require.NoError(t, os.WriteFile(path, []byte("legacy"), 0o600))

	created, err := service.CreateAndIngest(context.Background(), path, "debtors.xls", 6, node.Generate(), debtordomain.ModelLegacy)
	require.Error(t, err)

	var stored debtordomain.Upload
	require.NoError(t, db.First(&stored, "id = ?", created.ID).Error)
	require.Equal(t, debtordomain.UploadStatusFailed, stored.Status)
}
