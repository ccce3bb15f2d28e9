package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/sepa-recovery/internal/billing"
	"github.com/smallbiznis/sepa-recovery/internal/circuitbreaker"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtor/repository"
	"github.com/smallbiznis/sepa-recovery/internal/dedup"
	"github.com/smallbiznis/sepa-recovery/internal/gateway"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
	"github.com/smallbiznis/sepa-recovery/internal/pipeline"
	"github.com/smallbiznis/sepa-recovery/internal/upload"
	"github.com/smallbiznis/sepa-recovery/internal/validation"
	"github.com/smallbiznis/sepa-recovery/internal/vop"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_pipeline_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

type approvingGateway struct {
	mu      sync.Mutex
	charges int
}

func (g *approvingGateway) Charge(context.Context, int64, string, string, string, string) (gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	return gateway.ChargeResult{UniqueID: fmt.Sprintf("tx-%d", g.charges), Status: gateway.StatusApproved}, nil
}

func (g *approvingGateway) Reconcile(context.Context, string) (gateway.ChargeResult, error) {
	return gateway.ChargeResult{}, nil
}

func (g *approvingGateway) Void(context.Context, string) (bool, error) { return false, nil }

func (g *approvingGateway) Page(context.Context, time.Time, time.Time, int) (gateway.Page, error) {
	return gateway.Page{}, nil
}

func (g *approvingGateway) ChargebackDetail(context.Context, string) (gateway.ChargebackDetail, error) {
	return gateway.ChargebackDetail{}, nil
}

type sddDirectory struct{}

func (sddDirectory) Lookup(context.Context, string, string) (vop.BankRecord, error) {
	return vop.BankRecord{Found: true, BankName: "Commerzbank", BIC: "COBADEFFXXX", SDDCapable: true}, nil
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *memoryLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token"
	return "token", true, nil
}

func (l *memoryLocker) Release(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// TestUploadToBilledEndToEnd walks three clean rows through ingest,
// validation, VOP, and billing, and expects three approved attempts.
func TestUploadToBilledEndToEnd(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(100)
	require.NoError(t, err)
	store := repository.New(db)
	log := zap.NewNop()

	billingCfg := config.DefaultBillingModelConfig()
	billingCfg.BAVEnabled = false
	holder := config.NewStaticBillingModelConfigHolder(billingCfg)

	pool := jobqueue.NewPool(log, map[string]int{"default": 1, "high": 1, "billing": 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	ingestor := upload.New(store, dedup.New(store, nil), holder, node, pool, log)
	service := upload.NewService(store, ingestor, node, log)

	validationRunner := validation.NewRunner(store, store, log)
	vopRunner := vop.NewRunner(store, vop.New(sddDirectory{}, nil), nil, nil, holder, node, log)

	breaker := circuitbreaker.New(nil, 10, time.Minute, 5*time.Minute)
	worker := billing.NewWorker(store, &approvingGateway{}, breaker, nil, holder, node, nil, log)
	orchestrator := billing.NewOrchestrator(store, &memoryLocker{}, pool, worker, node, log)

	runner := jobqueue.NewRunner(log, node)
	coordinator := pipeline.NewCoordinator(validationRunner, vopRunner, orchestrator, pool, runner, log)
	service.OnCompleted(coordinator.UploadIngested)

	csv := "iban,name,amount\n" +
		"DE89370400440532013000,Hans Meier,\"20,00\"\n" +
		"NL91ABNA0417164300,Erika Muster,\"30,00\"\n" +
		"FR1420041010050500013M02606,Jean Dupont,\"40,00\"\n"
	path := filepath.Join(t.TempDir(), "debtors.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o600))

	created, err := service.CreateAndIngest(ctx, path, "debtors.csv", int64(len(csv)), node.Generate(), debtordomain.ModelLegacy)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var stored debtordomain.Upload
		if err := db.First(&stored, "id = ?", created.ID).Error; err != nil {
			return false
		}
		return stored.BillingPhase == debtordomain.PhaseCompleted
	}, 10*time.Second, 25*time.Millisecond)

	var stored debtordomain.Upload
	require.NoError(t, db.First(&stored, "id = ?", created.ID).Error)
	require.Equal(t, debtordomain.PhaseCompleted, stored.ValidationPhase)
	require.Equal(t, debtordomain.PhaseCompleted, stored.VopPhase)

	var debtors []debtordomain.Debtor
	require.NoError(t, db.Find(&debtors).Error)
	require.Len(t, debtors, 3)
	for _, debtor := range debtors {
		require.Equal(t, debtordomain.ValidationValid, debtor.ValidationStatus)
		require.Equal(t, debtordomain.DebtorStatusApproved, debtor.Status)
	}

	var attempts []debtordomain.BillingAttempt
	require.NoError(t, db.Find(&attempts).Error)
	require.Len(t, attempts, 3)
	for _, attempt := range attempts {
		require.Equal(t, debtordomain.AttemptApproved, attempt.Status)
		require.Equal(t, debtordomain.ModelLegacy, attempt.BillingModel)
	}

	var vopLogs []debtordomain.VopLog
	require.NoError(t, db.Find(&vopLogs).Error)
	require.Len(t, vopLogs, 3)
}
