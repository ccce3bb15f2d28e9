package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/billing"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtor/repository"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
)

// memoryLocker is an in-process stand-in for the shared Redis lock.
type memoryLocker struct {
	mu       sync.Mutex
	held     map[string]string
	acquired int
	rejected int
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]string{}}
}

func (l *memoryLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		l.rejected++
		return "", false, nil
	}
	token := key + "-token"
	l.held[key] = token
	l.acquired++
	return token, true, nil
}

func (l *memoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func TestDispatchBillsEligibleDebtors(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(40)
	require.NoError(t, err)
	store := repository.New(db)

	upload := seedUpload(t, db, node, debtordomain.ModelLegacy)
	for _, value := range []string{"DE89370400440532013000", "NL91ABNA0417164300"} {
		seedDebtor(t, db, node, upload.ID, value, 2000)
	}

	pool := jobqueue.NewPool(zap.NewNop(), map[string]int{"billing": 1, "default": 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	worker := newWorker(t, db, node, &fakeGateway{})
	locker := newMemoryLocker()
	orchestrator := billing.NewOrchestrator(store, locker, pool, worker, node, zap.NewNop())

	require.NoError(t, orchestrator.Dispatch(ctx, upload.ID, debtordomain.ModelLegacy))

	require.Eventually(t, func() bool {
		var upload2 debtordomain.Upload
		if err := db.First(&upload2, "id = ?", upload.ID).Error; err != nil {
			return false
		}
		return upload2.BillingPhase == debtordomain.PhaseCompleted
	}, 5*time.Second, 20*time.Millisecond)

	var attemptCount int64
	require.NoError(t, db.Model(&debtordomain.BillingAttempt{}).Count(&attemptCount).Error)
	require.EqualValues(t, 2, attemptCount)

	// The dispatch lock is released once the batch completes.
	require.Empty(t, locker.held)
}

func TestDispatchIsShortCircuitedByLock(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(41)
	require.NoError(t, err)
	store := repository.New(db)

	upload := seedUpload(t, db, node, debtordomain.ModelLegacy)

	locker := newMemoryLocker()
	_, acquired, err := locker.TryLock(context.Background(), "billing:dispatch:"+upload.ID.String(), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	pool := jobqueue.NewPool(zap.NewNop(), map[string]int{"billing": 1, "default": 1}, nil)
	worker := newWorker(t, db, node, &fakeGateway{})
	orchestrator := billing.NewOrchestrator(store, locker, pool, worker, node, zap.NewNop())

	// The second dispatcher finds the lock held and returns without
	// touching the upload's billing phase.
	require.NoError(t, orchestrator.Dispatch(context.Background(), upload.ID, debtordomain.ModelLegacy))
	require.Equal(t, 1, locker.rejected)

	var upload2 debtordomain.Upload
	require.NoError(t, db.First(&upload2, "id = ?", upload.ID).Error)
	require.Equal(t, debtordomain.PhaseIdle, upload2.BillingPhase)
}

func TestDispatchEmptySelectionCompletesImmediately(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(42)
	require.NoError(t, err)
	store := repository.New(db)

	upload := seedUpload(t, db, node, debtordomain.ModelLegacy)

	pool := jobqueue.NewPool(zap.NewNop(), map[string]int{"billing": 1, "default": 1}, nil)
	worker := newWorker(t, db, node, &fakeGateway{})
	locker := newMemoryLocker()
	orchestrator := billing.NewOrchestrator(store, locker, pool, worker, node, zap.NewNop())

	require.NoError(t, orchestrator.Dispatch(context.Background(), upload.ID, debtordomain.ModelLegacy))

	var upload2 debtordomain.Upload
	require.NoError(t, db.First(&upload2, "id = ?", upload.ID).Error)
	require.Equal(t, debtordomain.PhaseCompleted, upload2.BillingPhase)
	require.Empty(t, locker.held)
}

func TestEligibilityExcludesBAVMismatch(t *testing.T) {
	db := setupTestDB(t)
	node, err := snowflake.NewNode(43)
	require.NoError(t, err)
	store := repository.New(db)

	upload := seedUpload(t, db, node, debtordomain.ModelLegacy)
	clean := seedDebtor(t, db, node, upload.ID, "DE89370400440532013000", 2000)
	flagged := seedDebtor(t, db, node, upload.ID, "NL91ABNA0417164300", 2000)
	require.NoError(t, db.Create(&debtordomain.VopLog{
		ID:           node.Generate(),
		DebtorID:     flagged.ID,
		UploadID:     upload.ID,
		Result:       debtordomain.VopMismatch,
		BAVNameMatch: debtordomain.BAVMatchNo,
	}).Error)

	ids, err := store.FindEligibleDebtorIDs(context.Background(), upload.ID, debtordomain.ModelLegacy)
	require.NoError(t, err)
	require.Equal(t, []snowflake.ID{clean.ID}, ids)
}
