package vop

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/config"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/iban"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
)

// progressTTL keeps phase progress readable for operators well after the
// run finishes.
const progressTTL = 2 * time.Hour

// Repository is the persistence seam the VOP phase runner needs.
type Repository interface {
	ListValidDebtors(ctx context.Context, uploadID snowflake.ID) ([]debtordomain.Debtor, error)
	MarkSelectedForBAV(ctx context.Context, ids []snowflake.ID) error
	CreateVopLog(ctx context.Context, log *debtordomain.VopLog) error
	SetUploadPhase(ctx context.Context, uploadID snowflake.ID, phase string, status debtordomain.PhaseStatus, batchID string) error
}

// Progress publishes phase progress to the shared KV so operators can
// watch a long BAV run.
type Progress interface {
	Set(ctx context.Context, uploadID snowflake.ID, processed, total int) error
}

// RedisProgress implements Progress on the shared Redis pool.
type RedisProgress struct {
	client *redis.Client
}

func NewRedisProgress(client *redis.Client) *RedisProgress {
	if client == nil {
		return nil
	}
	return &RedisProgress{client: client}
}

func (p *RedisProgress) Set(ctx context.Context, uploadID snowflake.ID, processed, total int) error {
	if p == nil || p.client == nil {
		return nil
	}
	key := fmt.Sprintf("bav_progress_%s", uploadID.String())
	value := fmt.Sprintf("%d/%d", processed, total)
	return p.client.Set(ctx, key, value, progressTTL).Err()
}

// Runner executes the VOP phase for one upload: BAV sampling against the
// daily quota, scoring every valid debtor, and persisting one VopLog per
// row.
type Runner struct {
	repo     Repository
	engine   *Engine
	quota    *RedisQuota
	progress Progress
	billing  *config.BillingModelConfigHolder
	genID    *snowflake.Node
	log      *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

func NewRunner(repo Repository, engine *Engine, quota *RedisQuota, progress Progress, billing *config.BillingModelConfigHolder, genID *snowflake.Node, log *zap.Logger) *Runner {
	return &Runner{
		repo:     repo,
		engine:   engine,
		quota:    quota,
		progress: progress,
		billing:  billing,
		genID:    genID,
		log:      log.Named("vop"),
		now:      func() time.Time { return time.Now().UTC() },
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Run executes the VOP phase for uploadID.
func (r *Runner) Run(ctx context.Context, uploadID snowflake.ID) error {
	if err := r.repo.SetUploadPhase(ctx, uploadID, "vop", debtordomain.PhaseStarted, ""); err != nil {
		return err
	}

	debtors, err := r.repo.ListValidDebtors(ctx, uploadID)
	if err != nil {
		_ = r.repo.SetUploadPhase(ctx, uploadID, "vop", debtordomain.PhaseFailed, "")
		return err
	}

	cfg := r.billing.Get()
	selected, err := r.sampleForBAV(ctx, uploadID, debtors, cfg)
	if err != nil {
		_ = r.repo.SetUploadPhase(ctx, uploadID, "vop", debtordomain.PhaseFailed, "")
		return err
	}

	for i := range debtors {
		select {
		case <-ctx.Done():
			_ = r.repo.SetUploadPhase(ctx, uploadID, "vop", debtordomain.PhaseFailed, "")
			return ctx.Err()
		default:
		}

		forBAV := selected[debtors[i].ID]
		score, err := r.engine.Score(ctx, Input{
			IBAN:      debtors[i].IBAN,
			Country:   debtors[i].Country,
			FirstName: debtors[i].FirstName,
			LastName:  debtors[i].LastName,
		}, forBAV)
		if err != nil {
			r.log.Warn("vop scoring failed",
				zap.String("debtor_id", debtors[i].ID.String()), zap.Error(err))
			continue
		}

		logRow := &debtordomain.VopLog{
			ID:             r.genID.Generate(),
			DebtorID:       debtors[i].ID,
			UploadID:       uploadID,
			IBANMasked:     iban.Mask(debtors[i].IBAN),
			IBANValid:      score.IBANValid,
			BankIdentified: score.BankIdentified,
			BankName:       score.BankName,
			BIC:            score.BIC,
			Country:        score.Country,
			Score:          score.Points,
			Result:         debtordomain.VopResult(score.Result),
			BAVVerified:    score.BAVVerified,
			BAVNameMatch:   debtordomain.BAVNameMatch(score.NameMatch),
			BankCacheHit:   score.BankCacheHit,
		}
		if err := r.repo.CreateVopLog(ctx, logRow); err != nil {
			_ = r.repo.SetUploadPhase(ctx, uploadID, "vop", debtordomain.PhaseFailed, "")
			return err
		}

		if r.progress != nil {
			_ = r.progress.Set(ctx, uploadID, i+1, len(debtors))
		}
		if cfg.BAVEnabled && i < len(debtors)-1 {
			r.sleep(ctx, BAVDelay(forBAV))
		}
	}

	jobqueue.AddProcessed(ctx, len(debtors))
	r.log.Info("vop phase finished",
		zap.String("upload_id", uploadID.String()),
		zap.Int("rows", len(debtors)),
		zap.Int("bav_sampled", len(selected)))
	return r.repo.SetUploadPhase(ctx, uploadID, "vop", debtordomain.PhaseCompleted, "")
}

// sampleForBAV flags up to the quota-bounded sample size of debtors for
// a live name-match call and reserves their slots on today's counter.
func (r *Runner) sampleForBAV(ctx context.Context, uploadID snowflake.ID, debtors []debtordomain.Debtor, cfg config.BillingModelConfig) (map[snowflake.ID]bool, error) {
	selected := make(map[snowflake.ID]bool)
	if !cfg.BAVEnabled || len(debtors) == 0 {
		return selected, nil
	}

	count, err := SampleCount(ctx, r.quota, r.now(), len(debtors), cfg.BAVSamplingPercentage, cfg.BAVDailyLimit)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return selected, nil
	}

	ids := make([]snowflake.ID, 0, count)
	for i := 0; i < count && i < len(debtors); i++ {
		ids = append(ids, debtors[i].ID)
		selected[debtors[i].ID] = true
	}
	if err := r.repo.MarkSelectedForBAV(ctx, ids); err != nil {
		return nil, err
	}
	if err := r.quota.Add(ctx, r.now().Format("2006-01-02"), len(ids)); err != nil {
		r.log.Warn("bav quota reservation failed",
			zap.String("upload_id", uploadID.String()), zap.Error(err))
	}
	return selected, nil
}
