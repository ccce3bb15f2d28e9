package validation

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
)

// Repository is the persistence seam the validation phase runner needs.
type Repository interface {
	ListDebtorsForValidation(ctx context.Context, uploadID snowflake.ID) ([]debtordomain.Debtor, error)
	SaveValidationResult(ctx context.Context, debtorID snowflake.ID, status debtordomain.ValidationStatus, validationErrors interface{}, at time.Time) error
	SetUploadPhase(ctx context.Context, uploadID snowflake.ID, phase string, status debtordomain.PhaseStatus, batchID string) error
}

// Runner validates every pending debtor of one upload. Per-row failures
// mark the row invalid and move on; only storage errors abort the phase.
type Runner struct {
	repo      Repository
	blacklist BlacklistChecker
	log       *zap.Logger
	now       func() time.Time
}

func NewRunner(repo Repository, blacklist BlacklistChecker, log *zap.Logger) *Runner {
	return &Runner{
		repo:      repo,
		blacklist: blacklist,
		log:       log.Named("validation"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the validation phase for uploadID.
func (r *Runner) Run(ctx context.Context, uploadID snowflake.ID) error {
	if err := r.repo.SetUploadPhase(ctx, uploadID, "validation", debtordomain.PhaseStarted, ""); err != nil {
		return err
	}

	debtors, err := r.repo.ListDebtorsForValidation(ctx, uploadID)
	if err != nil {
		_ = r.repo.SetUploadPhase(ctx, uploadID, "validation", debtordomain.PhaseFailed, "")
		return err
	}

	invalid := 0
	for i := range debtors {
		select {
		case <-ctx.Done():
			_ = r.repo.SetUploadPhase(ctx, uploadID, "validation", debtordomain.PhaseFailed, "")
			return ctx.Err()
		default:
		}

		result := Validate(ctx, rowOf(&debtors[i]), r.blacklist)
		status := debtordomain.ValidationValid
		var errs interface{}
		if !result.Valid {
			status = debtordomain.ValidationInvalid
			errs = result.Errors
			invalid++
		}
		if err := r.repo.SaveValidationResult(ctx, debtors[i].ID, status, errs, r.now()); err != nil {
			_ = r.repo.SetUploadPhase(ctx, uploadID, "validation", debtordomain.PhaseFailed, "")
			return err
		}
	}

	jobqueue.AddProcessed(ctx, len(debtors))
	r.log.Info("validation phase finished",
		zap.String("upload_id", uploadID.String()),
		zap.Int("rows", len(debtors)),
		zap.Int("invalid", invalid))
	return r.repo.SetUploadPhase(ctx, uploadID, "validation", debtordomain.PhaseCompleted, "")
}

// rowOf projects a stored Debtor back into the validation input shape,
// carrying the raw spreadsheet fields for the encoding checks.
func rowOf(d *debtordomain.Debtor) Row {
	raw := make(map[string]string, len(d.RawRow))
	for k, v := range d.RawRow {
		if s, ok := v.(string); ok {
			raw[k] = s
		}
	}
	return Row{
		FirstName:        d.FirstName,
		LastName:         d.LastName,
		IBAN:             d.IBAN,
		Country:          d.Country,
		AmountMinorUnits: d.AmountMinorUnits,
		Email:            d.Email,
		RawFields:        raw,
	}
}
