// Package upload implements the spreadsheet ingestor: it parses a
// stored spreadsheet, builds the header->canonical-field mapping,
// chunks rows, classifies each row against prior history (via
// internal/dedup), and persists accepted Debtor rows.
package upload

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/sepa-recovery/internal/amountparse"
	"github.com/smallbiznis/sepa-recovery/internal/config"
	"github.com/smallbiznis/sepa-recovery/internal/dateparse"
	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
	"github.com/smallbiznis/sepa-recovery/internal/debtorprofile"
	"github.com/smallbiznis/sepa-recovery/internal/dedup"
	"github.com/smallbiznis/sepa-recovery/internal/iban"
	"github.com/smallbiznis/sepa-recovery/internal/jobqueue"
)

// InlineThreshold and ChunkSize are the default row-count knobs.
const (
	DefaultInlineThreshold = 100
	DefaultChunkSize       = 500
)

// Config holds the ingestor's row-threshold/chunk-size knobs.
type Config struct {
	InlineThreshold int
	ChunkSize       int
}

func DefaultConfig() Config {
	return Config{InlineThreshold: DefaultInlineThreshold, ChunkSize: DefaultChunkSize}
}

// Repository is the persistence seam the ingestor needs.
type Repository interface {
	CreateUpload(ctx context.Context, upload *debtordomain.Upload) error
	GetUpload(ctx context.Context, id snowflake.ID) (*debtordomain.Upload, error)
	UpdateUploadStatus(ctx context.Context, id snowflake.ID, status debtordomain.UploadStatus) error
	SetUploadIngestShape(ctx context.Context, id snowflake.ID, mapping map[string]string, totalRows int) error
	MergeUploadSkipStats(ctx context.Context, id snowflake.ID, histogram map[string]int, examples []map[string]interface{}) error
	CreateDebtors(ctx context.Context, debtors []debtordomain.Debtor) error
	GetProfileByIBANHash(ctx context.Context, hash string) (*debtordomain.DebtorProfile, error)
	UpdateUploadCounters(ctx context.Context, uploadID snowflake.ID, processed, failed int) error
}

// Ingestor turns a parsed Sheet into Debtor rows, applying dedup and
// import-time profile exclusivity before persisting them.
type Ingestor struct {
	repo     Repository
	dedup    *dedup.Engine
	billing  *config.BillingModelConfigHolder
	genID    *snowflake.Node
	pool     *jobqueue.Pool
	log      *zap.Logger
	cfg      Config
}

func New(repo Repository, dedupEngine *dedup.Engine, billing *config.BillingModelConfigHolder, genID *snowflake.Node, pool *jobqueue.Pool, log *zap.Logger) *Ingestor {
	return &Ingestor{
		repo:    repo,
		dedup:   dedupEngine,
		billing: billing,
		genID:   genID,
		pool:    pool,
		log:     log.Named("upload.ingestor"),
		cfg:     DefaultConfig(),
	}
}

// Row is one raw spreadsheet row, already keyed by canonical field name.
type Row struct {
	Index  int
	Fields map[string]string
}

// toRows projects a parsed Sheet through the column mapping into
// canonical-field Row values.
func toRows(sheet Sheet, mapping map[string]string) []Row {
	rows := make([]Row, 0, len(sheet.Rows))
	for i, record := range sheet.Rows {
		fields := make(map[string]string, len(mapping))
		for col, header := range sheet.Headers {
			canonical, ok := mapping[header]
			if !ok || col >= len(record) {
				continue
			}
			fields[canonical] = record[col]
		}
		rows = append(rows, Row{Index: i, Fields: fields})
	}
	return rows
}

// normalize converts one raw Row into a Debtor, applying amount/date
// parsing and name splitting, but does not yet persist it or run dedup.
func normalize(uploadID snowflake.ID, genID *snowflake.Node, row Row) debtordomain.Debtor {
	first := row.Fields["first_name"]
	last := row.Fields["last_name"]
	if first == "" && last == "" {
		first, last = SplitName(row.Fields["name"])
	}

	normalizedIBAN := iban.Normalize(row.Fields["iban"])
	amountMinor, _ := amountparse.Parse(row.Fields["amount"])

	currency := strings.ToUpper(strings.TrimSpace(row.Fields["currency"]))
	if currency == "" {
		currency = "EUR"
	}

	rawRow := make(map[string]interface{}, len(row.Fields)+1)
	for k, v := range row.Fields {
		rawRow[k] = v
	}
	if birthDate, ok := dateparse.Parse(row.Fields["birth_date"]); ok {
		rawRow["birth_date_parsed"] = birthDate.Format("2006-01-02")
	}

	return debtordomain.Debtor{
		ID:               genID.Generate(),
		UploadID:         uploadID,
		FirstName:        first,
		LastName:         last,
		Email:            strings.TrimSpace(row.Fields["email"]),
		IBAN:             normalizedIBAN,
		IBANHash:         iban.Hash(normalizedIBAN),
		IBANValid:        iban.Valid(normalizedIBAN),
		Country:          strings.ToUpper(strings.TrimSpace(row.Fields["country"])),
		AmountMinorUnits: amountMinor,
		Currency:         currency,
		RawRow:           rawRow,
		ValidationStatus: debtordomain.ValidationPending,
		Status:           debtordomain.DebtorStatusUploaded,
	}
}

// processChunk classifies one chunk of rows via dedup and the
// import-time profile exclusivity rules, persists every row as a Debtor
// (skipped rows keep their skip reason so the upload report can explain
// them), and bumps the upload counters.
func (ing *Ingestor) processChunk(ctx context.Context, uploadID snowflake.ID, uploadModel debtordomain.BillingModel, rows []Row) error {
	debtors := make([]debtordomain.Debtor, 0, len(rows))
	dedupRows := make([]dedup.Row, 0, len(rows))
	for _, row := range rows {
		d := normalize(uploadID, ing.genID, row)
		debtors = append(debtors, d)
	}

	for i, d := range debtors {
		dedupRows = append(dedupRows, dedup.Row{
			Index:     i,
			IBANHash:  d.IBANHash,
			FirstName: d.FirstName,
			LastName:  d.LastName,
			Email:     d.Email,
		})
	}

	skips, err := ing.dedup.Classify(ctx, uploadID, dedupRows)
	if err != nil {
		return err
	}

	billingCfg := ing.billing.Get()
	histogram := dedup.NewHistogram()
	failed := 0
	for i := range debtors {
		skip, skipped := skips[i]
		if skipped {
			debtors[i].SkipReason = string(skip.Reason)
			debtors[i].SkipPermanent = skip.Permanent
			histogram.Add(rows[i].Index, skip.Reason)
			failed++
			continue
		}

		rowModel := debtorprofile.ResolveRowModel(billingCfg, uploadModel, debtors[i].AmountMinorUnits)
		profile, _ := ing.repo.GetProfileByIBANHash(ctx, debtors[i].IBANHash)
		accept, reason := debtorprofile.EnsureExclusivity(profile, rowModel)
		if !accept {
			debtors[i].SkipReason = string(reason)
			debtors[i].SkipPermanent = false
			histogram.Add(rows[i].Index, dedup.Reason(reason))
			failed++
			continue
		}
		if profile != nil {
			debtors[i].DebtorProfileID = &profile.ID
		}
	}

	if err := ing.repo.CreateDebtors(ctx, debtors); err != nil {
		return err
	}

	if err := ing.mergeSkipStats(ctx, uploadID, histogram); err != nil {
		ing.log.Warn("failed to merge skip stats", zap.Error(err))
	}
	return ing.repo.UpdateUploadCounters(ctx, uploadID, len(debtors), failed)
}

// mergeSkipStats folds one chunk's skip histogram into upload.meta.
func (ing *Ingestor) mergeSkipStats(ctx context.Context, uploadID snowflake.ID, histogram *dedup.Histogram) error {
	if len(histogram.Counts) == 0 {
		return nil
	}
	counts := make(map[string]int, len(histogram.Counts))
	for reason, count := range histogram.Counts {
		counts[string(reason)] = count
	}
	examples := make([]map[string]interface{}, 0, len(histogram.Examples))
	for _, example := range histogram.Examples {
		examples = append(examples, map[string]interface{}{
			"row":    example.Index,
			"reason": string(example.Reason),
		})
	}
	return ing.repo.MergeUploadSkipStats(ctx, uploadID, counts, examples)
}
