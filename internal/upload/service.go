package upload

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	debtordomain "github.com/smallbiznis/sepa-recovery/internal/debtor/domain"
)

// Service owns the upload lifecycle around the ingestor: it creates the
// Upload record for a stored file, parses it, persists the discovered
// column mapping, and drives the row chunks to a terminal upload status.
type Service struct {
	repo        Repository
	ingestor    *Ingestor
	genID       *snowflake.Node
	log         *zap.Logger
	onCompleted func(ctx context.Context, upload *debtordomain.Upload)
}

func NewService(repo Repository, ingestor *Ingestor, genID *snowflake.Node, log *zap.Logger) *Service {
	return &Service{repo: repo, ingestor: ingestor, genID: genID, log: log.Named("upload.service")}
}

// OnCompleted registers a hook invoked once an upload's rows have all
// been persisted, used to chain the downstream phases.
func (s *Service) OnCompleted(fn func(ctx context.Context, upload *debtordomain.Upload)) {
	s.onCompleted = fn
}

func (s *Service) notifyCompleted(ctx context.Context, uploadID snowflake.ID) {
	if s.onCompleted == nil {
		return
	}
	upload, err := s.repo.GetUpload(ctx, uploadID)
	if err != nil || upload == nil {
		s.log.Warn("completed upload could not be reloaded",
			zap.String("upload_id", uploadID.String()), zap.Error(err))
		return
	}
	s.onCompleted(ctx, upload)
}

// CreateAndIngest registers a stored spreadsheet as a new Upload and
// runs ingestion. Small files finish synchronously; large ones return
// once their chunks are queued, and the last chunk completes the upload.
func (s *Service) CreateAndIngest(ctx context.Context, storedPath, originalFilename string, size int64, uploaderID snowflake.ID, model debtordomain.BillingModel) (*debtordomain.Upload, error) {
	upload := &debtordomain.Upload{
		ID:               s.genID.Generate(),
		OriginalFilename: originalFilename,
		StoredPath:       storedPath,
		Size:             size,
		UploaderID:       uploaderID,
		BillingModel:     model,
		Status:           debtordomain.UploadStatusPending,
		ValidationPhase:  debtordomain.PhaseIdle,
		VopPhase:         debtordomain.PhaseIdle,
		BillingPhase:     debtordomain.PhaseIdle,
		ReconcilePhase:   debtordomain.PhaseIdle,
	}
	if err := s.repo.CreateUpload(ctx, upload); err != nil {
		return nil, err
	}

	if err := s.Ingest(ctx, upload); err != nil {
		_ = s.repo.UpdateUploadStatus(ctx, upload.ID, debtordomain.UploadStatusFailed)
		return upload, err
	}
	return upload, nil
}

// Ingest parses the upload's stored file and dispatches its rows.
func (s *Service) Ingest(ctx context.Context, upload *debtordomain.Upload) error {
	sheet, err := Parse(upload.StoredPath)
	if err != nil {
		return err
	}
	mapping := BuildColumnMapping(sheet.Headers)
	if err := s.repo.SetUploadIngestShape(ctx, upload.ID, mapping, len(sheet.Rows)); err != nil {
		return err
	}
	if err := s.repo.UpdateUploadStatus(ctx, upload.ID, debtordomain.UploadStatusProcessing); err != nil {
		return err
	}

	rows := toRows(sheet, mapping)
	if len(rows) <= s.ingestor.cfg.InlineThreshold {
		if err := s.ingestor.processChunk(ctx, upload.ID, upload.BillingModel, rows); err != nil {
			return err
		}
		if err := s.repo.UpdateUploadStatus(ctx, upload.ID, debtordomain.UploadStatusCompleted); err != nil {
			return err
		}
		s.notifyCompleted(ctx, upload.ID)
		return nil
	}

	chunks := chunkRows(rows, s.ingestor.cfg.ChunkSize)
	remaining := int32(len(chunks))
	for _, chunk := range chunks {
		chunk := chunk
		s.ingestor.pool.Dispatch(ctx, "default", func(taskCtx context.Context) error {
			err := s.ingestor.processChunk(taskCtx, upload.ID, upload.BillingModel, chunk)
			if atomic.AddInt32(&remaining, -1) == 0 {
				if statusErr := s.repo.UpdateUploadStatus(taskCtx, upload.ID, debtordomain.UploadStatusCompleted); statusErr != nil {
					s.log.Warn("failed to complete upload",
						zap.String("upload_id", upload.ID.String()), zap.Error(statusErr))
				} else {
					s.notifyCompleted(taskCtx, upload.ID)
				}
			}
			return err
		})
	}
	s.log.Info("upload chunks dispatched",
		zap.String("upload_id", upload.ID.String()),
		zap.String("file", filepath.Base(upload.OriginalFilename)),
		zap.Int("rows", len(rows)),
		zap.Int("chunks", len(chunks)))
	return nil
}

func chunkRows(rows []Row, size int) [][]Row {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
