package ingestion

import (
	"context"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/internal/store/postgres"
	"github.com/maraichr/sheetflow/pkg/models"
)

// Repository is the upload and chunk bookkeeping the stages need.
// *store.Store implements it.
type Repository interface {
	CreateUpload(ctx context.Context, arg postgres.CreateUploadParams) (models.Upload, error)
	GetUpload(ctx context.Context, id uuid.UUID) (models.Upload, error)
	AdvanceUploadStatus(ctx context.Context, id uuid.UUID, from []models.UploadStatus, to models.UploadStatus) (bool, error)
	FailUpload(ctx context.Context, id uuid.UUID, message string) (bool, error)
	FinalizeChunking(ctx context.Context, id uuid.UUID, totalRows int64) error
	TryCompleteUpload(ctx context.Context, id uuid.UUID) (models.Upload, bool, error)

	RecordChunk(ctx context.Context, key models.ChunkKey, rowCount int) error
	ListChunkIndexes(ctx context.Context, uploadID uuid.UUID) ([]int, error)
	GetChunk(ctx context.Context, key models.ChunkKey) (models.Chunk, error)
	FailChunk(ctx context.Context, key models.ChunkKey, message string) (bool, error)
	ApplyChunk(ctx context.Context, batch models.ChunkBatch) (models.ChunkTally, error)
}
