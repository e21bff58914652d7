package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maraichr/sheetflow/pkg/models"
)

const uploadColumns = `id, original_name, mime_type, size_bytes, status, total_rows,
	processed_rows, error_count, error_message, created_at, updated_at`

func scanUpload(row pgx.Row) (models.Upload, error) {
	var u models.Upload
	var status string
	err := row.Scan(
		&u.ID, &u.OriginalName, &u.MimeType, &u.SizeBytes, &status, &u.TotalRows,
		&u.ProcessedRows, &u.ErrorCount, &u.ErrorMessage, &u.CreatedAt, &u.UpdatedAt,
	)
	u.Status = models.UploadStatus(status)
	return u, err
}

type CreateUploadParams struct {
	ID           uuid.UUID
	OriginalName string
	MimeType     string
	SizeBytes    int64
}

func (q *Queries) CreateUpload(ctx context.Context, arg CreateUploadParams) (models.Upload, error) {
	return scanUpload(q.db.QueryRow(ctx,
		`INSERT INTO file_uploads (id, original_name, mime_type, size_bytes, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING `+uploadColumns,
		arg.ID, arg.OriginalName, arg.MimeType, arg.SizeBytes))
}

func (q *Queries) GetUpload(ctx context.Context, id uuid.UUID) (models.Upload, error) {
	return scanUpload(q.db.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM file_uploads WHERE id = $1`, id))
}

func (q *Queries) ListUploads(ctx context.Context, limit, offset int32) ([]models.Upload, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+uploadColumns+`
		 FROM file_uploads
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// AdvanceUploadStatus moves the upload to status only if it is currently in
// one of from. It reports whether the row changed.
func (q *Queries) AdvanceUploadStatus(ctx context.Context, id uuid.UUID, from []models.UploadStatus, to models.UploadStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE file_uploads
		 SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = ANY($3::text[])`,
		id, string(to), states)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailUpload marks a non-terminal upload failed with a reason.
func (q *Queries) FailUpload(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE file_uploads
		 SET status = 'failed', error_message = $2, updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeChunking records the total row count and moves the upload to
// chunked unless row processing already advanced it.
func (q *Queries) FinalizeChunking(ctx context.Context, id uuid.UUID, totalRows int64) error {
	_, err := q.db.Exec(ctx,
		`UPDATE file_uploads
		 SET total_rows = $2,
		     status = CASE WHEN status IN ('pending', 'uploaded', 'chunking') THEN 'chunked' ELSE status END,
		     updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, totalRows)
	return err
}

// IncrementUploadCounters adds a chunk's outcome to the upload in a single
// statement and returns the new totals.
func (q *Queries) IncrementUploadCounters(ctx context.Context, id uuid.UUID, processed, errored int) (int64, int64, error) {
	var processedRows, errorCount int64
	err := q.db.QueryRow(ctx,
		`UPDATE file_uploads
		 SET processed_rows = processed_rows + $2,
		     error_count = error_count + $3,
		     status = CASE WHEN status = 'chunked' THEN 'processing' ELSE status END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING processed_rows, error_count`,
		id, processed, errored).Scan(&processedRows, &errorCount)
	return processedRows, errorCount, err
}

// TryCompleteUpload moves the upload to its terminal status once the total is
// known and no chunk is pending. Only one caller ever gets ok=true.
func (q *Queries) TryCompleteUpload(ctx context.Context, id uuid.UUID) (models.Upload, bool, error) {
	u, err := scanUpload(q.db.QueryRow(ctx,
		`WITH failed AS (
		     SELECT EXISTS (
		         SELECT 1 FROM file_chunks WHERE upload_id = $1 AND status = 'failed'
		     ) AS any_failed
		 )
		 UPDATE file_uploads u
		 SET status = CASE WHEN failed.any_failed THEN 'failed' ELSE 'completed' END,
		     error_message = CASE WHEN failed.any_failed
		         THEN COALESCE(u.error_message, 'one or more chunks failed permanently')
		         ELSE u.error_message END,
		     updated_at = now()
		 FROM failed
		 WHERE u.id = $1
		   AND u.status IN ('chunked', 'processing')
		   AND u.total_rows IS NOT NULL
		   AND NOT EXISTS (
		       SELECT 1 FROM file_chunks c WHERE c.upload_id = u.id AND c.status = 'pending'
		   )
		 RETURNING u.id, u.original_name, u.mime_type, u.size_bytes, u.status, u.total_rows,
		     u.processed_rows, u.error_count, u.error_message, u.created_at, u.updated_at`,
		id))
	if err == pgx.ErrNoRows {
		return models.Upload{}, false, nil
	}
	if err != nil {
		return models.Upload{}, false, err
	}
	return u, true, nil
}
