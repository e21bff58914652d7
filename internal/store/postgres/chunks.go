package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maraichr/sheetflow/pkg/models"
)

const chunkColumns = `upload_id, chunk_index, status, row_count, error_count, error_message, created_at, updated_at`

func scanChunk(row pgx.Row) (models.Chunk, error) {
	var c models.Chunk
	var status string
	err := row.Scan(
		&c.UploadID, &c.ChunkIndex, &status, &c.RowCount,
		&c.ErrorCount, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Status = models.ChunkStatus(status)
	return c, err
}

// RecordChunk registers a pending chunk. Re-recording keeps the status and
// refreshes the row count.
func (q *Queries) RecordChunk(ctx context.Context, key models.ChunkKey, rowCount int) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO file_chunks (upload_id, chunk_index, status, row_count)
		 VALUES ($1, $2, 'pending', $3)
		 ON CONFLICT (upload_id, chunk_index) DO UPDATE SET row_count = EXCLUDED.row_count`,
		key.UploadID, key.ChunkIndex, rowCount)
	return err
}

// LockChunk ensures the chunk row exists and locks it for the rest of the
// transaction, returning its current status.
func (q *Queries) LockChunk(ctx context.Context, key models.ChunkKey, rowCount int) (models.ChunkStatus, error) {
	if _, err := q.db.Exec(ctx,
		`INSERT INTO file_chunks (upload_id, chunk_index, status, row_count)
		 VALUES ($1, $2, 'pending', $3)
		 ON CONFLICT (upload_id, chunk_index) DO NOTHING`,
		key.UploadID, key.ChunkIndex, rowCount); err != nil {
		return "", err
	}

	var status string
	err := q.db.QueryRow(ctx,
		`SELECT status FROM file_chunks
		 WHERE upload_id = $1 AND chunk_index = $2
		 FOR UPDATE`,
		key.UploadID, key.ChunkIndex).Scan(&status)
	return models.ChunkStatus(status), err
}

func (q *Queries) CompleteChunk(ctx context.Context, key models.ChunkKey, errorCount int) error {
	_, err := q.db.Exec(ctx,
		`UPDATE file_chunks
		 SET status = 'completed', error_count = $3, updated_at = now()
		 WHERE upload_id = $1 AND chunk_index = $2`,
		key.UploadID, key.ChunkIndex, errorCount)
	return err
}

// FailChunk marks a chunk permanently failed unless it is already terminal.
func (q *Queries) FailChunk(ctx context.Context, key models.ChunkKey, message string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO file_chunks (upload_id, chunk_index, status, error_message)
		 VALUES ($1, $2, 'failed', $3)
		 ON CONFLICT (upload_id, chunk_index) DO UPDATE
		 SET status = 'failed', error_message = EXCLUDED.error_message, updated_at = now()
		 WHERE file_chunks.status = 'pending'`,
		key.UploadID, key.ChunkIndex, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) GetChunk(ctx context.Context, key models.ChunkKey) (models.Chunk, error) {
	return scanChunk(q.db.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM file_chunks WHERE upload_id = $1 AND chunk_index = $2`,
		key.UploadID, key.ChunkIndex))
}

func (q *Queries) ListChunks(ctx context.Context, uploadID uuid.UUID) ([]models.Chunk, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM file_chunks WHERE upload_id = $1 ORDER BY chunk_index`,
		uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// ListChunkIndexes returns the indices already recorded for an upload, used
// to make decomposition retries skip finished work.
func (q *Queries) ListChunkIndexes(ctx context.Context, uploadID uuid.UUID) ([]int, error) {
	rows, err := q.db.Query(ctx,
		`SELECT chunk_index FROM file_chunks WHERE upload_id = $1 ORDER BY chunk_index`,
		uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
