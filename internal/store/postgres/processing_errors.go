package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/pkg/models"
)

type InsertProcessingErrorParams struct {
	UploadID   uuid.UUID
	ChunkIndex int
	RowNumber  int
	Message    string
	RawRow     models.Row
}

func (q *Queries) InsertProcessingError(ctx context.Context, arg InsertProcessingErrorParams) error {
	raw, err := json.Marshal(arg.RawRow)
	if err != nil {
		return fmt.Errorf("marshal raw row: %w", err)
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO processing_errors (upload_id, chunk_index, row_number, message, raw_row)
		 VALUES ($1, $2, $3, $4, $5)`,
		arg.UploadID, arg.ChunkIndex, arg.RowNumber, arg.Message, raw)
	return err
}

func (q *Queries) ListProcessingErrors(ctx context.Context, uploadID uuid.UUID, limit, offset int32) ([]models.ProcessingError, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, upload_id, chunk_index, row_number, message, raw_row, created_at
		 FROM processing_errors
		 WHERE upload_id = $1
		 ORDER BY chunk_index, row_number
		 LIMIT $2 OFFSET $3`,
		uploadID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ProcessingError
	for rows.Next() {
		var i models.ProcessingError
		var raw []byte
		if err := rows.Scan(&i.ID, &i.UploadID, &i.ChunkIndex, &i.RowNumber, &i.Message, &raw, &i.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &i.RawRow); err != nil {
			return nil, fmt.Errorf("unmarshal raw row %d: %w", i.ID, err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
