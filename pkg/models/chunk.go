package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ChunkStatus string

const (
	ChunkStatusPending   ChunkStatus = "pending"
	ChunkStatusCompleted ChunkStatus = "completed"
	ChunkStatusFailed    ChunkStatus = "failed"
)

func (s ChunkStatus) Terminal() bool {
	return s == ChunkStatusCompleted || s == ChunkStatusFailed
}

// ChunkKey identifies one row-chunk of an upload.
type ChunkKey struct {
	UploadID   uuid.UUID
	ChunkIndex int
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s:%d", k.UploadID, k.ChunkIndex)
}

type Chunk struct {
	UploadID     uuid.UUID   `json:"upload_id"`
	ChunkIndex   int         `json:"chunk_index"`
	Status       ChunkStatus `json:"status"`
	RowCount     int         `json:"row_count"`
	ErrorCount   int         `json:"error_count"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ProcessingError is the append-only record of one failed row.
type ProcessingError struct {
	ID         int64     `json:"id"`
	UploadID   uuid.UUID `json:"upload_id"`
	ChunkIndex int       `json:"chunk_index"`
	RowNumber  int       `json:"row_number"`
	Message    string    `json:"message"`
	RawRow     Row       `json:"raw_row"`
	CreatedAt  time.Time `json:"created_at"`
}
