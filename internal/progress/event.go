// Package progress carries best-effort pipeline progress events from the
// stages to interested subscribers. Delivery is at most once with no replay.
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/pkg/models"
)

type EventType string

const (
	EventFileProgress       EventType = "file_progress"
	EventChunkProgress      EventType = "chunk_progress"
	EventProcessingProgress EventType = "processing_progress"
	EventError              EventType = "error"
)

// Event is the wire form pushed to subscribers.
type Event struct {
	Type     EventType       `json:"type"`
	UploadID uuid.UUID       `json:"uploadId"`
	Data     json.RawMessage `json:"data"`
}

// Publisher is injected into every stage. Implementations must not block the
// caller on slow subscribers and should swallow delivery failures.
type Publisher interface {
	Publish(ctx context.Context, uploadID uuid.UUID, typ EventType, data any) error
}

type FileProgress struct {
	Status      models.UploadStatus `json:"status"`
	TotalRows   *int64              `json:"totalRows,omitempty"`
	TotalChunks *int                `json:"totalChunks,omitempty"`
	// Set on the terminal event.
	ProcessedRows *int64 `json:"processedRows,omitempty"`
	ErrorCount    *int64 `json:"errorCount,omitempty"`
}

type ChunkProgress struct {
	ChunkIndex  int   `json:"chunkIndex"`
	TotalRows   int64 `json:"totalRows"`
	TotalChunks int   `json:"totalChunks"`
}

type ProcessingProgress struct {
	ChunkIndex         int   `json:"chunkIndex"`
	ProcessedRows      int   `json:"processedRows"`
	ErrorCount         int   `json:"errorCount"`
	TotalProcessedRows int64 `json:"totalProcessedRows"`
	TotalErrorCount    int64 `json:"totalErrorCount"`
}

type ErrorData struct {
	Stage      string `json:"stage"`
	Message    string `json:"message"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
}

// NewEvent encodes data into an Event.
func NewEvent(uploadID uuid.UUID, typ EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", typ, err)
	}
	return Event{Type: typ, UploadID: uploadID, Data: raw}, nil
}
