package models

import (
	"time"

	"github.com/google/uuid"
)

type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusUploaded   UploadStatus = "uploaded"
	UploadStatusChunking   UploadStatus = "chunking"
	UploadStatusChunked    UploadStatus = "chunked"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
)

// Terminal reports whether no stage will move the upload any further.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed
}

// Upload is one ingested file and its aggregate counters.
type Upload struct {
	ID            uuid.UUID    `json:"id"`
	OriginalName  string       `json:"original_name"`
	MimeType      string       `json:"mime_type"`
	SizeBytes     int64        `json:"size_bytes"`
	Status        UploadStatus `json:"status"`
	TotalRows     *int64       `json:"total_rows"`
	ProcessedRows int64        `json:"processed_rows"`
	ErrorCount    int64        `json:"error_count"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Percentage is the share of rows that reached a terminal outcome. It is 0
// until the total is known and never exceeds 100.
func (u Upload) Percentage() float64 {
	if u.TotalRows == nil {
		return 0
	}
	if *u.TotalRows == 0 {
		if u.Status == UploadStatusCompleted {
			return 100
		}
		return 0
	}
	pct := float64(u.ProcessedRows+u.ErrorCount) / float64(*u.TotalRows) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// UploadSummary is the query-surface projection of an upload.
type UploadSummary struct {
	Upload
	Percentage float64 `json:"percentage"`
}

func Summarize(u Upload) UploadSummary {
	return UploadSummary{Upload: u, Percentage: u.Percentage()}
}

type NewUpload struct {
	OriginalName string
	MimeType     string
	SizeBytes    int64
}
