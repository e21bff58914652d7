// Package chunkstore persists the row payload of one chunk between the
// decomposition and row-processing stages.
package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maraichr/sheetflow/pkg/models"
)

// ErrNotFound is returned by Get when the artifact does not exist.
var ErrNotFound = errors.New("chunk artifact not found")

// Store writes, reads and removes chunk payloads. The ref returned by Put is
// opaque to callers and travels inside the row job.
type Store interface {
	Put(ctx context.Context, key models.ChunkKey, rows []models.Row) (string, error)
	Get(ctx context.Context, ref string) ([]models.Row, error)
	Delete(ctx context.Context, ref string) error
}

func encode(rows []models.Row) ([]byte, error) {
	if rows == nil {
		rows = []models.Row{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return b, nil
}

func decode(ref string, b []byte) ([]models.Row, error) {
	var rows []models.Row
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", ref, err)
	}
	return rows, nil
}

// objectKey is the key layout shared by the object-store backends.
func objectKey(prefix string, key models.ChunkKey) string {
	return fmt.Sprintf("%schunks/%s/%d.json", prefix, key.UploadID, key.ChunkIndex)
}
