package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	minioclient "github.com/maraichr/sheetflow/internal/store/minio"
	"github.com/maraichr/sheetflow/pkg/models"
)

// MinIO stores chunks as objects in the configured bucket. Refs are object
// names.
type MinIO struct {
	client *minioclient.Client
}

func NewMinIO(client *minioclient.Client) *MinIO {
	return &MinIO{client: client}
}

func (m *MinIO) Put(ctx context.Context, key models.ChunkKey, rows []models.Row) (string, error) {
	b, err := encode(rows)
	if err != nil {
		return "", err
	}
	name := objectKey("", key)
	if err := m.client.UploadFile(ctx, name, bytes.NewReader(b), int64(len(b)), "application/json"); err != nil {
		return "", err
	}
	return name, nil
}

func (m *MinIO) Get(ctx context.Context, ref string) ([]models.Row, error) {
	rc, err := m.client.DownloadFile(ctx, ref)
	if errors.Is(err, minioclient.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read chunk object: %w", err)
	}
	return decode(ref, b)
}

func (m *MinIO) Delete(ctx context.Context, ref string) error {
	return m.client.RemoveFile(ctx, ref)
}
