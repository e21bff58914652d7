package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/maraichr/sheetflow/pkg/models"
)

// Disk stores chunks as JSON files under one directory. Refs are file paths.
type Disk struct {
	dir string
}

func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) Path(key models.ChunkKey) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s-chunk-%d.json", key.UploadID, key.ChunkIndex))
}

// Put writes through a temp file and rename so a reader never sees a partial
// payload.
func (d *Disk) Put(_ context.Context, key models.ChunkKey, rows []models.Row) (string, error) {
	b, err := encode(rows)
	if err != nil {
		return "", err
	}
	path := d.Path(key)
	tmp, err := os.CreateTemp(d.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp chunk: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close chunk: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename chunk: %w", err)
	}
	return path, nil
}

func (d *Disk) Get(_ context.Context, ref string) ([]models.Row, error) {
	b, err := os.ReadFile(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	return decode(ref, b)
}

func (d *Disk) Delete(_ context.Context, ref string) error {
	if err := os.Remove(ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}
