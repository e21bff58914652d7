package chunkstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/pkg/models"
)

func TestDisk_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	key := models.ChunkKey{UploadID: uuid.New(), ChunkIndex: 2}
	rows := []models.Row{
		{"storeName": "North", "cityName": "Oslo"},
		{"storeName": "South", "cityName": ""},
	}

	ref, err := d.Put(ctx, key, rows)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if want := key.UploadID.String() + "-chunk-2.json"; filepath.Base(ref) != want {
		t.Errorf("expected file %s, got %s", want, filepath.Base(ref))
	}

	got, err := d.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got[0]["storeName"] != "North" || got[1]["cityName"] != "" {
		t.Errorf("unexpected rows: %v", got)
	}

	if err := d.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Errorf("expected artifact removed, stat err = %v", err)
	}
	// Deleting twice is harmless.
	if err := d.Delete(ctx, ref); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestDisk_GetMissing(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	_, err = d.Get(context.Background(), d.Path(models.ChunkKey{UploadID: uuid.New()}))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDisk_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("new disk: %v", err)
	}
	key := models.ChunkKey{UploadID: uuid.New()}
	if _, err := d.Put(ctx, key, []models.Row{{"a": "1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ref, err := d.Put(ctx, key, []models.Row{{"a": "2"}, {"a": "3"}})
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	got, err := d.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 rows after overwrite, got %d", len(got))
	}
	entries, _ := os.ReadDir(filepath.Dir(ref))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, found %d entries", len(entries))
	}
}

func TestObjectKey(t *testing.T) {
	id := uuid.MustParse("6f1c2a8e-4b0b-4d8e-9a44-6a3e0c1b2d3f")
	got := objectKey("tenant/", models.ChunkKey{UploadID: id, ChunkIndex: 7})
	want := "tenant/chunks/6f1c2a8e-4b0b-4d8e-9a44-6a3e0c1b2d3f/7.json"
	if got != want {
		t.Errorf("objectKey = %q, want %q", got, want)
	}
}
