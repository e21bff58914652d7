package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maraichr/sheetflow/internal/chunkstore"
	"github.com/maraichr/sheetflow/internal/lease"
	"github.com/maraichr/sheetflow/internal/progress"
	"github.com/maraichr/sheetflow/pkg/models"
)

// drain runs queued jobs until the queue is empty, the way a single worker
// would.
func drain(t *testing.T, q *memQueue, d *Dispatcher) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		job, ok := q.pop()
		if !ok {
			return
		}
		if err := d.Handle(context.Background(), job); err != nil {
			t.Fatalf("job %T: %v", job, err)
		}
	}
	t.Fatal("queue did not drain")
}

func TestPipeline_CSVEndToEnd(t *testing.T) {
	tmp := t.TempDir()
	repo, q, pub := newMemRepo(), &memQueue{}, &recorder{}
	cs, err := chunkstore.NewDisk(filepath.Join(tmp, "chunks"))
	if err != nil {
		t.Fatal(err)
	}

	intake := NewIntake(repo, q, pub, filepath.Join(tmp, "work"), testLogger())
	d := NewDispatcher(
		intake,
		NewDecomposer(repo, cs, q, pub, StreamingSheetReader{}, 10, testLogger()),
		NewRowProcessor(repo, cs, lease.NewMemory(), pub, time.Minute, testLogger()),
		testLogger(),
	)

	var b strings.Builder
	b.WriteString("Store Name,City,Latitude,Longitude\n")
	for i := 1; i <= 25; i++ {
		lat := "48.85"
		if i == 17 {
			lat = "not-a-number"
		}
		fmt.Fprintf(&b, "Shop %d,Paris,%s,2.35\n", i, lat)
	}
	path := writeFile(t, filepath.Join(tmp, "uploads"), "in.csv", []byte(b.String()))

	u, err := intake.Submit(context.Background(), SubmitParams{FilePath: path, MimeType: MimeCSV, OriginalName: "in.csv"})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, q, d)

	got := repo.upload(u.ID)
	if got.Status != models.UploadStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.TotalRows == nil || *got.TotalRows != 25 {
		t.Errorf("total rows = %v, want 25", got.TotalRows)
	}
	if got.ProcessedRows != 24 || got.ErrorCount != 1 {
		t.Errorf("counters = %d/%d, want 24/1", got.ProcessedRows, got.ErrorCount)
	}
	if got.Percentage() != 100 {
		t.Errorf("percentage = %v, want 100", got.Percentage())
	}

	perrs := repo.processingErrors()
	if len(perrs) != 1 || perrs[0].ChunkIndex != 1 || perrs[0].RowNumber != 7 {
		t.Errorf("expected row 7 of chunk 1 to fail, got %+v", perrs)
	}
	if len(repo.stored) != 24 || repo.stored[0].StoreName != "Shop 1" || repo.stored[0].CityName != "Paris" {
		t.Errorf("unexpected stored rows: %d", len(repo.stored))
	}

	var finals []progress.FileProgress
	for _, ev := range pub.ofType(progress.EventFileProgress) {
		var fp progress.FileProgress
		if err := json.Unmarshal(ev.Data, &fp); err != nil {
			t.Fatal(err)
		}
		if fp.Status == models.UploadStatusCompleted {
			finals = append(finals, fp)
		}
	}
	if len(finals) != 1 {
		t.Fatalf("expected exactly one completion event, got %d", len(finals))
	}
	if *finals[0].ProcessedRows != 24 || *finals[0].ErrorCount != 1 {
		t.Errorf("unexpected completion payload %+v", finals[0])
	}
}
