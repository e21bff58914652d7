package ingestion

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/maraichr/sheetflow/pkg/models"
)

// SheetReader opens the first worksheet of an XLSX workbook.
type SheetReader interface {
	Open(path string) (RowSource, error)
}

// NewSheetReader returns the reader named by mode ("memory" or "stream").
func NewSheetReader(mode string) SheetReader {
	if mode == "stream" {
		return StreamingSheetReader{}
	}
	return MemorySheetReader{}
}

// MemorySheetReader loads the whole first sheet before yielding rows. Memory
// grows with the sheet; use StreamingSheetReader for very large workbooks.
type MemorySheetReader struct{}

func (MemorySheetReader) Open(path string) (RowSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return &sliceSource{}, nil
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return newSliceSource(rows), nil
}

type sliceSource struct {
	header header
	rows   [][]string
	pos    int
}

func newSliceSource(rows [][]string) *sliceSource {
	for i, r := range rows {
		if !blank(r) {
			return &sliceSource{header: newHeader(r), rows: rows[i+1:]}
		}
	}
	return &sliceSource{}
}

func (s *sliceSource) Next() (models.Row, error) {
	for s.pos < len(s.rows) {
		r := s.rows[s.pos]
		s.pos++
		if blank(r) {
			continue
		}
		return s.header.row(r), nil
	}
	return nil, io.EOF
}

func (s *sliceSource) Close() error { return nil }

// StreamingSheetReader iterates the first sheet row by row without holding
// it in memory.
type StreamingSheetReader struct{}

func (StreamingSheetReader) Open(path string) (RowSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return &sliceSource{}, nil
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("iterate sheet %q: %w", sheet, err)
	}
	return &streamSource{f: f, rows: rows}, nil
}

type streamSource struct {
	f      *excelize.File
	rows   *excelize.Rows
	header header
}

func (s *streamSource) Next() (models.Row, error) {
	for s.rows.Next() {
		cols, err := s.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if blank(cols) {
			continue
		}
		if s.header == nil {
			s.header = newHeader(cols)
			continue
		}
		return s.header.row(cols), nil
	}
	if err := s.rows.Error(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return nil, io.EOF
}

func (s *streamSource) Close() error {
	rerr := s.rows.Close()
	ferr := s.f.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}
