package ingestion

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/maraichr/sheetflow/pkg/models"
)

// RowSource yields header-mapped rows in file order and returns io.EOF after
// the last one.
type RowSource interface {
	Next() (models.Row, error)
	Close() error
}

// header maps positional values to column names.
type header []string

func newHeader(cells []string) header {
	h := make(header, len(cells))
	for i, c := range cells {
		if i == 0 {
			c = strings.TrimPrefix(c, "\uFEFF")
		}
		c = strings.TrimSpace(c)
		if c == "" {
			c = "column_" + strconv.Itoa(i+1)
		}
		h[i] = c
	}
	return h
}

// row builds a Row from values. Missing trailing values become empty strings
// and values past the header are dropped.
func (h header) row(values []string) models.Row {
	r := make(models.Row, len(h))
	for i, name := range h {
		if i < len(values) {
			r[name] = values[i]
		} else {
			r[name] = ""
		}
	}
	return r
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type csvSource struct {
	f      *os.File
	r      *csv.Reader
	header header
}

// OpenCSV opens a comma-separated file whose first record is the header.
func OpenCSV(path string) (RowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &csvSource{f: f, r: r}, nil
	}
	if err != nil {
		f.Close()
		return nil, malformed(err)
	}
	return &csvSource{f: f, r: r, header: newHeader(first)}, nil
}

func (s *csvSource) Next() (models.Row, error) {
	if s.header == nil {
		return nil, io.EOF
	}
	for {
		rec, err := s.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, malformed(err)
		}
		if blank(rec) {
			continue
		}
		if len(rec) != len(s.header) {
			line, _ := s.r.FieldPos(0)
			return nil, &MalformedFileError{
				Line: line,
				Err:  fmt.Errorf("expected %d fields, got %d", len(s.header), len(rec)),
			}
		}
		return s.header.row(rec), nil
	}
}

func (s *csvSource) Close() error {
	return s.f.Close()
}

func malformed(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &MalformedFileError{Line: pe.Line, Err: pe.Err}
	}
	return fmt.Errorf("read csv: %w", err)
}
