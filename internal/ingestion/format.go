package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

const (
	MimeCSV  = "text/csv"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeXLS  = "application/vnd.ms-excel"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// DetectFormat picks a reader for path. The declared MIME type is consulted
// first, then the extension; the file's leading bytes override both when
// they identify a zip (XLSX) or OLE2 (legacy XLS) container, since browsers
// routinely mislabel spreadsheets.
func DetectFormat(path, mimeType string) (Format, error) {
	declared := formatFromMime(mimeType)
	if declared == "" {
		declared = formatFromExt(path)
	}

	head, err := readHead(path, len(ole2Magic))
	if err != nil {
		return "", err
	}
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatXLSX, nil
	case bytes.HasPrefix(head, ole2Magic):
		return "", &UnsupportedFormatError{Path: path, MimeType: mimeType, Reason: "legacy binary XLS workbooks are not supported; save as XLSX or CSV"}
	case declared == FormatXLSX:
		return "", &UnsupportedFormatError{Path: path, MimeType: mimeType, Reason: "declared as XLSX but is not a zip archive"}
	}
	return FormatCSV, nil
}

func formatFromMime(mimeType string) Format {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch mt {
	case MimeCSV, "application/csv", "text/plain":
		return FormatCSV
	case MimeXLSX:
		return FormatXLSX
	}
	// application/vnd.ms-excel is sent for both .csv and .xls files.
	return ""
}

func formatFromExt(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	}
	return ""
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf[:read], nil
}
