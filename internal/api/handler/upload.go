package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/maraichr/sheetflow/internal/ingestion"
	"github.com/maraichr/sheetflow/pkg/apierr"
	"github.com/maraichr/sheetflow/pkg/models"
)

var allowedMimeTypes = map[string]bool{
	ingestion.MimeCSV:  true,
	ingestion.MimeXLS:  true,
	ingestion.MimeXLSX: true,
}

// Submitter hands a stored upload to the pipeline.
type Submitter interface {
	Submit(ctx context.Context, p ingestion.SubmitParams) (models.Upload, error)
}

type UploadHandler struct {
	logger    *slog.Logger
	intake    Submitter
	uploadDir string
	maxBytes  int64
}

func NewUploadHandler(logger *slog.Logger, intake Submitter, uploadDir string, maxBytes int64) *UploadHandler {
	return &UploadHandler{logger: logger, intake: intake, uploadDir: uploadDir, maxBytes: maxBytes}
}

// Upload accepts a multipart "file" field, writes it to the upload directory
// and submits it for processing.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIError(w, h.logger, apierr.FileTooLarge(h.maxBytes))
			return
		}
		writeAPIError(w, h.logger, apierr.FileRequired())
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		writeAPIError(w, h.logger, apierr.FileTooLarge(h.maxBytes))
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if !allowedMimeTypes[mimeType] {
		writeAPIError(w, h.logger, apierr.UnsupportedFileType(mimeType))
		return
	}

	path, size, err := h.save(file, header.Filename)
	if err != nil {
		writeAPIError(w, h.logger, apierr.UploadFailed(err))
		return
	}

	u, err := h.intake.Submit(r.Context(), ingestion.SubmitParams{
		FilePath:     path,
		MimeType:     mimeType,
		OriginalName: header.Filename,
		SizeBytes:    size,
	})
	if err != nil {
		os.Remove(path)
		writeAPIError(w, h.logger, apierr.UploadFailed(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"upload": models.Summarize(u),
	})
}

func (h *UploadHandler) save(src io.Reader, name string) (string, int64, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", 0, err
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	f, err := os.CreateTemp(h.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), n, nil
}
