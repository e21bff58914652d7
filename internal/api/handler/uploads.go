package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/pkg/apierr"
	"github.com/maraichr/sheetflow/pkg/models"
)

// UploadReader is the read side of the upload store.
type UploadReader interface {
	GetUpload(ctx context.Context, id uuid.UUID) (models.Upload, error)
	ListUploads(ctx context.Context, limit, offset int32) ([]models.Upload, error)
	ListProcessingErrors(ctx context.Context, uploadID uuid.UUID, limit, offset int32) ([]models.ProcessingError, error)
	ListChunks(ctx context.Context, uploadID uuid.UUID) ([]models.Chunk, error)
}

type UploadQueryHandler struct {
	logger  *slog.Logger
	uploads UploadReader
}

func NewUploadQueryHandler(logger *slog.Logger, uploads UploadReader) *UploadQueryHandler {
	return &UploadQueryHandler{logger: logger, uploads: uploads}
}

func (h *UploadQueryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	uploads, err := h.uploads.ListUploads(r.Context(), limit, offset)
	if err != nil {
		writeAPIError(w, h.logger, apierr.UploadListFailed(err))
		return
	}
	out := make([]models.UploadSummary, len(uploads))
	for i, u := range uploads {
		out[i] = models.Summarize(u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": out})
}

func (h *UploadQueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := h.uploadOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, models.Summarize(u))
}

func (h *UploadQueryHandler) Errors(w http.ResponseWriter, r *http.Request) {
	u, ok := h.uploadOr404(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)
	errs, err := h.uploads.ListProcessingErrors(r.Context(), u.ID, limit, offset)
	if err != nil {
		writeAPIError(w, h.logger, apierr.ErrorsListFailed(err))
		return
	}
	if errs == nil {
		errs = []models.ProcessingError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": errs,
		"total":  u.ErrorCount,
	})
}

func (h *UploadQueryHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	u, ok := h.uploadOr404(w, r)
	if !ok {
		return
	}
	chunks, err := h.uploads.ListChunks(r.Context(), u.ID)
	if err != nil {
		writeAPIError(w, h.logger, apierr.ChunksListFailed(err))
		return
	}
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (h *UploadQueryHandler) uploadOr404(w http.ResponseWriter, r *http.Request) (models.Upload, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, h.logger, apierr.InvalidID("upload"))
		return models.Upload{}, false
	}
	u, err := h.uploads.GetUpload(r.Context(), id)
	if err != nil {
		if apierr.IsNotFound(err) {
			writeAPIError(w, h.logger, apierr.UploadNotFound(id.String()))
		} else {
			writeAPIError(w, h.logger, apierr.InternalError(err))
		}
		return models.Upload{}, false
	}
	return u, true
}
