package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/docstore"
)

const (
	// ClientIDHeader identifies the writing client so its own change signal is not echoed back.
	ClientIDHeader = "X-Client-ID"

	maxDocumentBody = 10 << 20 // 10 MB
	maxBundleBody   = 50 << 20 // 50 MB
)

// Handler holds API route handlers.
type Handler struct {
	store *docstore.Store
}

// NewHandler creates a new Handler.
func NewHandler(store *docstore.Store) *Handler {
	return &Handler{store: store}
}

// clientOrigin returns the writer identity for change signals.
func clientOrigin(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	return SubjectFrom(r.Context())
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List stored documents
//	@Tags			documents
//	@Produce		json
//	@Success		200	{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List()
	if err != nil {
		slog.Error("list documents failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)})
}

// GetDocument handles GET /api/documents/{key}.
//
//	@Summary		Get a document's JSON value
//	@Tags			documents
//	@Produce		json
//	@Param			key	path	string	true	"Document key"
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{key} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := docstore.ValidateKey(key); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	raw, ok := h.store.Raw(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

// PutDocument handles PUT /api/documents/{key}. The body replaces the whole document.
//
//	@Summary		Save a document
//	@Tags			documents
//	@Accept			json
//	@Param			key				path	string	true	"Document key"
//	@Param			X-Client-ID		header	string	false	"Writer id; its own change signal is suppressed"
//	@Success		204
//	@Failure		400	{object}	errResponse
//	@Failure		413	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{key} [put]
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBody)
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("document too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	ctx := docstore.WithOrigin(r.Context(), clientOrigin(r))
	if err := h.store.SaveRaw(ctx, key, bytes.TrimSpace(body)); err != nil {
		writeStoreError(w, "save document", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDocument handles DELETE /api/documents/{key}.
//
//	@Summary		Delete a document
//	@Tags			documents
//	@Param			key	path	string	true	"Document key"
//	@Success		204	"Document deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{key} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	ctx := docstore.WithOrigin(r.Context(), clientOrigin(r))
	if err := h.store.Delete(ctx, key); err != nil {
		writeStoreError(w, "delete document", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /api/export. The bundle is served as a file download and
// the export is recorded as the last backup.
//
//	@Summary		Download a backup bundle of every document
//	@Tags			backup
//	@Produce		json
//	@Success		200
//	@Security		BearerAuth
//	@Router			/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	name, at, err := h.store.WriteBundle(r.Context(), &buf)
	if err != nil {
		slog.Error("export failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if !writeRawJSON(w, http.StatusOK, buf.Bytes()) {
		return
	}
	if err := h.store.RecordBackup(at); err != nil {
		slog.Warn("record backup time failed", slog.String("error", err.Error()))
	}
}

// Import handles POST /api/import. Either every document in the bundle is
// written or none is.
//
//	@Summary		Restore documents from a backup bundle
//	@Tags			backup
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	ImportResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBundleBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("bundle too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	ctx := docstore.WithOrigin(r.Context(), clientOrigin(r))
	n, err := h.store.ImportData(ctx, body)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidBundle) {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		slog.Error("import failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Imported: n})
}

// BackupStatus handles GET /api/backup.
//
//	@Summary		Last backup time and whether there is data worth backing up
//	@Tags			backup
//	@Produce		json
//	@Success		200	{object}	BackupStatusResponse
//	@Security		BearerAuth
//	@Router			/backup [get]
func (h *Handler) BackupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.BackupStatus())
}

func writeStoreError(w http.ResponseWriter, op, key string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidKey), errors.Is(err, apperr.ErrSerialize):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrQuotaExceeded):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	default:
		slog.Error(op+" failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
