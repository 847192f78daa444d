package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	middleware "github.com/docuflow-ai/docuflow/internal/api/middlewares"
	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/models"
	"github.com/docuflow-ai/docuflow/internal/pipeline"
)

type DocumentHandler struct {
	dbclient     core.DbClient
	objectclient core.ObjectClient
	queue        *pipeline.Queue
	log          *slog.Logger
}

func NewDocumentHandler(dbclient core.DbClient, objectclient core.ObjectClient, queue *pipeline.Queue, log *slog.Logger) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, objectclient: objectclient, queue: queue, log: log}
}

// UploadDocument handles file upload, DB insert, and enqueues extraction.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(52 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Sanitize the filename to prevent path traversal in the storage key.
	cleanFilename := filepath.Base(header.Filename)
	docID := uuid.NewString()
	storageKey := fmt.Sprintf("%s/%s/%s", orgID, docID, cleanFilename)

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	storagePath, err := h.objectclient.UploadFile(uploadCtx, storageKey, file, contentType)
	if err != nil {
		http.Error(w, fmt.Sprintf("upload failed: %v", err), http.StatusInternalServerError)
		return
	}

	doc := &models.Document{
		ID:            docID,
		OrgID:         orgID,
		UserID:        userID,
		OriginalName:  header.Filename,
		MimeType:      contentType,
		FileSizeBytes: header.Size,
		StoragePath:   storagePath,
		DocType:       r.FormValue("doc_type"),
		Status:        models.StatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := h.dbclient.CreateDocument(uploadCtx, doc); err != nil {
		h.log.Error("document insert failed", "document_id", docID, "error", err)
		http.Error(w, "failed to store document metadata", http.StatusInternalServerError)
		return
	}

	jobID, err := h.queue.EnqueueExtraction(doc.ID, orgID)
	if err != nil {
		// The document stays pending; processing can be re-triggered later.
		h.log.Error("could not enqueue extraction", "document_id", docID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"document": doc, "job_id": jobID})
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	documents, err := h.dbclient.ListDocumentsByOrg(r.Context(), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	doc, err := h.dbclient.GetDocument(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// DeleteDocument removes the document, its chunks and the stored object.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "id")

	doc, err := h.dbclient.GetDocument(r.Context(), id, orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	if err := h.dbclient.DeleteDocument(r.Context(), id, orgID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	if err := h.objectclient.DeleteFile(r.Context(), doc.StoragePath); err != nil {
		h.log.Warn("stored object not deleted", "document_id", id, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reprocess re-enqueues the extraction stage for a document.
func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	h.enqueueStage(w, r, h.queue.EnqueueExtraction)
}

// Reembed re-enqueues the embedding stage alone.
func (h *DocumentHandler) Reembed(w http.ResponseWriter, r *http.Request) {
	h.enqueueStage(w, r, h.queue.EnqueueEmbedding)
}

func (h *DocumentHandler) enqueueStage(w http.ResponseWriter, r *http.Request, enqueue func(documentID, orgID string) (string, error)) {
	_, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "id")

	doc, err := h.dbclient.GetDocument(r.Context(), id, orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	jobID, err := enqueue(id, orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
}

// EmbeddingStats returns chunk statistics for a document, 404 when the
// document has no embeddings yet.
func (h *DocumentHandler) EmbeddingStats(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stats, err := h.dbclient.GetEmbeddingStats(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		http.Error(w, "no embeddings for document", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
