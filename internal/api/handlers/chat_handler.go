package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/docuflow-ai/docuflow/internal/api/middlewares"
	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/services"
)

type ChatHandler struct {
	chat *services.ChatService
	log  *slog.Logger
}

func NewChatHandler(chat *services.ChatService, log *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: log}
}

type chatRequest struct {
	Message          string  `json:"message"`
	ChatID           string  `json:"chat_id,omitempty"`
	DocumentID       string  `json:"document_id,omitempty"`
	MaxContextChunks int     `json:"max_context_chunks,omitempty"`
	Temperature      float32 `json:"temperature,omitempty"`
}

// SendMessage runs one retrieval-augmented chat turn.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := h.chat.SendMessage(r.Context(), services.SendMessageInput{
		UserID:           userID,
		OrgID:            orgID,
		Message:          req.Message,
		ChatID:           req.ChatID,
		DocumentID:       req.DocumentID,
		MaxContextChunks: req.MaxContextChunks,
		Temperature:      req.Temperature,
	})
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessions, err := h.chat.ListChats(r.Context(), userID, orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	detail, err := h.chat.GetChat(r.Context(), chi.URLParam(r, "id"), userID, orgID)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.chat.DeleteChat(r.Context(), chi.URLParam(r, "id"), userID, orgID); err != nil {
		h.writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, core.ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrTransient):
		h.log.Warn("chat backend unavailable", "error", err)
		http.Error(w, "upstream temporarily unavailable, retry shortly", http.StatusServiceUnavailable)
	default:
		h.log.Error("chat turn failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
