// Package storeapi serves the history store's REST document API: plain
// CRUD over conversations and messages with query conventions the chat
// client relies on (user_id / conversation_id filters, _sort, _order,
// _limit).
package storeapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	app_errors "chatrelay/backend/internal/errors"
	"chatrelay/backend/internal/model"
	"chatrelay/backend/internal/store"
)

var validate = validator.New()

type Handler struct {
	store store.Store
}

func NewHandler(s store.Store) *Handler {
	return &Handler{store: s}
}

// CreateConversationRequest mirrors model.Conversation with validation
// tags enforced at the API boundary.
type CreateConversationRequest struct {
	ID          string `json:"id" validate:"required"`
	UserID      string `json:"user_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	LastMessage string `json:"last_message"`
}

type CreateMessageRequest struct {
	ID             string `json:"id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required"`
	Role           string `json:"role" validate:"required,oneof=user assistant"`
	Content        string `json:"content"`
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondWithError(w, fmt.Errorf("%w: user_id query parameter is required", app_errors.ErrValidation))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("_limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(w, fmt.Errorf("%w: _limit must be a non-negative integer", app_errors.ErrValidation))
			return
		}
		limit = parsed
	}

	conversations, err := h.store.ListConversations(r.Context(), userID, r.URL.Query().Get("_order"), limit)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conversations)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var conversation model.Conversation
	if err := json.NewDecoder(r.Body).Decode(&conversation); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request body", app_errors.ErrValidation))
		return
	}
	if err := validate.Struct(CreateConversationRequest{
		ID:          conversation.ID,
		UserID:      conversation.UserID,
		Title:       conversation.Title,
		LastMessage: conversation.LastMessage,
	}); err != nil {
		respondWithError(w, fmt.Errorf("%w: %s", app_errors.ErrValidation, err.Error()))
		return
	}

	if err := h.store.CreateConversation(r.Context(), &conversation); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, conversation)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	var patch model.ConversationPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request body", app_errors.ErrValidation))
		return
	}

	updated, err := h.store.UpdateConversation(r.Context(), id, patch)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		respondWithError(w, fmt.Errorf("%w: conversation_id query parameter is required", app_errors.ErrValidation))
		return
	}

	messages, err := h.store.ListMessages(r.Context(), conversationID, r.URL.Query().Get("_order"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, messages)
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var message model.Message
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request body", app_errors.ErrValidation))
		return
	}
	// Transient roles (typing, error) never reach durable storage; the
	// oneof rule rejects them here as well.
	if err := validate.Struct(CreateMessageRequest{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Role:           message.Role,
		Content:        message.Content,
	}); err != nil {
		respondWithError(w, fmt.Errorf("%w: %s", app_errors.ErrValidation, err.Error()))
		return
	}

	if err := h.store.CreateMessage(r.Context(), &message); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, message)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteMessage(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondWithError(w http.ResponseWriter, err error) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, app_errors.ErrValidation):
		statusCode = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, store.ErrNotFound), errors.Is(err, app_errors.ErrNotFound):
		statusCode = http.StatusNotFound
		message = "The requested resource was not found."
	default:
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal server error occurred."
	}

	slog.Warn("Responding with error", "status_code", statusCode, "internal_error", err)
	respondWithJSON(w, statusCode, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}
