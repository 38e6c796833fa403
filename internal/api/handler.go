package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	app_errors "chatrelay/backend/internal/errors"
	"chatrelay/backend/internal/llm"
	"chatrelay/backend/internal/model"
	"chatrelay/backend/internal/sse"
)

// ChatRequest is the body of a streaming chat request.
type ChatRequest struct {
	Query   string              `json:"query" validate:"required"`
	History []model.HistoryItem `json:"history"`
}

// HealthResponse reports process liveness and provider readiness. Whether a
// missing credential is fatal is a deployment decision, not ours.
type HealthResponse struct {
	Status           string `json:"status"`
	GeminiConfigured bool   `json:"gemini_configured"`
}

// ChatHandler handles the streaming chat endpoint and the health probe.
type ChatHandler struct {
	provider llm.Provider
}

func NewChatHandler(provider llm.Provider) *ChatHandler {
	return &ChatHandler{provider: provider}
}

// HandleHealth godoc
// @Summary      Health and readiness probe
// @Description  Reports whether the server is up and the provider credential is configured.
// @Tags         System
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (h *ChatHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		GeminiConfigured: h.provider.Configured(),
	})
}

// HandleChat godoc
// @Summary      Stream a chat answer
// @Description  Streams the provider's answer as newline-delimited data records over a single held-open response.
// @Tags         Chat
// @Accept       json
// @Produce      text/event-stream
// @Param        request  body  ChatRequest  true  "Query and prior history"
// @Success      200  {string}  string  "stream of data: records"
// @Failure      400  {object}  ErrorResponse
// @Router       /chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request body", app_errors.ErrValidation))
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondWithError(w, fmt.Errorf("%w: query must not be blank", app_errors.ErrValidation))
		return
	}

	// From here on headers are committed; every failure must travel in-band
	// as an error chunk.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	deltas := make(chan llm.Delta)
	errc := make(chan error, 1)
	go func() {
		errc <- h.provider.GenerateStream(r.Context(), &llm.GenerateRequest{
			Query:   req.Query,
			History: req.History,
		}, deltas)
	}()

	clientGone := false
	for delta := range deltas {
		if clientGone {
			continue // drain so the provider goroutine can finish
		}
		if err := sse.WriteChunk(w, model.Chunk{Text: delta.Text, Done: false}); err != nil {
			slog.Warn("Client disconnected mid-stream", "error", err)
			clientGone = true
		}
	}

	err := <-errc
	if clientGone {
		return
	}
	if err != nil {
		slog.Error("Provider stream failed", "error", err)
		_ = sse.WriteChunk(w, model.Chunk{Done: true, Error: true, Message: err.Error()})
		return
	}
	// Exactly one terminal record per stream.
	_ = sse.WriteChunk(w, model.Chunk{Text: "", Done: true})
}
