package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/backend/internal/api"
	"chatrelay/backend/internal/llm"
	"chatrelay/backend/internal/model"
	"chatrelay/backend/internal/sse"
)

// fakeProvider scripts the provider's behavior for handler tests.
type fakeProvider struct {
	deltas     []string
	err        error
	configured bool
	gotReq     *llm.GenerateRequest
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req *llm.GenerateRequest, ch chan<- llm.Delta) error {
	defer close(ch)
	f.gotReq = req
	for _, text := range f.deltas {
		select {
		case ch <- llm.Delta{Text: text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeProvider) Configured() bool { return f.configured }

func decodeBody(t *testing.T, body string) []model.Chunk {
	t.Helper()
	var dec sse.Decoder
	return dec.Decode([]byte(body))
}

func TestHandleChat_StreamsDeltasAndTerminalDone(t *testing.T) {
	provider := &fakeProvider{deltas: []string{"Hi", " there"}, configured: true}
	handler := api.NewChatHandler(provider)

	body := `{"query": "Hello", "history": [{"role":"user","parts":[{"text":"before"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handler.HandleChat(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rr.Header().Get("X-Accel-Buffering"))
	assert.True(t, rr.Flushed)

	chunks := decodeBody(t, rr.Body.String())
	assert.Equal(t, []model.Chunk{
		{Text: "Hi"},
		{Text: " there"},
		{Done: true},
	}, chunks)

	require.NotNil(t, provider.gotReq)
	assert.Equal(t, "Hello", provider.gotReq.Query)
	require.Len(t, provider.gotReq.History, 1)
	assert.Equal(t, "before", provider.gotReq.History[0].Parts[0].Text)
}

func TestHandleChat_EmptyQueryFailsBeforeStreaming(t *testing.T) {
	for name, body := range map[string]string{
		"MissingQuery":    `{"history": []}`,
		"BlankQuery":      `{"query": "   \n"}`,
		"NotEvenJSON":     `{{{`,
		"WrongFieldTypes": `{"query": 42}`,
	} {
		t.Run(name, func(t *testing.T) {
			provider := &fakeProvider{configured: true}
			handler := api.NewChatHandler(provider)

			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
			rr := httptest.NewRecorder()
			handler.HandleChat(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Nil(t, provider.gotReq, "provider must not be called for invalid input")
		})
	}
}

func TestHandleChat_ProviderFailureIsReportedInBand(t *testing.T) {
	provider := &fakeProvider{
		deltas:     []string{"partial"},
		err:        errors.New("quota exceeded"),
		configured: true,
	}
	handler := api.NewChatHandler(provider)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query": "Hello"}`))
	rr := httptest.NewRecorder()
	handler.HandleChat(rr, req)

	// Headers were already committed, so the status stays 200 and the
	// failure travels as the terminal chunk.
	assert.Equal(t, http.StatusOK, rr.Code)

	chunks := decodeBody(t, rr.Body.String())
	require.Len(t, chunks, 2)
	assert.Equal(t, model.Chunk{Text: "partial"}, chunks[0])
	assert.True(t, chunks[1].Error)
	assert.True(t, chunks[1].Done)
	assert.Contains(t, chunks[1].Message, "quota exceeded")
}

func TestHandleChat_ExactlyOneTerminalRecord(t *testing.T) {
	provider := &fakeProvider{deltas: []string{"a", "b", "c"}, configured: true}
	handler := api.NewChatHandler(provider)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query": "Hello"}`))
	rr := httptest.NewRecorder()
	handler.HandleChat(rr, req)

	terminal := 0
	for _, c := range decodeBody(t, rr.Body.String()) {
		if c.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestHandleHealth(t *testing.T) {
	t.Run("Configured", func(t *testing.T) {
		handler := api.NewChatHandler(&fakeProvider{configured: true})
		rr := httptest.NewRecorder()
		handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp api.HealthResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.True(t, resp.GeminiConfigured)
	})

	t.Run("MissingCredentialIsNotFatal", func(t *testing.T) {
		handler := api.NewChatHandler(&fakeProvider{configured: false})
		rr := httptest.NewRecorder()
		handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp api.HealthResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.GeminiConfigured)
	})
}
