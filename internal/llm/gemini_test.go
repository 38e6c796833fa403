package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/backend/internal/model"
)

// The provider client is tested against an httptest server standing in for
// the Gemini API, so no real network calls are made.
func TestGeminiProvider_GenerateStream(t *testing.T) {
	var capturedPath string
	var capturedBody geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hi\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" there\"}]}}]}\n\n")
	}))
	defer server.Close()

	provider := NewGeminiProvider(server.URL, "test-key", "gemini-2.5-flash")

	ch := make(chan Delta)
	errc := make(chan error, 1)
	go func() {
		errc <- provider.GenerateStream(context.Background(), &GenerateRequest{
			Query: "Hello",
			History: []model.HistoryItem{
				{Role: "user", Parts: []model.Part{{Text: "earlier question"}}},
				{Role: "model", Parts: []model.Part{{Text: "earlier answer"}}},
			},
		}, ch)
	}()

	var got []string
	for delta := range ch {
		got = append(got, delta.Text)
	}

	require.NoError(t, <-errc)
	assert.Equal(t, []string{"Hi", " there"}, got)
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:streamGenerateContent", capturedPath)

	// History precedes the query, and the query is the final user entry.
	require.Len(t, capturedBody.Contents, 3)
	assert.Equal(t, "user", capturedBody.Contents[0].Role)
	assert.Equal(t, "model", capturedBody.Contents[1].Role)
	assert.Equal(t, "Hello", capturedBody.Contents[2].Parts[0].Text)
}

func TestGeminiProvider_GenerateStreamSkipsBadEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {broken json\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"still fine\"}]}}]}\n\n")
	}))
	defer server.Close()

	provider := NewGeminiProvider(server.URL, "test-key", "gemini-2.5-flash")

	ch := make(chan Delta)
	errc := make(chan error, 1)
	go func() {
		errc <- provider.GenerateStream(context.Background(), &GenerateRequest{Query: "hi"}, ch)
	}()

	var got []string
	for delta := range ch {
		got = append(got, delta.Text)
	}

	require.NoError(t, <-errc)
	assert.Equal(t, []string{"still fine"}, got)
}

func TestGeminiProvider_GenerateStreamUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "quota exceeded"}}`)
	}))
	defer server.Close()

	provider := NewGeminiProvider(server.URL, "test-key", "gemini-2.5-flash")

	ch := make(chan Delta)
	errc := make(chan error, 1)
	go func() {
		errc <- provider.GenerateStream(context.Background(), &GenerateRequest{Query: "hi"}, ch)
	}()

	for range ch {
		t.Fatal("no deltas expected from a failed request")
	}

	err := <-errc
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGeminiProvider_Configured(t *testing.T) {
	assert.True(t, NewGeminiProvider("http://x", "key", "m").Configured())
	assert.False(t, NewGeminiProvider("http://x", "", "m").Configured())
}

func TestGeminiProvider_GenerateStreamWithoutCredential(t *testing.T) {
	provider := NewGeminiProvider("http://localhost:1", "", "m")

	ch := make(chan Delta)
	errc := make(chan error, 1)
	go func() {
		errc <- provider.GenerateStream(context.Background(), &GenerateRequest{Query: "hi"}, ch)
	}()
	for range ch {
	}

	assert.Error(t, <-errc)
}
