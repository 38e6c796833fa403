package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatrelay/backend/internal/model"
)

// Delta is one increment of text produced by the provider.
type Delta struct {
	Text string
}

// GenerateRequest asks the provider to continue a conversation. The query
// travels separately from history: the provider's own turn convention
// models the message being answered as a distinct argument, so History
// holds prior turns only.
type GenerateRequest struct {
	Query   string
	History []model.HistoryItem
}

// Provider defines the interface for interacting with a text-generation
// provider.
type Provider interface {
	// GenerateStream sends deltas on ch in production order and closes ch
	// before returning. A non-nil return value means the stream failed;
	// any deltas already sent remain valid.
	GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- Delta) error

	// Configured reports whether the provider credential is present.
	Configured() bool
}

type geminiProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewGeminiProvider builds a provider client for the Gemini REST API.
// baseURL is injectable so tests can point it at a local server.
func NewGeminiProvider(baseURL, apiKey, modelName string) Provider {
	return &geminiProvider{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
	}
}

func (p *geminiProvider) Configured() bool {
	return p.apiKey != ""
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []model.Part `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiStreamEvent struct {
	Candidates []struct {
		Content struct {
			Parts []model.Part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (p *geminiProvider) GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- Delta) error {
	defer close(ch)

	if !p.Configured() {
		return fmt.Errorf("provider credential is not configured")
	}

	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, item := range req.History {
		contents = append(contents, geminiContent{Role: item.Role, Parts: item.Parts})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []model.Part{{Text: req.Query}}})

	body, err := json.Marshal(geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: 2048,
			Temperature:     0.7,
		},
	})
	if err != nil {
		return fmt.Errorf("could not marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api returned non-200 status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event geminiStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			slog.Warn("Skipping undecodable provider event", "error", err)
			continue
		}
		if len(event.Candidates) == 0 {
			continue
		}

		for _, part := range event.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			select {
			case ch <- Delta{Text: part.Text}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("provider stream interrupted: %w", err)
	}

	slog.Debug("Provider stream complete", "model", p.model, "duration", time.Since(start))
	return nil
}
