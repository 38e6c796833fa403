package session_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/backend/internal/api"
	"chatrelay/backend/internal/llm"
	"chatrelay/backend/internal/model"
	"chatrelay/backend/internal/session"
	"chatrelay/backend/internal/stream"
)

// memoryStore is an in-memory session.Store for wiring the full turn
// path without a running history process.
type memoryStore struct {
	mu            sync.Mutex
	conversations []model.Conversation
	messages      map[string][]model.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{messages: make(map[string][]model.Message)}
}

func (m *memoryStore) ListConversations(_ context.Context, _ string) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Conversation(nil), m.conversations...), nil
}

func (m *memoryStore) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Message(nil), m.messages[conversationID]...), nil
}

func (m *memoryStore) CreateConversation(_ context.Context, c *model.Conversation) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = append(m.conversations, *c)
	return c, nil
}

func (m *memoryStore) SaveMessagePair(_ context.Context, userMessage, assistantMessage model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := userMessage.ConversationID
	m.messages[id] = append(m.messages[id], userMessage, assistantMessage)
	return nil
}

func (m *memoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

type e2eProvider struct {
	deltas []string
	mu     sync.Mutex
	got    *llm.GenerateRequest
}

func (p *e2eProvider) GenerateStream(ctx context.Context, req *llm.GenerateRequest, ch chan<- llm.Delta) error {
	defer close(ch)
	p.mu.Lock()
	p.got = req
	p.mu.Unlock()
	for _, d := range p.deltas {
		select {
		case ch <- llm.Delta{Text: d}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *e2eProvider) Configured() bool { return true }

// TestFullTurnOverHTTP runs a complete turn through the real HTTP
// server, SSE decoding, and session orchestration: the displayed answer
// must equal the provider's deltas concatenated, and both sides of the
// turn must reach the store.
func TestFullTurnOverHTTP(t *testing.T) {
	provider := &e2eProvider{deltas: []string{"The answer ", "is ", "42."}}
	srv := httptest.NewServer(api.NewRouter(api.NewChatHandler(provider)))
	defer srv.Close()

	store := newMemoryStore()
	client := stream.NewClient(srv.URL)
	sess := session.New("user-1", store, session.StreamerFunc(
		func(ctx context.Context, query string, history []model.HistoryItem) (session.ChunkStream, error) {
			return client.Open(ctx, query, history)
		},
	))

	require.NoError(t, sess.Submit(context.Background(), "What is the answer?"))

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is the answer?", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "The answer is 42.", msgs[1].Content)

	convID := sess.ActiveConversation()
	require.NotEmpty(t, convID)
	stored := store.messages[convID]
	require.Len(t, stored, 2)
	assert.Equal(t, "The answer is 42.", stored[1].Content)
}

// TestSecondTurnCarriesHistoryOverHTTP checks that the second turn's
// provider request includes the first exchange as prior history but not
// the just-submitted query.
func TestSecondTurnCarriesHistoryOverHTTP(t *testing.T) {
	provider := &e2eProvider{deltas: []string{"Hello again."}}
	srv := httptest.NewServer(api.NewRouter(api.NewChatHandler(provider)))
	defer srv.Close()

	store := newMemoryStore()
	client := stream.NewClient(srv.URL)
	sess := session.New("user-1", store, session.StreamerFunc(
		func(ctx context.Context, query string, history []model.HistoryItem) (session.ChunkStream, error) {
			return client.Open(ctx, query, history)
		},
	))

	require.NoError(t, sess.Submit(context.Background(), "First question"))
	require.NoError(t, sess.Submit(context.Background(), "Second question"))

	provider.mu.Lock()
	got := provider.got
	provider.mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "Second question", got.Query)
	require.Len(t, got.History, 2)
	assert.Equal(t, "user", got.History[0].Role)
	assert.Equal(t, "First question", got.History[0].Parts[0].Text)
	assert.Equal(t, "model", got.History[1].Role)
}
