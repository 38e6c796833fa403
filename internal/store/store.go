package store

import (
	"context"
	"errors"

	"chatrelay/backend/internal/model"
)

// ErrNotFound is the storage-layer sentinel for a missing document. The
// API layer translates it into a 404 without knowing anything about SQL.
var ErrNotFound = errors.New("store: not found")

// Store defines the document operations the history API serves. The
// interface keeps the handlers testable against an in-memory fake.
type Store interface {
	CreateConversation(ctx context.Context, conversation *model.Conversation) error
	ListConversations(ctx context.Context, userID, order string, limit int) ([]model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, message *model.Message) error
	ListMessages(ctx context.Context, conversationID, order string) ([]model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}
