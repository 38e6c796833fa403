package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles. Only user and assistant messages are ever persisted;
// error and typing are UI-local.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
	RoleTyping    = "typing"
)

// MaxTitleLength is the rune budget for a derived conversation title.
const MaxTitleLength = 50

// Location is an optional coordinate pair attached to user messages.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Conversation stores metadata about one chat thread. The ID is assigned
// client-side at creation time so messages can reference it before the
// history store round-trip completes.
type Conversation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"last_message"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConversationPatch is a partial field set merged into a stored conversation.
type ConversationPatch struct {
	Title       *string    `json:"title,omitempty"`
	LastMessage *string    `json:"last_message,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Message stores a single message in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Location       *Location `json:"location,omitempty"`
}

// Persistable reports whether the message may be written to the history
// store and included in provider history. Typing placeholders and error
// notices are transient and always excluded.
func (m Message) Persistable() bool {
	return m.Role == RoleUser || m.Role == RoleAssistant
}

// Chunk is a single event of the streaming wire protocol: a text delta
// plus completion and error flags. An error chunk is always terminal,
// regardless of the literal Done value.
type Chunk struct {
	Text    string `json:"text"`
	Done    bool   `json:"done"`
	Error   bool   `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the chunk ends the stream.
func (c Chunk) Terminal() bool {
	return c.Done || c.Error
}

// Part is one text fragment of a provider history entry.
type Part struct {
	Text string `json:"text"`
}

// HistoryItem is the provider-facing representation of one prior message.
// The provider's role vocabulary is user/model, not user/assistant.
type HistoryItem struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ToHistory converts the display message list into provider history,
// keeping only persistable messages in chronological order.
func ToHistory(messages []Message) []HistoryItem {
	var items []HistoryItem
	for _, msg := range messages {
		if !msg.Persistable() {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		items = append(items, HistoryItem{Role: role, Parts: []Part{{Text: msg.Content}}})
	}
	return items
}

// NewConversationID returns a fresh client-generated conversation id.
func NewConversationID() string {
	return "conv-" + uuid.NewString()
}

// NewMessageID returns a fresh client-generated message id.
func NewMessageID() string {
	return "msg-" + uuid.NewString()
}

// DeriveTitle builds a conversation title from the first user message,
// truncated to MaxTitleLength runes with an ellipsis marker. Titles are
// derived once and never change afterward.
func DeriveTitle(firstMessage string) string {
	cleaned := strings.TrimSpace(firstMessage)
	runes := []rune(cleaned)
	if len(runes) <= MaxTitleLength {
		return cleaned
	}
	return strings.TrimSpace(string(runes[:MaxTitleLength])) + "..."
}
