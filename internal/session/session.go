// Package session owns the per-message turn lifecycle: it reconciles the
// in-flight message list the user is looking at with the eventually
// persisted record in the history store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	app_errors "chatrelay/backend/internal/errors"
	"chatrelay/backend/internal/model"
)

// typingIndicatorID is the fixed id of the transient typing placeholder.
// At most one exists in the message list at any time.
const typingIndicatorID = "typing-indicator"

// Store is the slice of the history store the orchestrator needs.
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	CreateConversation(ctx context.Context, conversation *model.Conversation) (*model.Conversation, error)
	SaveMessagePair(ctx context.Context, userMessage, assistantMessage model.Message) error
	DeleteConversation(ctx context.Context, id string) error
}

// ChunkStream is a single-pass sequence of chunks ending in exactly one
// terminal chunk, after which Recv returns an error (io.EOF).
type ChunkStream interface {
	Recv() (model.Chunk, error)
	Close()
}

// Streamer opens a chat stream for a query and its prior history.
type Streamer interface {
	Open(ctx context.Context, query string, history []model.HistoryItem) (ChunkStream, error)
}

// StreamerFunc adapts a function to the Streamer interface.
type StreamerFunc func(ctx context.Context, query string, history []model.HistoryItem) (ChunkStream, error)

func (f StreamerFunc) Open(ctx context.Context, query string, history []model.HistoryItem) (ChunkStream, error) {
	return f(ctx, query, history)
}

// Session holds one user's chat state: the conversation list, the active
// conversation's messages, and the in-flight turn guard. All mutation goes
// through the session's lock; the conversation and message slices handed to
// observers are copies, replaced wholesale on every change so a reader
// never sees a partial update.
type Session struct {
	userID   string
	store    Store
	streamer Streamer

	mu            sync.Mutex
	conversations []model.Conversation
	activeID      string // empty means a fresh, not-yet-created chat
	messages      []model.Message
	streaming     bool
	location      *model.Location
	onChange      func([]model.Message)
}

func New(userID string, store Store, streamer Streamer) *Session {
	return &Session{
		userID:   userID,
		store:    store,
		streamer: streamer,
	}
}

// OnChange registers a callback invoked with a snapshot of the message list
// after every visible mutation. The callback runs on the turn's control
// flow; it must not call back into the session.
func (s *Session) OnChange(fn func([]model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// SetLocation attaches a location to subsequently submitted user messages.
func (s *Session) SetLocation(loc *model.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = loc
}

// Load fetches the user's conversations at session start. On failure the
// message pane shows a local error notice and the error is returned.
func (s *Session) Load(ctx context.Context) error {
	conversations, err := s.store.ListConversations(ctx, s.userID)
	if err != nil {
		s.setMessages([]model.Message{localErrorMessage("", "Failed to load conversations. Please refresh the page.")})
		return fmt.Errorf("load conversations: %w", err)
	}
	s.mu.Lock()
	s.conversations = conversations
	s.mu.Unlock()
	return nil
}

// Conversations returns a snapshot of the conversation list.
func (s *Session) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Messages returns a snapshot of the active conversation's message list.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ActiveConversation returns the active conversation id, or empty for a
// fresh chat.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Streaming reports whether a turn is currently in flight.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// NewChat clears the active conversation; the next Submit creates a new one.
func (s *Session) NewChat() {
	s.mu.Lock()
	s.activeID = ""
	s.messages = nil
	s.mu.Unlock()
	s.notify()
}

// SelectConversation switches to an existing conversation and loads its
// persisted messages.
func (s *Session) SelectConversation(ctx context.Context, id string) error {
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		s.mu.Lock()
		s.activeID = id
		s.mu.Unlock()
		s.setMessages([]model.Message{localErrorMessage(id, "Failed to load messages. Please try again.")})
		return fmt.Errorf("load messages: %w", err)
	}
	s.mu.Lock()
	s.activeID = id
	s.messages = messages
	s.mu.Unlock()
	s.notify()
	return nil
}

// DeleteConversation removes a conversation from the store and the local
// list. Deleting the active conversation resets to a fresh chat.
func (s *Session) DeleteConversation(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	next := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.ID != id {
			next = append(next, conv)
		}
	}
	s.conversations = next
	wasActive := s.activeID == id
	if wasActive {
		s.activeID = ""
		s.messages = nil
	}
	s.mu.Unlock()
	if wasActive {
		s.notify()
	}
	return nil
}

// Submit runs one full turn: it validates the input, creates the
// conversation if this is a fresh chat, shows the user message and a typing
// placeholder, streams the assistant's answer into the message list, and
// finally persists the completed pair. The returned error reflects the
// turn's outcome; persistence failures after a completed answer are logged
// and do not fail the turn.
func (s *Session) Submit(ctx context.Context, content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("%w: message must not be empty", app_errors.ErrValidation)
	}

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return fmt.Errorf("%w: a turn is already in flight", app_errors.ErrConflict)
	}
	s.streaming = true
	// Provider history is snapshotted before the new user message is
	// appended: the provider sees prior turns only, and the query travels
	// as its own argument.
	history := model.ToHistory(s.messages)
	convID := s.activeID
	location := s.location
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
	}()

	isNew := convID == ""
	if isNew {
		conversation := model.Conversation{
			ID:          model.NewConversationID(),
			UserID:      s.userID,
			Title:       model.DeriveTitle(trimmed),
			LastMessage: trimmed,
			Timestamp:   time.Now().UTC(),
		}
		if _, err := s.store.CreateConversation(ctx, &conversation); err != nil {
			// Without a parent conversation the user message would be
			// orphaned, so the turn stops before anything is appended.
			s.appendMessage(localErrorMessage("", "Failed to create conversation. Please try again."))
			return fmt.Errorf("create conversation: %w", err)
		}
		convID = conversation.ID

		s.mu.Lock()
		next := make([]model.Conversation, 0, len(s.conversations)+1)
		next = append(next, conversation)
		next = append(next, s.conversations...)
		s.conversations = next
		s.activeID = convID
		s.mu.Unlock()
	}

	userMessage := model.Message{
		ID:             model.NewMessageID(),
		ConversationID: convID,
		Role:           model.RoleUser,
		Content:        trimmed,
		Timestamp:      time.Now().UTC(),
		Location:       location,
	}
	s.appendMessage(userMessage)
	s.appendMessage(model.Message{
		ID:             typingIndicatorID,
		ConversationID: convID,
		Role:           model.RoleTyping,
		Timestamp:      time.Now().UTC(),
	})

	chunkStream, err := s.streamer.Open(ctx, trimmed, history)
	if err != nil {
		s.removeMessage(typingIndicatorID)
		s.appendMessage(localErrorMessage(convID, "Failed to send message. Please try again."))
		return fmt.Errorf("open stream: %w", err)
	}
	defer chunkStream.Close()

	assistantID := model.NewMessageID()
	var answer strings.Builder
	inserted := false

	for {
		chunk, recvErr := chunkStream.Recv()
		if recvErr != nil {
			break
		}

		if chunk.Error {
			if answer.Len() == 0 {
				// Nothing arrived before the failure: swap the transient
				// state for a visible error notice.
				s.removeMessage(typingIndicatorID)
				if inserted {
					s.removeMessage(assistantID)
				}
				s.appendMessage(localErrorMessage(convID, "Failed to send message. Please try again."))
			} else {
				// The partial answer stays visible; it is never persisted.
				slog.Warn("Stream failed mid-answer, keeping partial content",
					"conversation_id", convID, "cause", chunk.Message)
			}
			return fmt.Errorf("%w: %s", app_errors.ErrProvider, chunk.Message)
		}

		if !inserted {
			s.replaceMessage(typingIndicatorID, model.Message{
				ID:             assistantID,
				ConversationID: convID,
				Role:           model.RoleAssistant,
				Timestamp:      time.Now().UTC(),
			})
			inserted = true
		}
		if chunk.Text != "" {
			answer.WriteString(chunk.Text)
			s.setMessageContent(assistantID, answer.String())
		}
		if chunk.Done {
			break
		}
	}

	assistantMessage := model.Message{
		ID:             assistantID,
		ConversationID: convID,
		Role:           model.RoleAssistant,
		Content:        answer.String(),
		Timestamp:      time.Now().UTC(),
	}
	s.refreshConversationSummary(convID, assistantMessage)

	// Persistence is best-effort: the answer is already on screen and a
	// store failure must not take it back.
	if err := s.store.SaveMessagePair(ctx, userMessage, assistantMessage); err != nil {
		slog.Warn("Failed to persist completed turn", "conversation_id", convID, "error", err)
	}
	return nil
}

func (s *Session) refreshConversationSummary(convID string, assistantMessage model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]model.Conversation, len(s.conversations))
	copy(next, s.conversations)
	for i := range next {
		if next[i].ID == convID {
			next[i].LastMessage = assistantMessage.Content
			next[i].Timestamp = assistantMessage.Timestamp
		}
	}
	s.conversations = next
}

func localErrorMessage(convID, text string) model.Message {
	return model.Message{
		ID:             model.NewMessageID(),
		ConversationID: convID,
		Role:           model.RoleError,
		Content:        text,
		Timestamp:      time.Now().UTC(),
	}
}

func (s *Session) snapshotLocked() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) setMessages(messages []model.Message) {
	s.mu.Lock()
	s.messages = messages
	s.mu.Unlock()
	s.notify()
}

func (s *Session) appendMessage(msg model.Message) {
	s.mu.Lock()
	next := make([]model.Message, 0, len(s.messages)+1)
	next = append(next, s.messages...)
	next = append(next, msg)
	s.messages = next
	s.mu.Unlock()
	s.notify()
}

func (s *Session) removeMessage(id string) {
	s.mu.Lock()
	next := make([]model.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.ID != id {
			next = append(next, msg)
		}
	}
	s.messages = next
	s.mu.Unlock()
	s.notify()
}

func (s *Session) replaceMessage(id string, replacement model.Message) {
	s.mu.Lock()
	next := make([]model.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.ID == id {
			next = append(next, replacement)
		} else {
			next = append(next, msg)
		}
	}
	s.messages = next
	s.mu.Unlock()
	s.notify()
}

// setMessageContent replaces (never appends to) the stored content string;
// the caller owns the accumulated answer and hands in the full value.
func (s *Session) setMessageContent(id, content string) {
	s.mu.Lock()
	next := make([]model.Message, len(s.messages))
	copy(next, s.messages)
	for i := range next {
		if next[i].ID == id {
			next[i].Content = content
		}
	}
	s.messages = next
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}
