// Package history is the REST client for the history store, the durable
// record of conversations and messages.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	app_errors "chatrelay/backend/internal/errors"
	"chatrelay/backend/internal/model"
)

// Client talks to the history store's document API. All failures are
// wrapped in app_errors.ErrPersistence (or ErrNotFound for 404s) so callers
// can treat them uniformly as best-effort persistence outcomes.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// ListConversations returns the user's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("_sort", "timestamp")
	q.Set("_order", "desc")

	var conversations []model.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("_sort", "timestamp")
	q.Set("_order", "asc")

	var messages []model.Message
	if err := c.doJSON(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateConversation persists a new conversation record and returns the
// stored copy.
func (c *Client) CreateConversation(ctx context.Context, conversation *model.Conversation) (*model.Conversation, error) {
	var stored model.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", conversation, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// SaveMessage persists a single message and returns the stored copy.
func (c *Client) SaveMessage(ctx context.Context, message model.Message) (*model.Message, error) {
	var stored model.Message
	if err := c.doJSON(ctx, http.MethodPost, "/messages", message, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateConversation merges a partial field set into a stored conversation.
func (c *Client) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (*model.Conversation, error) {
	var updated model.Conversation
	if err := c.doJSON(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteConversation removes a conversation and all its messages. Messages
// go first so a partial failure never leaves orphans pointing at a deleted
// conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	messages, err := c.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if err := c.doJSON(ctx, http.MethodDelete, "/messages/"+url.PathEscape(msg.ID), nil, nil); err != nil {
			return err
		}
	}
	return c.doJSON(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
}

// SaveMessagePair persists a completed turn: both messages are saved
// concurrently, then the conversation summary is refreshed with the
// assistant's final content and completion time.
func (c *Client) SaveMessagePair(ctx context.Context, userMessage, assistantMessage model.Message) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, msg := range []model.Message{userMessage, assistantMessage} {
		wg.Add(1)
		go func(i int, msg model.Message) {
			defer wg.Done()
			_, errs[i] = c.SaveMessage(ctx, msg)
		}(i, msg)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	_, err := c.UpdateConversation(ctx, assistantMessage.ConversationID, model.ConversationPatch{
		LastMessage: &assistantMessage.Content,
		Timestamp:   &assistantMessage.Timestamp,
	})
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: could not marshal %s %s body: %v", app_errors.ErrPersistence, method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: could not create %s %s request: %v", app_errors.ErrPersistence, method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", app_errors.ErrPersistence, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", app_errors.ErrNotFound, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s returned status %d: %s", app_errors.ErrPersistence, method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: could not decode %s %s response: %v", app_errors.ErrPersistence, method, path, err)
	}
	return nil
}
