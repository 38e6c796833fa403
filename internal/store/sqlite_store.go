package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chatrelay/backend/internal/model"
)

type sqliteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

func normalizeOrder(order string) string {
	if strings.EqualFold(order, "desc") {
		return "DESC"
	}
	return "ASC"
}

func (s *sqliteStore) CreateConversation(ctx context.Context, conversation *model.Conversation) error {
	query := "INSERT INTO conversations (id, user_id, title, last_message, timestamp) VALUES (?, ?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, query,
		conversation.ID, conversation.UserID, conversation.Title, conversation.LastMessage, conversation.Timestamp)
	if err != nil {
		return fmt.Errorf("could not insert conversation: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListConversations(ctx context.Context, userID, order string, limit int) ([]model.Conversation, error) {
	query := fmt.Sprintf(
		"SELECT id, user_id, title, last_message, timestamp FROM conversations WHERE user_id = ? ORDER BY timestamp %s",
		normalizeOrder(order))
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []model.Conversation{}
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.LastMessage, &conv.Timestamp); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s *sqliteStore) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (*model.Conversation, error) {
	sets := []string{}
	args := []interface{}{}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.LastMessage != nil {
		sets = append(sets, "last_message = ?")
		args = append(args, *patch.LastMessage)
	}
	if patch.Timestamp != nil {
		sets = append(sets, "timestamp = ?")
		args = append(args, *patch.Timestamp)
	}

	if len(sets) > 0 {
		query := "UPDATE conversations SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		args = append(args, id)
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("could not update conversation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, ErrNotFound
		}
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, last_message, timestamp FROM conversations WHERE id = ?", id)
	var conv model.Conversation
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.LastMessage, &conv.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (s *sqliteStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CreateMessage(ctx context.Context, message *model.Message) error {
	var latitude, longitude sql.NullFloat64
	if message.Location != nil {
		latitude = sql.NullFloat64{Float64: message.Location.Latitude, Valid: true}
		longitude = sql.NullFloat64{Float64: message.Location.Longitude, Valid: true}
	}

	query := "INSERT INTO messages (id, conversation_id, role, content, timestamp, latitude, longitude) VALUES (?, ?, ?, ?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, query,
		message.ID, message.ConversationID, message.Role, message.Content, message.Timestamp, latitude, longitude)
	if err != nil {
		return fmt.Errorf("could not insert message: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListMessages(ctx context.Context, conversationID, order string) ([]model.Message, error) {
	query := fmt.Sprintf(
		"SELECT id, conversation_id, role, content, timestamp, latitude, longitude FROM messages WHERE conversation_id = ? ORDER BY timestamp %s",
		normalizeOrder(order))

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var msg model.Message
		var latitude, longitude sql.NullFloat64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Timestamp, &latitude, &longitude); err != nil {
			return nil, err
		}
		if latitude.Valid && longitude.Valid {
			msg.Location = &model.Location{Latitude: latitude.Float64, Longitude: longitude.Float64}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *sqliteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
