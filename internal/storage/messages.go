package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MessageRepository provides data access for chat messages.
type MessageRepository struct {
	BaseRepository
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{BaseRepository: NewBaseRepository(db)}
}

// Create inserts a message. An unknown room or user returns ErrNotFound.
func (r *MessageRepository) Create(ctx context.Context, roomID, userID int64, content string) (*Message, error) {
	return r.insert(ctx, r.DB(), roomID, userID, content)
}

func (r *MessageRepository) insert(ctx context.Context, ex execer, roomID, userID int64, content string) (*Message, error) {
	msg := &Message{Content: content, Timestamp: r.Now(), UserID: userID, RoomID: roomID}

	res, err := ex.ExecContext(ctx,
		"INSERT INTO messages (content, timestamp, user_id, room_id) VALUES (?, ?, ?, ?)",
		msg.Content, msg.Timestamp, msg.UserID, msg.RoomID,
	)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("room %d or user %d: %w", roomID, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if msg.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}
	return msg, nil
}

// ListByRoom returns the room's messages, newest first.
func (r *MessageRepository) ListByRoom(ctx context.Context, roomID int64) ([]Message, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, content, timestamp, user_id, room_id
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp DESC, id DESC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &m.UserID, &m.RoomID); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SaveMessage persists a message received on a push connection. The room
// identifier must be a numeric room ID and the user must exist. The user
// lookup and the insert run in one transaction so a user deleted in between
// cannot leave a dangling message.
func (r *MessageRepository) SaveMessage(ctx context.Context, room, username, content string) error {
	roomID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("room %q: %w", room, ErrNotFound)
	}

	return r.DB().Transaction(ctx, func(tx *sql.Tx) error {
		var userID int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("resolving user %q: %w", username, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolving user %q: %w", username, err)
		}

		_, err = r.insert(ctx, tx, roomID, userID, content)
		return err
	})
}
