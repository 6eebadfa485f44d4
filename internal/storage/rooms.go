package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// RoomRepository provides data access for chat rooms.
type RoomRepository struct {
	BaseRepository
}

// NewRoomRepository creates a new room repository.
func NewRoomRepository(db *DB) *RoomRepository {
	return &RoomRepository{BaseRepository: NewBaseRepository(db)}
}

// Create inserts a room. A taken name returns ErrConflict.
func (r *RoomRepository) Create(ctx context.Context, name string, description *string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("missing room name")
	}

	room := &Room{Name: name, Description: description, CreatedAt: r.Now()}
	res, err := r.DB().ExecContext(ctx,
		"INSERT INTO rooms (name, description, created_at) VALUES (?, ?, ?)",
		room.Name, room.Description, room.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("room %q: %w", name, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting room: %w", err)
	}

	if room.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading room id: %w", err)
	}
	return room, nil
}

// GetByID retrieves a room by its ID.
func (r *RoomRepository) GetByID(ctx context.Context, id int64) (*Room, error) {
	room := &Room{}
	err := r.DB().QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM rooms WHERE id = ?",
		id,
	).Scan(&room.ID, &room.Name, &room.Description, &room.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	return room, nil
}
