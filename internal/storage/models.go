package storage

import "time"

// User is a registered account. Password holds the bcrypt hash.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	Role     string `json:"role"`
}

// Room is a persisted chat room.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is a persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	RoomID    int64     `json:"room_id"`
}
