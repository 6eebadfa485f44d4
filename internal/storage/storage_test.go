package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := RunMigrations(db); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 applied migration, got %d", count)
	}
}

func TestUserRepository(t *testing.T) {
	db := setupTestDB(t)
	users := NewUserRepository(db)
	ctx := context.Background()

	u, err := users.Create(ctx, "alice", "pw", "user")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.ID == 0 || u.Password == "pw" {
		t.Errorf("Expected stored id and hashed password, got %+v", u)
	}

	if _, err := users.Create(ctx, "alice", "other", "user"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate username, got %v", err)
	}

	got, err := users.Authenticate(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.ID != u.ID || got.Role != "user" {
		t.Errorf("Authenticate returned %+v, want id %d role user", got, u.ID)
	}

	if _, err := users.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrBadPassword) {
		t.Errorf("Expected ErrBadPassword, got %v", err)
	}
	if _, err := users.Authenticate(ctx, "nobody", "pw"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := users.Create(ctx, "  ", "pw", "user"); err == nil {
		t.Error("Expected error for blank username")
	}
}

func TestRoomRepository(t *testing.T) {
	db := setupTestDB(t)
	rooms := NewRoomRepository(db)
	ctx := context.Background()

	desc := "general chat"
	r, err := rooms.Create(ctx, "lobby", &desc)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := rooms.Create(ctx, "lobby", nil); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate room, got %v", err)
	}

	got, err := rooms.GetByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "lobby" || got.Description == nil || *got.Description != desc {
		t.Errorf("GetByID returned %+v", got)
	}

	if _, err := rooms.GetByID(ctx, r.ID+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMessageRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	u, err := NewUserRepository(db).Create(ctx, "alice", "pw", "user")
	if err != nil {
		t.Fatalf("Create user failed: %v", err)
	}
	r, err := NewRoomRepository(db).Create(ctx, "lobby", nil)
	if err != nil {
		t.Fatalf("Create room failed: %v", err)
	}

	messages := NewMessageRepository(db)
	for _, content := range []string{"first", "second", "third"} {
		if _, err := messages.Create(ctx, r.ID, u.ID, content); err != nil {
			t.Fatalf("Create message failed: %v", err)
		}
	}

	list, err := messages.ListByRoom(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListByRoom failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(list))
	}
	if list[0].Content != "third" || list[2].Content != "first" {
		t.Errorf("Expected newest first, got %q..%q", list[0].Content, list[2].Content)
	}

	if _, err := messages.Create(ctx, r.ID+100, u.ID, "orphan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown room, got %v", err)
	}

	empty, err := messages.ListByRoom(ctx, r.ID+100)
	if err != nil {
		t.Fatalf("ListByRoom on unknown room failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no messages, got %d", len(empty))
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rooms (name, created_at) VALUES (?, CURRENT_TIMESTAMP)", "doomed",
		); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error to be returned, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM rooms WHERE name = ?", "doomed").Scan(&count); err != nil {
		t.Fatalf("Failed to count rooms: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected insert to be rolled back, found %d rows", count)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO rooms (name, created_at) VALUES (?, CURRENT_TIMESTAMP)", "kept",
		)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM rooms WHERE name = ?", "kept").Scan(&count); err != nil {
		t.Fatalf("Failed to count rooms: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected committed insert, found %d rows", count)
	}
}

func TestSaveMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := NewUserRepository(db).Create(ctx, "alice", "pw", "user"); err != nil {
		t.Fatalf("Create user failed: %v", err)
	}
	r, err := NewRoomRepository(db).Create(ctx, "lobby", nil)
	if err != nil {
		t.Fatalf("Create room failed: %v", err)
	}
	room := strconv.FormatInt(r.ID, 10)

	messages := NewMessageRepository(db)
	if err := messages.SaveMessage(ctx, room, "alice", "hi"); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	tests := []struct {
		name string
		room string
		user string
	}{
		{"non-numeric room", "lobby", "alice"},
		{"unknown room", "9999", "alice"},
		{"unknown user", room, "mallory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := messages.SaveMessage(ctx, tt.room, tt.user, "x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}

	list, err := messages.ListByRoom(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListByRoom failed: %v", err)
	}
	if len(list) != 1 || list[0].Content != "hi" {
		t.Errorf("Expected single persisted message, got %+v", list)
	}
}
