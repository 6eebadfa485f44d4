package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadPassword is returned by Authenticate when the password does not match.
var ErrBadPassword = errors.New("password mismatch")

// UserRepository provides data access for user accounts.
type UserRepository struct {
	BaseRepository
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{BaseRepository: NewBaseRepository(db)}
}

// Create inserts a user with a bcrypt-hashed password. A taken username
// returns ErrConflict.
func (r *UserRepository) Create(ctx context.Context, username, password, role string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("missing username or password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	res, err := r.DB().ExecContext(ctx,
		"INSERT INTO users (username, password, role) VALUES (?, ?, ?)",
		username, string(hash), role,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %q: %w", username, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading user id: %w", err)
	}
	return &User{ID: id, Username: username, Password: string(hash), Role: role}, nil
}

// GetByUsername retrieves a user by name.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	err := r.DB().QueryRowContext(ctx,
		"SELECT id, username, password, role FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.Password, &u.Role)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// Authenticate checks username and password. An unknown user returns
// ErrNotFound; a wrong password ErrBadPassword.
func (r *UserRepository) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, ErrBadPassword
	}
	return u, nil
}
