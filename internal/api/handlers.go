package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/storage"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// TokenIssuer signs access tokens at login.
type TokenIssuer interface {
	TokenVerifier
	Issue(name, role string) (string, error)
}

// LivePublisher delivers a message to the push connections of a room.
type LivePublisher interface {
	Publish(room, user, msg string) int
}

// Handlers holds the REST endpoint dependencies.
type Handlers struct {
	db       *storage.DB
	users    *storage.UserRepository
	rooms    *storage.RoomRepository
	messages *storage.MessageRepository
	tokens   TokenIssuer
	live     LivePublisher
}

// NewHandlers creates the REST handlers. live may be nil.
func NewHandlers(db *storage.DB, tokens TokenIssuer, live LivePublisher) *Handlers {
	return &Handlers{
		db:       db,
		users:    storage.NewUserRepository(db),
		rooms:    storage.NewRoomRepository(db),
		messages: storage.NewMessageRepository(db),
		tokens:   tokens,
		live:     live,
	}
}

// MsgResponse is the body of simple acknowledgement responses.
type MsgResponse struct {
	Msg string `json:"msg"`
}

// TokenResponse is the body returned by a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Signup registers a user with a hashed password.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "username and password are required")
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}

	_, err := h.users.Create(r.Context(), req.Username, req.Password, req.Role)
	if errors.Is(err, storage.ErrConflict) {
		WriteError(w, http.StatusConflict, ErrConflict, "Username already registered")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("creating user")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "Failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, MsgResponse{Msg: "User created"})
}

// Login exchanges form credentials for a bearer token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid form body")
		return
	}

	user, err := h.users.Authenticate(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrBadPassword) {
		WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("authenticating user")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "Failed to authenticate")
		return
	}

	token, err := h.tokens.Issue(user.Username, user.Role)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("issuing token")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

// AdminOnly greets administrators.
func (h *Handlers) AdminOnly(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MsgResponse{Msg: "Welcome, Admin!"})
}

type createRoomRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// CreateRoom adds a room to the catalog.
func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "name is required")
		return
	}

	room, err := h.rooms.Create(r.Context(), req.Name, req.Description)
	if errors.Is(err, storage.ErrConflict) {
		WriteError(w, http.StatusConflict, ErrConflict, "Room already exists")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("creating room")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "Failed to create room")
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

type postMessageRequest struct {
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
}

// PostMessage persists a message from the authenticated user and delivers
// it to the room's live connections.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "Invalid JSON body")
		return
	}

	user, err := h.users.GetByUsername(r.Context(), id.Name)
	if errors.Is(err, storage.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "User not found")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("resolving sender")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "Failed to resolve user")
		return
	}

	msg, err := h.messages.Create(r.Context(), req.RoomID, user.ID, req.Content)
	if errors.Is(err, storage.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "Room not found")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("saving message")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "Failed to save message")
		return
	}

	if h.live != nil {
		n := h.live.Publish(strconv.FormatInt(req.RoomID, 10), user.Username, req.Content)
		zerolog.Ctx(r.Context()).Debug().Int("peers", n).Int64("room_id", req.RoomID).Msg("message published")
	}

	writeJSON(w, http.StatusCreated, msg)
}

// ListRoomMessages returns a room's messages, newest first.
func (h *Handlers) ListRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(mux.Vars(r)["room_id"], 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "room_id must be an integer")
		return
	}

	messages, err := h.messages.ListByRoom(r.Context(), roomID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("listing messages")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "Failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// Health reports whether the database is reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	dbConnected := h.db.PingContext(r.Context()) == nil

	status, code := "healthy", http.StatusOK
	if !dbConnected {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{Status: status, DBConnected: dbConnected})
}
