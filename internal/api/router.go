// Package api provides the REST endpoints of the chat service and the
// top-level router that also mounts the push endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// RouteRegistrar mounts additional routes on the shared router.
type RouteRegistrar interface {
	Routes(r *mux.Router)
}

// NewRouter builds the HTTP handler with every REST route, the routes
// contributed by live, and CORS for allowedOrigins. live may be nil.
func NewRouter(h *Handlers, live RouteRegistrar, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.Use(Logging)
	r.Use(Recovery)

	authed := RequireAuth(h.tokens)
	adminOnly := RequireRole("admin", "Admins only")

	// Accounts
	r.HandleFunc("/signup", h.Signup).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.Handle("/admin-only", authed(adminOnly(http.HandlerFunc(h.AdminOnly)))).Methods(http.MethodGet)

	// Rooms and messages
	r.HandleFunc("/rooms/", h.CreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{room_id}/messages/", h.ListRoomMessages).Methods(http.MethodGet)
	r.Handle("/messages/", authed(http.HandlerFunc(h.PostMessage))).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	if live != nil {
		live.Routes(r)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
