// Package server wires the push endpoints into a gorilla/mux router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes registers the push connection endpoint, registry status, metrics,
// and the test page on r.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/ws/{room}", s.WebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/test", TestPageHandler).Methods(http.MethodGet)
}

// SetupRoutes returns a router serving only the push endpoints.
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	s.Routes(r)
	return r
}
