package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/auth"
)

var (
	// ErrAdmissionDenied is returned when a push connection is refused before
	// the WebSocket handshake completes.
	ErrAdmissionDenied = errors.New("admission denied")
	// ErrShuttingDown is returned by Admit once Shutdown has started.
	ErrShuttingDown = errors.New("server shutting down")
)

// Admit verifies the connection's token and, on success, completes the
// WebSocket handshake and registers the connection under the room named in
// the URL. A refused request is answered with an empty 401 and never touches
// the registry. The caller must run Serve on the returned connection.
func (s *Server) Admit(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	room := RoomID(mux.Vars(r)["room"])
	if room == "" {
		s.metrics.admissions.WithLabelValues(admissionRejected).Inc()
		w.WriteHeader(http.StatusBadRequest)
		return nil, fmt.Errorf("%w: missing room", ErrAdmissionDenied)
	}

	if s.isClosing() {
		s.metrics.admissions.WithLabelValues(admissionRejected).Inc()
		w.WriteHeader(http.StatusServiceUnavailable)
		return nil, ErrShuttingDown
	}

	identity, err := s.verify(r.URL.Query().Get("token"))
	if err != nil {
		s.metrics.admissions.WithLabelValues(admissionRejected).Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return nil, fmt.Errorf("%w: %w", ErrAdmissionDenied, err)
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.admissions.WithLabelValues(admissionFailed).Inc()
		return nil, fmt.Errorf("upgrading connection: %w", err)
	}

	c := newConn(s, ws, room, identity, r.RemoteAddr)
	if !s.track(c) {
		s.metrics.admissions.WithLabelValues(admissionFailed).Inc()
		c.Close()
		return nil, ErrShuttingDown
	}
	s.metrics.admissions.WithLabelValues(admissionAccepted).Inc()
	c.log.Info().Msg("connection admitted")
	return c, nil
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// track registers c and counts it toward Shutdown's wait, unless Shutdown
// has already begun.
func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	if s.registry.Register(c.room, c) {
		s.metrics.connections.Inc()
	}
	return true
}

func (s *Server) verify(token string) (auth.Identity, error) {
	if s.verifier == nil {
		return auth.Identity{}, fmt.Errorf("%w: no verifier configured", auth.ErrInvalidCredential)
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		return auth.Identity{}, err
	}
	if identity.Name == "" {
		return auth.Identity{}, fmt.Errorf("%w: empty identity", auth.ErrInvalidCredential)
	}
	return identity, nil
}

// WebSocketHandler admits a push connection and runs its broadcast loop for
// the lifetime of the connection.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.Admit(w, r)
	if err != nil {
		log.Info().Err(err).Str("addr", r.RemoteAddr).Str("room", mux.Vars(r)["room"]).Msg("push connection refused")
		return
	}

	c.Serve()
}
