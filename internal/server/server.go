package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/auth"
)

// CredentialVerifier resolves a bearer token to an identity.
type CredentialVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// MessageSink persists chat messages. Calls are fire-and-forget from the
// broadcaster's point of view.
type MessageSink interface {
	SaveMessage(ctx context.Context, room, user, content string) error
}

// Relay forwards locally received messages to other instances.
type Relay interface {
	Publish(ctx context.Context, room, user, msg string) error
}

// Options carries the collaborators of a Server. Verifier is required.
type Options struct {
	Verifier CredentialVerifier
	Sink     MessageSink
	Relay    Relay
	Registry *Registry
	Metrics  *Metrics
}

const (
	backgroundQueueSize = 1024
	backgroundTimeout   = 5 * time.Second
)

// Server admits push connections and fans their messages out per room.
type Server struct {
	cfg      Config
	origins  *originPolicy
	upgrader websocket.Upgrader
	verifier CredentialVerifier
	registry *Registry
	metrics  *Metrics

	sink      MessageSink
	sinkQueue *taskQueue

	relay      Relay
	relayQueue *taskQueue

	// mu orders admissions against Shutdown so wg.Add never races wg.Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server. A nil cfg uses defaults.
func New(cfg *Config, opts Options) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	s := &Server{
		cfg:      cfg.Sanitized(),
		verifier: opts.Verifier,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		sink:     opts.Sink,
		relay:    opts.Relay,
	}
	s.origins = newOriginPolicy(s.cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}

	if s.sink != nil {
		s.sinkQueue = newTaskQueue("persist", backgroundQueueSize)
	}
	if s.relay != nil {
		s.relayQueue = newTaskQueue("relay", backgroundQueueSize)
	}
	return s
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry { return s.registry }

// Metrics returns the server's metric collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// broadcast handles one inbound frame from sender.
func (s *Server) broadcast(sender *Conn, text string) {
	s.metrics.received.Inc()

	env := Envelope{User: sender.identity.Name, Msg: text}
	delivered := s.fanOut(sender.room, env, sender.id)
	sender.log.Debug().Int("peers", delivered).Msg("broadcast")

	s.persist(sender.room, env)
	s.forward(sender.room, env)
}

// fanOut queues env to every member of room except the connection with id
// except. It returns the number of peers the envelope was queued for.
func (s *Server) fanOut(room RoomID, env Envelope, except ConnID) int {
	payload, err := env.encode()
	if err != nil {
		log.Error().Err(err).Str("room", string(room)).Msg("error encoding envelope")
		return 0
	}

	delivered := 0
	for _, peer := range s.registry.Snapshot(room) {
		if peer.id == except {
			continue
		}
		if peer.enqueue(payload) {
			delivered++
			s.metrics.deliveries.WithLabelValues(deliveryQueued).Inc()
			continue
		}
		s.metrics.deliveries.WithLabelValues(deliveryDropped).Inc()
		peer.log.Debug().Msg("peer closed or queue full; message dropped")
	}
	return delivered
}

// Publish delivers a server-originated message to every member of room and
// forwards it to other instances.
func (s *Server) Publish(room, user, msg string) int {
	env := Envelope{User: user, Msg: msg}
	n := s.fanOut(RoomID(room), env, "")
	s.forward(RoomID(room), env)
	return n
}

// PublishLocal delivers a message to every local member of room only. It is
// the entry point for messages arriving from other instances.
func (s *Server) PublishLocal(room, user, msg string) int {
	return s.fanOut(RoomID(room), Envelope{User: user, Msg: msg}, "")
}

func (s *Server) persist(room RoomID, env Envelope) {
	if s.sink == nil {
		return
	}
	ok := s.sinkQueue.submit(func(ctx context.Context) {
		if err := s.sink.SaveMessage(ctx, string(room), env.User, env.Msg); err != nil {
			log.Warn().Err(err).Str("room", string(room)).Str("user", env.User).Msg("message not persisted")
		}
	})
	if !ok {
		log.Warn().Str("room", string(room)).Msg("persist queue full; message not persisted")
	}
}

func (s *Server) forward(room RoomID, env Envelope) {
	if s.relay == nil {
		return
	}
	ok := s.relayQueue.submit(func(ctx context.Context) {
		if err := s.relay.Publish(ctx, string(room), env.User, env.Msg); err != nil {
			log.Warn().Err(err).Str("room", string(room)).Msg("relay publish failed")
		}
	})
	if !ok {
		log.Warn().Str("room", string(room)).Msg("relay queue full; message not forwarded")
	}
}

// release moves c to its terminal state: it leaves the registry and the
// transport is closed. Only the connection's own read loop calls it.
func (s *Server) release(c *Conn) {
	if s.registry.Unregister(c.room, c) {
		s.metrics.connections.Dec()
	} else {
		c.log.Debug().Msg("connection was not registered")
	}
	c.Close()
	c.log.Info().Msg("connection closed")
}

// Shutdown refuses further admissions, closes every tracked connection and
// waits for their loops and the background queues to finish, or until the
// timeout is reached.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	closed := s.registry.CloseAll()
	log.Info().Int("connections", closed).Msg("closing push connections")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		if s.sinkQueue != nil {
			s.sinkQueue.stop()
		}
		if s.relayQueue != nil {
			s.relayQueue.stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("push connections shut down")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("shutdown timeout reached, some connections may still be running")
		return context.DeadlineExceeded
	}
}
