// Package server manages admitted push connections, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/auth"
)

// Conn is one admitted push connection. It belongs to exactly one room for
// its lifetime and is owned by the loop started in Serve.
type Conn struct {
	id       ConnID
	identity auth.Identity
	room     RoomID
	addr     string

	ws      *websocket.Conn
	srv     *Server
	send    chan []byte
	done    chan struct{}
	limiter *frameLimiter
	log     zerolog.Logger

	closeOnce sync.Once
}

func newConn(srv *Server, ws *websocket.Conn, room RoomID, identity auth.Identity, addr string) *Conn {
	cfg := srv.cfg
	if ws != nil {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}

	id := ConnID(uuid.NewString())
	return &Conn{
		id:       id,
		identity: identity,
		room:     room,
		addr:     addr,
		ws:       ws,
		srv:      srv,
		send:     make(chan []byte, cfg.SendBufferSize),
		done:     make(chan struct{}),
		limiter:  newFrameLimiter(cfg.RateLimit),
		log: log.With().
			Str("conn_id", string(id)).
			Str("room", string(room)).
			Str("user", identity.Name).
			Str("addr", addr).
			Logger(),
	}
}

// ID returns the connection handle.
func (c *Conn) ID() ConnID { return c.id }

// Identity returns the identity established at admission.
func (c *Conn) Identity() auth.Identity { return c.identity }

// Room returns the room the connection was admitted to.
func (c *Conn) Room() RoomID { return c.room }

// enqueue hands payload to the write pump without blocking. It reports false
// when the connection is closed or its queue is full.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close terminates the transport. It is safe to call more than once and
// from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws == nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("close frame not delivered")
		}
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error closing connection")
		}
	})
}

// Serve runs the connection until the peer goes away. The write pump runs on
// its own goroutine; the read loop runs on the caller's. Call it once, on a
// connection returned by Admit.
func (c *Conn) Serve() {
	defer c.srv.wg.Done()
	go c.writePump()
	c.readPump()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Conn) setupReadConnection() {
	timeout := c.srv.cfg.PongTimeout
	if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		c.log.Debug().Err(err).Msg("error setting initial read deadline")
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(timeout))
	})
}

// handleReadError logs a terminating read error at a severity matching its cause.
func (c *Conn) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info().Int64("limit", c.srv.cfg.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.log.Info().Err(err).Msg("unexpected close")
	default:
		c.log.Debug().Err(err).Msg("read error")
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
// Discarded frames are counted; the first of a run is logged at warn.
func (c *Conn) checkRateLimit() bool {
	if c.limiter == nil {
		return true
	}

	ok, n := c.limiter.admit()
	if !ok {
		c.srv.metrics.discarded.Inc()
		if n == 1 {
			c.log.Warn().
				Int("burst", c.srv.cfg.RateLimit.Burst).
				Dur("interval", c.srv.cfg.RateLimit.RefillInterval).
				Msg("rate limit exceeded; discarding frames")
		}
		return false
	}
	if n > 0 {
		c.log.Info().Int("discarded", n).Msg("rate limit lifted")
	}
	return true
}

// rejectFrame closes the connection after a non-text frame.
func (c *Conn) rejectFrame(messageType int) {
	c.log.Info().Int("frame_type", messageType).Msg("unsupported frame; closing connection")
	msg := websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "text frames only")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (c *Conn) readPump() {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("recovered panic in connection loop")
		}
		c.srv.release(c)
	}()

	c.setupReadConnection()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if messageType != websocket.TextMessage {
			c.rejectFrame(messageType)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.srv.broadcast(c, string(data))
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Conn) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		return false
	}
}

// writeTextMessage writes one envelope as a single text frame.
func (c *Conn) writeTextMessage(message []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Conn) handlePing() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug().Err(err).Msg("error writing ping")
		return false
	}
	return true
}
