package main

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var errSendBufferFull = errors.New("send buffer full")

func newConnection(id string, identity Identity, ws wire, sendBuffer int) *Connection {
	return &Connection{
		ID:       id,
		Identity: identity,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		pings:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Deliver enqueues a data frame for the write pump. It never blocks: a
// receiver that cannot keep up loses frames instead of stalling the
// sender's goroutine.
func (c *Connection) Deliver(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errSendBufferFull
	default:
		return errSendBufferFull
	}
}

// enqueuePing asks the write pump for a transport-level ping. At most
// one ping is pending at a time.
func (c *Connection) enqueuePing() error {
	select {
	case c.pings <- struct{}{}:
		return nil
	default:
		return nil
	}
}

// shutdown releases the connection's resources exactly once, no matter
// which path triggered it: explicit close, protocol error, or heartbeat
// death. Closing the transport also unblocks the read loop.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		if c.heartbeat != nil {
			c.heartbeat.stop()
		}
		close(c.done)
		c.ws.Close()
	})
}

// writePump is the single writer for the connection. Data frames and
// pings are serialized here so the transport never sees two concurrent
// writes.
func (c *Connection) writePump() {
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.pings:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// RelayServer owns the websocket side of the relay: handshake,
// admission, heartbeat supervision and the per-connection read loop.
type RelayServer struct {
	config   ServerConfig
	registry *Registry
	router   *MessageRouter
	verifier TokenVerifier
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewRelayServer creates a relay server, filling config zero values
// with the defaults.
func NewRelayServer(config ServerConfig, registry *Registry, router *MessageRouter, verifier TokenVerifier, log *slog.Logger) *RelayServer {
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 1024
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 1024
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = 10 << 20 // attachments arrive base64-encoded inline
	}
	if config.SendBufferSize == 0 {
		config.SendBufferSize = 256
	}
	if config.PingInterval == 0 {
		config.PingInterval = 5 * time.Second
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = 1 * time.Second
	}

	return &RelayServer{
		config:   config,
		registry: registry,
		router:   router,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

// HandleConnection upgrades the request and runs the handshake. A
// missing or invalid token closes only this connection; verification
// failures never propagate past the handler.
func (s *RelayServer) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	token := ""
	if cookie, err := r.Cookie("token"); err == nil {
		token = cookie.Value
	}
	if token == "" {
		s.reject(ws, "authentication required")
		return
	}

	identity, err := s.verifier.Verify(token)
	if err != nil {
		s.log.Warn("handshake rejected", "remote", r.RemoteAddr, "error", err)
		s.reject(ws, "authentication failed")
		return
	}

	conn := newConnection(uuid.NewString(), identity, ws, s.config.SendBufferSize)
	if err := s.registry.Add(conn); err != nil {
		s.log.Error("admission failed", "connId", conn.ID, "error", err)
		s.reject(ws, "admission failed")
		return
	}

	conn.heartbeat = startHeartbeat(s.config.PingInterval, s.config.PongTimeout,
		conn.enqueuePing,
		func() {
			s.log.Info("connection evicted by heartbeat",
				"connId", conn.ID, "userId", conn.Identity.UserID)
			s.drop(conn)
		})
	ws.SetPongHandler(func(string) error {
		conn.heartbeat.pong()
		return nil
	})

	s.log.Info("connection admitted",
		"connId", conn.ID, "userId", conn.Identity.UserID, "username", conn.Identity.Username)

	go conn.writePump()
	go s.readLoop(conn, ws)
}

func (s *RelayServer) readLoop(conn *Connection, ws *websocket.Conn) {
	defer s.drop(conn)

	ws.SetReadLimit(s.config.MaxMessageSize)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("read error", "connId", conn.ID, "error", err)
			}
			return
		}
		s.router.Route(conn, data)
	}
}

// drop tears a connection down and removes it from the registry. Both
// steps are idempotent, so the read loop and the heartbeat can race
// here without a double presence broadcast.
func (s *RelayServer) drop(conn *Connection) {
	conn.shutdown()
	s.registry.Remove(conn.ID)
	s.log.Info("connection closed", "connId", conn.ID, "userId", conn.Identity.UserID)
}

// Stop closes every live connection.
func (s *RelayServer) Stop() {
	for _, conn := range s.registry.Connections() {
		s.drop(conn)
	}
}

func (s *RelayServer) reject(ws *websocket.Conn, reason string) {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	ws.Close()
}
