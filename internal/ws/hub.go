// Package ws implements the WebSocket connection lifecycle (C9) and inbound
// frame dispatcher (C10), grounded on original_source's
// utility.CustomWebSocketHandler adapted to gorilla/websocket's read/write
// pump idiom (one goroutine per direction per connection, communicating over
// a bounded channel, as in the pack's other_examples/Turid1o1-valden__main.go
// chat gateway).
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/odin/gateway/internal/auth"
	"github.com/odin/gateway/internal/delivery"
	"github.com/odin/gateway/internal/presence"
	"github.com/odin/gateway/internal/session"
	"github.com/odin/gateway/internal/signaling"
)

// pongWait/pingPeriod follow the canonical gorilla/websocket keepalive ratio
// (pong wait a few times the ping period) rather than reusing WriteWait,
// which bounds a single write call, not the whole idle window.
const pongWaitMultiplier = 3

// Hub wires the per-pod collaborators a connection's lifecycle needs: the
// local session table (C2), presence directory (C1), the delivery router
// (C8, doubling as the signaling Sink), the call-signaling engine (C7), and
// token verification.
type Hub struct {
	sessions *session.Table
	presence *presence.Directory
	router   *delivery.Router
	engine   *signaling.Engine
	verifier *auth.Verifier

	podName       string
	maxFrameBytes int64
	pingInterval  time.Duration
	writeWait     time.Duration
	sendQueueSize int
}

// NewHub builds a Hub. cfg fields are passed individually rather than as a
// config.Config to keep this package independent of internal/config. The
// router and signaling engine are wired in afterward via SetRouter/SetEngine
// since the router takes the Hub as its LocalSender and the engine takes the
// router as its Sink — main.go
// builds the Hub first, then the router and engine around it.
func NewHub(sessions *session.Table, pres *presence.Directory, verifier *auth.Verifier, podName string,
	maxFrameBytes int64, pingInterval, writeWait time.Duration, sendQueueSize int) *Hub {
	return &Hub{
		sessions: sessions, presence: pres, verifier: verifier,
		podName: podName, maxFrameBytes: maxFrameBytes, pingInterval: pingInterval,
		writeWait: writeWait, sendQueueSize: sendQueueSize,
	}
}

// SetRouter wires the delivery router (C8) in after both it and the Hub
// have been constructed, breaking the Hub<->Router constructor cycle.
func (h *Hub) SetRouter(router *delivery.Router) { h.router = router }

// SetEngine wires the call-signaling engine (C7) in for the same reason.
func (h *Hub) SetEngine(engine *signaling.Engine) { h.engine = engine }

// SendLocal implements delivery.LocalSender against this pod's session
// table: it writes payload to the user's send queue if present, without
// blocking on a slow reader beyond the queue's capacity.
func (h *Hub) SendLocal(userID string, payload []byte) bool {
	s, ok := h.sessions.Get(userID)
	if !ok {
		return false
	}
	select {
	case s.Send <- payload:
		return true
	default:
		log.Warn().Str("userId", userID).Msg("ws: send queue full, dropping frame")
		return false
	}
}

var upgrader = websocket.Upgrader{
	// Origin policy is left to the fronting proxy/CORS layer per spec.md
	// §6's transport being separate from the REST group's CORS handling.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// UpgradeHandler implements C9's handshake: verify the token query
// parameter, upgrade the connection, register session (C2) and presence
// (C1), then start the read/write pumps. Verification failure upgrades
// anyway (the token can only be validated after upgrading, since gorilla
// exposes no way to reject a plain HTTP request as a WebSocket close
// status) and then closes immediately with 1007, the closest gorilla
// equivalent to Spring's BAD_DATA (spec.md §6, DESIGN.md's BAD_DATA close
// code entry).
func UpgradeHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws: upgrade failed")
			return
		}

		userID, err := hub.verifier.Verify(token)
		if err != nil {
			log.Warn().Err(err).Msg("ws: handshake token invalid, closing")
			closeWithStatus(conn, websocket.CloseInvalidFramePayloadData, "bad token")
			return
		}

		hub.attach(userID, conn)
	}
}

func closeWithStatus(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	_ = conn.Close()
}

// attach registers the connection and starts its pumps. readPump owns the
// connection's lifetime: it runs until the socket is unreadable, then
// detach cleans up C1/C2. writePump exits independently on its own write
// error, closing the connection so readPump unblocks too.
func (h *Hub) attach(userID string, conn *websocket.Conn) {
	ctx := context.Background()
	s := session.NewSession(userID, conn, h.sendQueueSize)

	if evicted := h.sessions.Register(s); evicted != nil {
		log.Info().Str("userId", userID).Msg("ws: replacing existing session on this pod")
		closeWithStatus(evicted.Conn, websocket.CloseNormalClosure, "replaced by new connection")
	}
	h.observeSessionCount()
	if err := h.presence.Register(ctx, userID, h.podName); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("ws: presence register failed")
	}
	log.Info().Str("userId", userID).Str("pod", h.podName).Msg("ws: client connected")

	conn.SetReadLimit(h.maxFrameBytes)
	pongWait := h.pingInterval * pongWaitMultiplier
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.writePump(s)
	h.readPump(s)
}

// readPump owns conn.ReadMessage and runs on the calling goroutine so that
// every inbound frame for this socket is handled without yielding to other
// clients (spec.md §5's per-socket worker model). It returns once the
// connection is no longer readable, and always triggers cleanup.
func (h *Hub) readPump(s *session.Session) {
	defer h.detach(s)

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("userId", s.UserID).Msg("ws: read error")
			}
			return
		}

		if isPing(raw) {
			select {
			case s.Send <- []byte(`{"type":"pong"}`):
			default:
			}
			continue
		}

		if err := h.Dispatch(context.Background(), s.UserID, raw); err != nil {
			log.Warn().Err(err).Str("userId", s.UserID).Msg("ws: dispatch failed")
		}
	}
}

// writePump drains s.Send and applies the write deadline to every frame; it
// stops on the first failed write (or if s.Send is closed). detach does not
// close s.Send: it closes the connection, which makes any in-flight write
// fail immediately per spec.md §5's disconnect-cancellation rule.
func (h *Hub) writePump(s *session.Session) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.Send:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// detach removes the session and presence entries on close, transport
// error, or policy violation, and never performs inbound message work
// itself (spec.md §4.1).
//
// It removes by connection identity, not by user ID: by the time a stale
// connection's readPump notices its socket is dead, Register may have
// already replaced this user's table entry with a newer session from a
// reconnect (hub.go's attach evicts and closes the old connection, whose
// readPump then races in here). Removing by user ID would delete the new
// session and unregister presence for a user who is still connected, so
// this only touches presence/observability when the removed entry actually
// belonged to s.
func (h *Hub) detach(s *session.Session) {
	if _, removed := h.sessions.RemoveByConn(s.Conn); !removed {
		return
	}
	h.observeSessionCount()
	if err := h.presence.Unregister(context.Background(), s.UserID); err != nil {
		log.Error().Err(err).Str("userId", s.UserID).Msg("ws: presence unregister failed")
	}
	_ = s.Conn.Close()
	log.Info().Str("userId", s.UserID).Msg("ws: client disconnected")
}

func isPing(raw []byte) bool {
	// Matches original_source's substring check rather than a full parse,
	// so a malformed-but-ping-shaped frame is still short-circuited before
	// reaching the dispatcher.
	const marker = `"type":"ping"`
	return containsMarker(raw, marker)
}

func containsMarker(raw []byte, marker string) bool {
	if len(marker) > len(raw) {
		return false
	}
	for i := 0; i+len(marker) <= len(raw); i++ {
		if string(raw[i:i+len(marker)]) == marker {
			return true
		}
	}
	return false
}
