// Package session holds the in-memory {user -> open socket} map for the
// connections owned by this pod. It is process-local: cross-pod visibility
// is presence's job (internal/presence).
package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session represents one client's open WebSocket connection.
type Session struct {
	UserID   string
	Conn     *websocket.Conn
	OpenedAt time.Time

	// Send is the outbound frame queue drained by the connection's write
	// pump. Closing it signals the write pump to stop.
	Send chan []byte
}

// NewSession constructs a Session with a bounded send queue.
func NewSession(userID string, conn *websocket.Conn, queueSize int) *Session {
	return &Session{
		UserID:   userID,
		Conn:     conn,
		OpenedAt: time.Now(),
		Send:     make(chan []byte, queueSize),
	}
}

// Table is the concurrent local session registry described in spec §4.9:
// at most one session per user on this pod, registration under an existing
// key atomically replaces the entry.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable builds an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Register inserts s under s.UserID, returning any prior session that was
// replaced so the caller can close it (§3: the older session is closed and
// replaced on a second handshake for the same user).
func (t *Table) Register(s *Session) (evicted *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted = t.sessions[s.UserID]
	t.sessions[s.UserID] = s
	return evicted
}

// Remove deletes the session for userID, if present.
func (t *Table) Remove(userID string) (removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[userID]; !ok {
		return false
	}
	delete(t.sessions, userID)
	return true
}

// Get looks up the session currently registered for userID.
func (t *Table) Get(userID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[userID]
	return s, ok
}

// RemoveByConn does an O(n) reverse lookup for the session owning conn and
// removes it. Used only on disconnect, per spec §4.9, where the handler
// knows the socket but the read loop may not have the user ID handy (e.g.
// a transport error before the session could be re-derived).
func (t *Table) RemoveByConn(conn *websocket.Conn) (userID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for uid, s := range t.sessions {
		if s.Conn == conn {
			delete(t.sessions, uid)
			return uid, true
		}
	}
	return "", false
}

// Len reports the number of currently registered sessions, used by the
// connected-sessions gauge.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
