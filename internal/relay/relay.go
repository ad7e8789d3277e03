// Package relay manages WebSocket connections from visitors and admins and
// fans page-state events out to the other members of a session's room,
// subject to the consent gate. One goroutine reads each connection; all
// session mutation goes through the session store's per-session locks.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/covisit-io/covisit/internal/metrics"
	"github.com/covisit-io/covisit/internal/protocol"
	"github.com/covisit-io/covisit/internal/session"
	"github.com/covisit-io/covisit/internal/store"
)

// ErrVisitorOffline is returned by RequestAccess when the session has no
// registered visitor connection.
var ErrVisitorOffline = errors.New("visitor offline")

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Hub owns the relay: websocket handling, room fan-out, the permission
// gate, replay to joining admins, and presence.
type Hub struct {
	sessions *session.Store
	recorder *store.Recorder
	logger   *slog.Logger
	upgrader websocket.Upgrader

	maxMessageSize int64
	navOrigins     map[string]bool // empty = permit all navigate origins
}

// Options configures the Hub.
type Options struct {
	AllowedOrigins    []string // for the WebSocket origin check
	AllowedNavOrigins []string // navigate-event origin allowlist; empty permits all
	MaxMessageBytes   int64    // max WebSocket message size (default 64KB)
}

// New creates a new Hub. recorder may be nil to disable the activity log.
func New(sessions *session.Store, recorder *store.Recorder, logger *slog.Logger, opts Options) *Hub {
	maxMsg := opts.MaxMessageBytes
	if maxMsg == 0 {
		maxMsg = 64 * 1024 // 64KB default
	}
	navOrigins := make(map[string]bool, len(opts.AllowedNavOrigins))
	for _, o := range opts.AllowedNavOrigins {
		navOrigins[o] = true
	}

	return &Hub{
		sessions:       sessions,
		recorder:       recorder,
		logger:         logger.With("component", "relay"),
		upgrader:       makeUpgrader(opts.AllowedOrigins),
		maxMessageSize: maxMsg,
		navOrigins:     navOrigins,
	}
}

// HandleWS handles a WebSocket connection from a visitor or admin client.
func (h *Hub) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(h.maxMessageSize)

	wc := &wsConn{id: uuid.New().String(), ws: conn}
	c := &client{conn: wc}

	cancel := startWSKeepalive(conn, &wc.mu)
	defer cancel()

	h.logger.Debug("client connected", "conn_id", wc.id)
	defer h.drop(c)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("client read error", "conn_id", wc.id, "error", err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			h.logger.Debug("invalid message", "conn_id", wc.id, "error", err)
			continue
		}

		h.dispatch(c, env)
	}
}

func (h *Hub) dispatch(c *client, env protocol.Envelope) {
	var out session.Outcome
	switch env.Type {
	case protocol.TypeIdentify:
		out = h.handleIdentify(c, env.Payload)
	case protocol.TypePermissionGranted:
		out = h.handleGrant(c, env.Payload)
	case protocol.TypeSyncEvent:
		out = h.handleSync(c, env.Payload)
	default:
		h.logger.Debug("unknown message type", "type", env.Type, "conn_id", c.conn.ID())
		return
	}
	if out != session.Applied {
		metrics.EventsDropped.WithLabelValues(string(out)).Inc()
		h.logger.Debug("message dropped", "type", env.Type, "reason", string(out), "conn_id", c.conn.ID())
	}
}

// handleIdentify binds the connection to a session and role, registers it
// in the room, and replays cached state to a joining admin. The binding is
// immutable for the connection's lifetime.
func (h *Hub) handleIdentify(c *client, payload json.RawMessage) session.Outcome {
	if c.identified() {
		return session.DroppedMalformed // no re-identify
	}

	var msg protocol.Identify
	if err := json.Unmarshal(payload, &msg); err != nil {
		return session.DroppedMalformed
	}
	sessionID := string(msg.SessionID)
	if sessionID == "" || (msg.Role != protocol.RoleVisitor && msg.Role != protocol.RoleAdmin) {
		return session.DroppedMalformed
	}

	c.sessionID = sessionID
	c.role = msg.Role

	info := h.sessions.Identify(c.conn, sessionID, msg.Role)

	metrics.Connections.WithLabelValues(msg.Role).Inc()
	if info.CreatedSession {
		metrics.ActiveSessions.Inc()
	}
	h.record(store.ActionIdentify, sessionID, msg.Role, c.conn.ID(), nil)
	h.logger.Info("client identified", "conn_id", c.conn.ID(), "session_id", sessionID, "role", msg.Role)

	switch msg.Role {
	case protocol.RoleVisitor:
		// The new visitor already knows it is online.
		h.broadcast(sessionID, c.conn.ID(),
			protocol.Wrap(protocol.TypePresence, protocol.Presence{Visitor: protocol.VisitorOnline}))

	case protocol.RoleAdmin:
		h.replay(c.conn, info.Snapshot)
		// Ask the visitor for a fresh snapshot so the admin converges on
		// live state without waiting for the next natural event.
		if info.Visitor != nil {
			info.Visitor.Send(protocol.Wrap(protocol.TypeRequestState, struct{}{}))
		}
	}
	return session.Applied
}

// replay delivers the cached session state to one newly joined admin.
// Directed deliveries only, never broadcast.
func (h *Hub) replay(to session.Conn, snap session.Snapshot) {
	if snap.VisitorOnline {
		to.Send(protocol.Wrap(protocol.TypePresence, protocol.Presence{Visitor: protocol.VisitorOnline}))
	}
	if snap.PermissionGranted {
		to.Send(protocol.Wrap(protocol.TypePermissionStatus, protocol.PermissionStatus{Granted: true}))
	}
	if snap.LastURL != "" {
		to.Send(protocol.Wrap(protocol.TypeSyncEvent,
			protocol.SyncEvent{Type: protocol.EventNavigate, URL: snap.LastURL}))
	}
	if snap.LastScrollX != nil && snap.LastScrollY != nil {
		to.Send(protocol.Wrap(protocol.TypeSyncEvent,
			protocol.SyncEvent{Type: protocol.EventScroll, X: snap.LastScrollX, Y: snap.LastScrollY}))
	}
}

func (h *Hub) handleGrant(c *client, payload json.RawMessage) session.Outcome {
	if !c.identified() {
		return session.DroppedUnidentified
	}
	if c.role != protocol.RoleVisitor {
		return session.DroppedMalformed // only the visitor can consent
	}

	var msg protocol.PermissionGranted
	if err := json.Unmarshal(payload, &msg); err != nil || msg.SessionID == "" {
		return session.DroppedMalformed
	}

	out := h.sessions.Grant(c.sessionID, string(msg.SessionID))
	if out != session.Applied {
		return out
	}

	h.record(store.ActionGranted, c.sessionID, c.role, c.conn.ID(), nil)
	h.logger.Info("permission granted", "session_id", c.sessionID, "conn_id", c.conn.ID())
	h.broadcast(c.sessionID, c.conn.ID(),
		protocol.Wrap(protocol.TypePermissionStatus, protocol.PermissionStatus{Granted: true}))
	return session.Applied
}

func (h *Hub) handleSync(c *client, payload json.RawMessage) session.Outcome {
	if !c.identified() {
		return session.DroppedUnidentified
	}

	var ev protocol.SyncEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
		return session.DroppedMalformed
	}

	switch ev.Type {
	case protocol.EventNavigate:
		if ev.URL == "" {
			return session.DroppedMalformed
		}
		if len(h.navOrigins) > 0 {
			origin, err := originOf(ev.URL)
			if err != nil || !h.navOrigins[origin] {
				// Dropped without telling the sender, so a probing client
				// cannot enumerate the allowlist.
				return session.DroppedForbiddenOrigin
			}
		}
	case protocol.EventScroll:
		if ev.X == nil || ev.Y == nil {
			return session.DroppedMalformed
		}
	}

	out := h.sessions.RecordSync(c.sessionID, c.role, ev, time.Now())
	if out != session.Applied {
		return out
	}

	// Relay the original payload so fields the relay does not model pass
	// through untouched.
	h.broadcast(c.sessionID, c.conn.ID(), protocol.WrapRaw(protocol.TypeSyncEvent, payload))
	metrics.EventsRelayed.WithLabelValues(ev.Type).Inc()
	return session.Applied
}

// drop removes the connection's memberships and emits presence when the
// departing connection was the session's current visitor. Idempotent.
func (h *Hub) drop(c *client) {
	if c.dropped {
		return
	}
	c.dropped = true
	if !c.identified() {
		return
	}

	info := h.sessions.Disconnect(c.conn, c.sessionID, c.role)
	metrics.Connections.WithLabelValues(c.role).Dec()
	if info.RemovedSession {
		metrics.ActiveSessions.Dec()
	}
	h.record(store.ActionDisconnect, c.sessionID, c.role, c.conn.ID(), nil)
	h.logger.Info("client disconnected", "conn_id", c.conn.ID(), "session_id", c.sessionID, "role", c.role)

	if info.WasVisitor {
		h.broadcast(c.sessionID, c.conn.ID(),
			protocol.Wrap(protocol.TypePresence, protocol.Presence{Visitor: protocol.VisitorOffline}))
	}
}

// RequestAccess asks the session's visitor to show a consent prompt. It
// never mutates the granted flag; the visitor answers with its own
// permission-granted message.
func (h *Hub) RequestAccess(sessionID string) error {
	v, ok := h.sessions.Visitor(sessionID)
	if !ok {
		metrics.AccessRequests.WithLabelValues("visitor_offline").Inc()
		return ErrVisitorOffline
	}

	v.Send(protocol.Wrap(protocol.TypeRequestPermission, struct{}{}))
	metrics.AccessRequests.WithLabelValues("ok").Inc()
	h.record(store.ActionAccessRequested, sessionID, "", "", nil)
	h.logger.Info("access requested", "session_id", sessionID)
	return nil
}

// broadcast delivers an envelope to every room member except the sender.
func (h *Hub) broadcast(sessionID, exceptID string, env protocol.Envelope) {
	for _, p := range h.sessions.Peers(sessionID, exceptID) {
		p.Send(env)
	}
}

func (h *Hub) record(action, sessionID, role, connID string, detail json.RawMessage) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(&store.Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Action:    action,
		Role:      role,
		ConnID:    connID,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
}

// originOf extracts the scheme://host origin of a URL.
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
