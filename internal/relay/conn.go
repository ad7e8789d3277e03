package relay

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/covisit-io/covisit/internal/protocol"
	"github.com/covisit-io/covisit/internal/session"
)

// wsConn adapts a websocket connection to the session.Conn interface. The
// mutex serializes writes; it is shared with the keepalive ping goroutine.
type wsConn struct {
	id string
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) ID() string { return c.id }

// Send delivers one envelope, fire-and-forget. A failed write is left for
// the connection's read loop to notice and tear down.
func (c *wsConn) Send(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

// client is the per-connection context: the addressable endpoint plus the
// role/session binding set by identify. Fields are only touched by the
// connection's own read goroutine, so no lock is needed.
type client struct {
	conn      session.Conn
	sessionID string
	role      string
	dropped   bool
}

func (c *client) identified() bool { return c.sessionID != "" }
