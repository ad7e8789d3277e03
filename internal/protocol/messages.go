// Package protocol defines the wire messages exchanged between co-browsing
// clients (visitor and admin) and the relay over WebSocket.
//
// All messages are JSON-encoded and share a common envelope with a "type"
// field that determines the payload structure. Sync-event payloads are kept
// as raw JSON so event types the relay does not recognize pass through
// unmodified.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types, client → server.
const (
	TypeIdentify          = "identify"
	TypePermissionGranted = "permission-granted"
	TypeSyncEvent         = "sync-event" // also server → clients when relayed
)

// Message types, server → clients.
const (
	TypePresence          = "presence"
	TypePermissionStatus  = "permission-status"
	TypeRequestPermission = "request-permission"
	TypeRequestState      = "request-state"
)

// Sync-event payload types with relay-side semantics. Anything else is
// relayed opaque.
const (
	EventNavigate = "navigate"
	EventScroll   = "v-scroll"
)

// Connection roles.
const (
	RoleVisitor = "visitor"
	RoleAdmin   = "admin"
)

// Presence values.
const (
	VisitorOnline  = "online"
	VisitorOffline = "offline"
)

// Envelope is the top-level wire format for all messages.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wrap builds an envelope around a typed payload. Marshal errors are
// impossible for the payload types defined in this package, so they are
// swallowed and yield an empty payload.
func Wrap(msgType string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Type: msgType}
	}
	return Envelope{Type: msgType, Payload: data}
}

// WrapRaw builds an envelope around an already-encoded payload.
func WrapRaw(msgType string, payload json.RawMessage) Envelope {
	return Envelope{Type: msgType, Payload: payload}
}

// LeadID is a session identifier coerced to a string. CRM lead ids arrive
// as either JSON strings or numbers depending on the client.
type LeadID string

func (l *LeadID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = LeadID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*l = LeadID(n.String())
		return nil
	}
	return fmt.Errorf("invalid session id: %s", b)
}

// Identify binds a connection to a session and role.
type Identify struct {
	SessionID LeadID `json:"sessionId"`
	Role      string `json:"role"`
}

// PermissionGranted is sent by a visitor consenting to mirroring.
type PermissionGranted struct {
	SessionID LeadID `json:"sessionId"`
}

// SyncEvent is the decoded view of a sync-event payload. Only the fields
// the relay validates or caches are declared; the original raw payload is
// what gets fanned out.
type SyncEvent struct {
	Type string   `json:"type"`
	URL  string   `json:"url,omitempty"`
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
}

// Presence announces visitor availability to the room.
type Presence struct {
	Visitor string `json:"visitor"` // "online" or "offline"
}

// PermissionStatus announces the consent state to the room.
type PermissionStatus struct {
	Granted bool `json:"granted"`
}
