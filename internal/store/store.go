// Package store defines the activity-log interface for the relay and
// provides SQLite and PostgreSQL implementations. The log is a best-effort
// audit trail of relay activity; session state itself is never persisted.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the activity-log persistence interface.
type Store interface {
	LogEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]Event, error)
	Ping(ctx context.Context) error
	Close() error
}

// Event is one recorded relay action.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Action    string          `json:"action"` // e.g. "session.identify"
	Role      string          `json:"role,omitempty"`
	ConnID    string          `json:"conn_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Actions recorded by the relay.
const (
	ActionIdentify        = "session.identify"
	ActionGranted         = "permission.granted"
	ActionAccessRequested = "access.requested"
	ActionDisconnect      = "session.disconnect"
)
