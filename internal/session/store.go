// Package session implements the in-memory session registry: the cached
// page state per session, the visitor ownership slot, the admin membership
// sets, and the consent flag. All read-modify-write operations against one
// session are serialized by a per-shard mutex keyed on the session id, so
// handlers for different sessions never contend on a global lock.
package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/covisit-io/covisit/internal/protocol"
)

// Conn is an addressable endpoint for one client connection. Send must be
// non-blocking from the relay's perspective; delivery is best-effort.
type Conn interface {
	ID() string
	Send(env protocol.Envelope)
}

// Outcome classifies the result of applying an inbound message. Every drop
// reason is silent at the protocol level; outcomes exist so callers can
// count and test them.
type Outcome string

const (
	Applied                Outcome = "applied"
	DroppedMalformed       Outcome = "malformed"
	DroppedUnidentified    Outcome = "unidentified"
	DroppedUnknownSession  Outcome = "unknown-session"
	DroppedSessionMismatch Outcome = "session-mismatch"
	DroppedConsent         Outcome = "consent-pending"
	DroppedForbiddenOrigin Outcome = "forbidden-origin"
)

// State holds the replay cache and consent flag for one session.
type State struct {
	LastURL           string
	LastScrollX       *float64
	LastScrollY       *float64
	PermissionGranted bool
	LastSeen          time.Time
}

// Snapshot is a copy of session state taken at admin join time, used to
// replay the visitor's current state to the joining connection.
type Snapshot struct {
	State
	VisitorOnline bool
}

// JoinInfo reports what an Identify changed.
type JoinInfo struct {
	CreatedSession  bool
	ReplacedVisitor bool // a different visitor connection was displaced
	Snapshot        Snapshot
	Visitor         Conn // registered visitor at join time, nil if offline
}

// LeaveInfo reports what a Disconnect changed.
type LeaveInfo struct {
	WasVisitor     bool // the connection was still the registered visitor
	RemovedSession bool // the session entry was pruned
}

type entry struct {
	visitor Conn
	admins  map[string]Conn
	state   State
}

const shardCount = 64

type shard struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// Store is the shared session registry.
type Store struct {
	resetPermissionOnReconnect bool
	shards                     [shardCount]shard
}

// Options configures the Store.
type Options struct {
	// ResetPermissionOnReconnect clears the consent flag when a new visitor
	// connection displaces the registered one. Off by default: consent
	// persists across visitor reconnects within a session's lifetime.
	ResetPermissionOnReconnect bool
}

// NewStore creates an empty session registry.
func NewStore(opts Options) *Store {
	s := &Store{resetPermissionOnReconnect: opts.ResetPermissionOnReconnect}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*entry)
	}
	return s
}

func (s *Store) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.shards[h.Sum32()%shardCount]
}

// Identify registers a connection against a session, creating the session
// lazily. A visitor registration is last-writer-wins; an admin is added to
// the session's admin set. The returned JoinInfo carries the state snapshot
// a joining admin needs for replay.
func (s *Store) Identify(c Conn, sessionID, role string) JoinInfo {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var info JoinInfo
	e, ok := sh.sessions[sessionID]
	if !ok {
		e = &entry{admins: make(map[string]Conn)}
		sh.sessions[sessionID] = e
		info.CreatedSession = true
	}

	switch role {
	case protocol.RoleVisitor:
		if e.visitor != nil && e.visitor.ID() != c.ID() {
			info.ReplacedVisitor = true
			if s.resetPermissionOnReconnect {
				e.state.PermissionGranted = false
			}
		}
		e.visitor = c
	case protocol.RoleAdmin:
		e.admins[c.ID()] = c
	}

	info.Snapshot = Snapshot{State: e.state, VisitorOnline: e.visitor != nil}
	info.Visitor = e.visitor
	return info
}

// Grant marks consent granted for a session. boundSessionID is the session
// the sender identified into; msgSessionID is the one named in the message.
// A mismatch is rejected so a connection cannot grant consent on a session
// it never joined. Granting is monotonic: repeat grants stay Applied.
func (s *Store) Grant(boundSessionID, msgSessionID string) Outcome {
	if msgSessionID != boundSessionID {
		return DroppedSessionMismatch
	}
	sh := s.shardFor(msgSessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[msgSessionID]
	if !ok {
		return DroppedUnknownSession
	}
	e.state.PermissionGranted = true
	return Applied
}

// RecordSync applies the consent gate and updates the replay cache for one
// inbound sync event. Validation of the payload shape (and the navigate
// origin allowlist) happens before this call; RecordSync owns the checks
// that need the session lock.
func (s *Store) RecordSync(sessionID, role string, ev protocol.SyncEvent, now time.Time) Outcome {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[sessionID]
	if !ok {
		return DroppedUnknownSession
	}

	// Pre-consent, a visitor may only emit navigate (lightweight signaling).
	if role == protocol.RoleVisitor && !e.state.PermissionGranted && ev.Type != protocol.EventNavigate {
		return DroppedConsent
	}

	switch ev.Type {
	case protocol.EventNavigate:
		e.state.LastURL = ev.URL
		e.state.LastSeen = now
	case protocol.EventScroll:
		e.state.LastScrollX = ev.X
		e.state.LastScrollY = ev.Y
		e.state.LastSeen = now
	}
	return Applied
}

// Peers returns every connection in the session's room except the one with
// the given id. The slice is a copy; delivery happens outside the lock.
func (s *Store) Peers(sessionID, exceptID string) []Conn {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[sessionID]
	if !ok {
		return nil
	}
	peers := make([]Conn, 0, len(e.admins)+1)
	if e.visitor != nil && e.visitor.ID() != exceptID {
		peers = append(peers, e.visitor)
	}
	for id, c := range e.admins {
		if id != exceptID {
			peers = append(peers, c)
		}
	}
	return peers
}

// Visitor returns the currently registered visitor connection for a session.
func (s *Store) Visitor(sessionID string) (Conn, bool) {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[sessionID]
	if !ok || e.visitor == nil {
		return nil, false
	}
	return e.visitor, true
}

// Disconnect removes a connection's memberships. The visitor slot is
// compare-and-delete: an earlier visitor connection's disconnect never
// evicts a newer registration. Safe to call repeatedly and for connections
// that never identified.
func (s *Store) Disconnect(c Conn, sessionID, role string) LeaveInfo {
	var info LeaveInfo
	if sessionID == "" {
		return info
	}
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.sessions[sessionID]
	if !ok {
		return info
	}

	switch role {
	case protocol.RoleVisitor:
		if e.visitor != nil && e.visitor.ID() == c.ID() {
			e.visitor = nil
			info.WasVisitor = true
		}
	case protocol.RoleAdmin:
		delete(e.admins, c.ID())
	}

	// Cached state is kept while anyone remains; an abandoned session is
	// dropped wholesale.
	if e.visitor == nil && len(e.admins) == 0 {
		delete(sh.sessions, sessionID)
		info.RemovedSession = true
	}
	return info
}

// SessionCount reports the number of live session entries.
func (s *Store) SessionCount() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
