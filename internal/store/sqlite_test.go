package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func logEvents(t *testing.T, s *SQLiteStore, sessionID string, n int) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		ev := &Event{
			ID:        fmt.Sprintf("%s-%d", sessionID, i),
			SessionID: sessionID,
			Action:    ActionIdentify,
			Role:      "visitor",
			ConnID:    "c1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.LogEvent(context.Background(), ev); err != nil {
			t.Fatalf("log event %d: %v", i, err)
		}
	}
}

func TestSQLite_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	detail := json.RawMessage(`{"url":"https://shop.test/"}`)
	ev := &Event{
		ID:        "ev-1",
		SessionID: "lead-rt",
		Action:    ActionGranted,
		Role:      "visitor",
		ConnID:    "conn-1",
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := s.LogEvent(context.Background(), ev); err != nil {
		t.Fatalf("log event: %v", err)
	}

	events, err := s.ListEvents(context.Background(), "lead-rt", 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.ID != "ev-1" || got.Action != ActionGranted || got.Role != "visitor" || got.ConnID != "conn-1" {
		t.Errorf("event fields: got %+v", got)
	}
	if string(got.Detail) != string(detail) {
		t.Errorf("detail: got %s, want %s", got.Detail, detail)
	}
}

func TestSQLite_ListOrderAndPaging(t *testing.T) {
	s := newTestStore(t)
	logEvents(t, s, "lead-page", 5)
	logEvents(t, s, "lead-other", 2)

	events, err := s.ListEvents(context.Background(), "lead-page", 3, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].ID != "lead-page-4" {
		t.Errorf("first event: got %q, want %q", events[0].ID, "lead-page-4")
	}
	for _, e := range events {
		if e.SessionID != "lead-page" {
			t.Errorf("event %q leaked from session %q", e.ID, e.SessionID)
		}
	}

	events, err = s.ListEvents(context.Background(), "lead-page", 3, 3)
	if err != nil {
		t.Fatalf("list events (offset): %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("offset page: got %d events, want 2", len(events))
	}
	if events[0].ID != "lead-page-1" {
		t.Errorf("offset first event: got %q, want %q", events[0].ID, "lead-page-1")
	}
}

func TestSQLite_EmptyDetailDefaults(t *testing.T) {
	s := newTestStore(t)
	ev := &Event{
		ID:        "ev-nodetail",
		SessionID: "lead-nd",
		Action:    ActionDisconnect,
		CreatedAt: time.Now(),
	}
	if err := s.LogEvent(context.Background(), ev); err != nil {
		t.Fatalf("log event: %v", err)
	}
	events, err := s.ListEvents(context.Background(), "lead-nd", 1, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if string(events[0].Detail) != "{}" {
		t.Errorf("detail: got %s, want {}", events[0].Detail)
	}
}

func TestSQLite_Ping(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestNoop(t *testing.T) {
	var s Store = Noop{}
	if err := s.LogEvent(context.Background(), &Event{ID: "x"}); err != nil {
		t.Errorf("noop LogEvent: %v", err)
	}
	events, err := s.ListEvents(context.Background(), "any", 10, 0)
	if err != nil || len(events) != 0 {
		t.Errorf("noop ListEvents: %v, %d events", err, len(events))
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("noop Ping: %v", err)
	}
}
