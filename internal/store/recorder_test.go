package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/covisit-io/covisit/internal/config"
)

type captureStore struct {
	Noop
	logged chan *Event
}

func (c *captureStore) LogEvent(ctx context.Context, event *Event) error {
	c.logged <- event
	return nil
}

func TestRecorder_WritesQueuedEvents(t *testing.T) {
	cs := &captureStore{logged: make(chan *Event, 8)}
	r := NewRecorder(cs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	want := &Event{ID: "ev-1", SessionID: "lead-1", Action: ActionIdentify, CreatedAt: time.Now()}
	r.Record(want)

	select {
	case got := <-cs.logged:
		if got.ID != want.ID {
			t.Errorf("logged event: got %q, want %q", got.ID, want.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the store")
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	// No Start: the queue only drains when the writer runs, so filling it
	// past capacity must not block.
	r := NewRecorder(Noop{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			r.Record(&Event{ID: "ev", Action: ActionIdentify})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}

func TestFactory(t *testing.T) {
	s, err := New(config.StorageConfig{Driver: "none"})
	if err != nil {
		t.Fatalf("driver none: %v", err)
	}
	if _, ok := s.(Noop); !ok {
		t.Errorf("driver none: got %T, want Noop", s)
	}

	s, err = New(config.StorageConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("driver sqlite: %v", err)
	}
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("driver sqlite: got %T, want *SQLiteStore", s)
	}
	_ = s.Close()

	if _, err := New(config.StorageConfig{Driver: "cassandra"}); err == nil {
		t.Error("unknown driver must error")
	}
}
