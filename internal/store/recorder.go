package store

import (
	"context"
	"log/slog"
)

// Recorder decouples the relay's message handlers from the database: events
// are queued on a buffered channel and written by a single background
// goroutine. When the queue is full the event is dropped; the log is
// best-effort and must never block the relay path.
type Recorder struct {
	store  Store
	logger *slog.Logger
	queue  chan *Event
}

// NewRecorder creates a Recorder in front of the given store.
func NewRecorder(s Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  s,
		logger: logger.With("component", "recorder"),
		queue:  make(chan *Event, 256),
	}
}

// Start runs the writer goroutine until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-r.queue:
				if err := r.store.LogEvent(ctx, ev); err != nil && ctx.Err() == nil {
					r.logger.Warn("failed to log activity event", "action", ev.Action, "error", err)
				}
			}
		}
	}()
}

// Record queues an event for writing. Never blocks.
func (r *Recorder) Record(ev *Event) {
	select {
	case r.queue <- ev:
	default:
		r.logger.Debug("activity queue full, dropping event", "action", ev.Action)
	}
}
