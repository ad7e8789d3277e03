package store

import "context"

// Noop discards all events. Used when the activity log is disabled.
type Noop struct{}

func (Noop) LogEvent(ctx context.Context, event *Event) error { return nil }

func (Noop) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]Event, error) {
	return nil, nil
}

func (Noop) Ping(ctx context.Context) error { return nil }

func (Noop) Close() error { return nil }
