package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes sync events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter. A nil logger uses slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.Collection != "" {
		attrs = append(attrs, slog.String("collection", event.Collection))
	}
	if event.EntityType != "" {
		attrs = append(attrs, slog.String("entity", event.EntityType))
	}

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("state_entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Notification != nil:
		attrs = append(attrs,
			slog.String("op", event.Notification.Op),
			slog.String("key", event.Notification.Key),
			slog.Int("subscribers", event.Notification.Subscribers),
		)
	case event.Fetch != nil:
		attrs = append(attrs,
			slog.String("source", event.Fetch.Source.String()),
			slog.Uint64("seq", event.Fetch.Seq),
			slog.Int("rows", event.Fetch.Rows),
		)
		if event.Fetch.Dropped > 0 {
			attrs = append(attrs, slog.Int("dropped", event.Fetch.Dropped))
		}
		if event.Fetch.Duration > 0 {
			attrs = append(attrs, slog.Duration("duration", event.Fetch.Duration))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
		if event.Error.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", event.Error.Attempt))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "sync", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
