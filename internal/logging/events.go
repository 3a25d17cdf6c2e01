package logging

import (
	"context"
	"log/slog"

	"github.com/Paintersrp/devsup/internal/engine"
)

// LogEvent writes a single engine event to logger. Child output lines keep
// their text as the record message; lifecycle events carry their type and
// reason as attributes.
func LogEvent(ctx context.Context, logger *slog.Logger, evt engine.Event) {
	if logger == nil {
		return
	}
	level := ParseLevel(evt.Level)
	if !logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 6)
	if evt.Service != "" {
		attrs = append(attrs, slog.String("service", evt.Service))
	}
	if evt.Type == engine.EventTypeLog {
		attrs = append(attrs, slog.String("stream", evt.Source))
	} else {
		attrs = append(attrs, slog.String("event", string(evt.Type)))
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if evt.Cause != engine.CauseNone {
			attrs = append(attrs, slog.String("cause", evt.Cause.String()))
		}
		if evt.Type == engine.EventTypeStopped {
			attrs = append(attrs, slog.Duration("elapsed", evt.Elapsed))
		}
	}
	if evt.Err != nil {
		attrs = append(attrs, slog.String("error", RedactSecrets(evt.Err.Error())))
	}

	message := RedactSecrets(evt.Message)
	if message == "" {
		message = string(evt.Type)
	}
	logger.LogAttrs(ctx, level, message, attrs...)
}

// Consume logs every event from events until the channel is closed. observe,
// when non-nil, sees each event after it is logged.
func Consume(ctx context.Context, logger *slog.Logger, events <-chan engine.Event, observe func(engine.Event)) {
	for evt := range events {
		LogEvent(ctx, logger, evt)
		if observe != nil {
			observe(evt)
		}
	}
}
