package redisnotify

import (
	"log/slog"
	"time"
)

// Option configures an Extension.
type Option func(*Extension)

// WithChannel sets the pub/sub channel. Default "outbox:events".
func WithChannel(channel string) Option {
	return func(h *Extension) {
		if channel != "" {
			h.channel = channel
		}
	}
}

// WithEvents restricts the extension to publish only the listed event
// types. By default every type is enabled. Unknown types are ignored.
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithTimeout bounds each PUBLISH call. Default 2s.
func WithTimeout(d time.Duration) Option {
	return func(h *Extension) { h.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Extension) { h.logger = l }
}

// WithClock overrides the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(h *Extension) { h.now = now }
}
