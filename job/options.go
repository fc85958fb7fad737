package job

import "time"

// Options configures a single enqueue call.
type Options struct {
	// CorrelationID groups related jobs, e.g. by order. It carries no
	// ordering semantics.
	CorrelationID string

	// RunAt schedules the first attempt. Zero means immediately.
	RunAt time.Time

	// MaxAttempts overrides the queue's attempt cap for this job. Zero
	// means use the queue default.
	MaxAttempts int
}

// Option is a functional option for Enqueue.
type Option func(*Options)

// WithCorrelationID sets the correlation id.
func WithCorrelationID(cid string) Option {
	return func(o *Options) {
		o.CorrelationID = cid
	}
}

// WithRunAt delays the first attempt until t.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithMaxAttempts overrides the attempt cap.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}
