package outbox

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("outbox: no store configured")
	ErrStoreClosed     = errors.New("outbox: store closed")
	ErrMigrationFailed = errors.New("outbox: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("outbox: job not found")

	// Conflict errors.
	ErrJobAlreadyExists        = errors.New("outbox: job already exists")
	ErrDuplicateIdempotencyKey = errors.New("outbox: duplicate idempotency key")

	// State errors.
	ErrStaleState   = errors.New("outbox: job is no longer in the expected state")
	ErrNotRetryable = errors.New("outbox: only dead jobs can be retried")

	// Request errors.
	ErrInvalidQuery = errors.New("outbox: invalid job query")

	// Dispatch errors.
	ErrUnknownJobType = errors.New("outbox: unknown job type")
	ErrNoHandler      = errors.New("outbox: no handler registered for job type")
)
