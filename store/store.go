// Package store defines the aggregate persistence interface. The job
// contract lives in package job; Store adds the lifecycle every backend
// shares. Backends: SQLite, Postgres, MongoDB and Memory.
package store

import (
	"context"

	"github.com/xraph/outbox/job"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
