// Package store defines the aggregate persistence interface.
//
// The job table contract is [job.Store]; the composite [Store] adds the
// lifecycle methods:
//
//	type Store interface {
//	    job.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/sqlite — SQLite via bun and mattn/go-sqlite3, the default for a desktop install
//   - store/postgres — PostgreSQL backend using pgx/v5
//   - store/mongo — MongoDB backend using mongo-driver v2
//
// # Usage
//
//	s, err := sqlite.Open(ctx, "outbox.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	q, err := engine.New(s)
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
package store
