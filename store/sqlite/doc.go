// Package sqlite implements store.Store using the bun ORM with the SQLite
// dialect over mattn/go-sqlite3. It is the default backend for a desktop
// install: one file, no server, survives restarts.
//
// Open creates and owns the database handle:
//
//	s, err := sqlite.Open(ctx, "outbox.db")
//	defer s.Close()
//	s.Migrate(ctx)
//
// New wraps a *bun.DB the caller owns and never closes:
//
//	sqldb, _ := sql.Open("sqlite3", dsn)
//	db := bun.NewDB(sqldb, sqlitedialect.New())
//	s := sqlite.New(db)
//
// Timestamps are stored as unix nanoseconds so ordering by created_at is
// exact. Schema changes are goose migrations embedded from migrations/.
package sqlite
