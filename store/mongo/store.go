package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/store"
)

const colJobs = "outbox_jobs"

var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	owned  bool
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the clock used to stamp updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on db. The caller owns the client lifecycle; Close
// does not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		client: db.Client(),
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a store on database. Close disconnects the
// client.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("outbox/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("outbox/mongo: ping: %w", err)
	}

	s := New(client.Database(database), opts...)
	s.owned = true
	return s, nil
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the indexes the store relies on.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.jobs().Indexes().CreateMany(ctx, migrationIndexes())
	if err != nil {
		return fmt.Errorf("%w: mongo: %w", outbox.ErrMigrationFailed, err)
	}
	s.logger.Info("mongo indexes ensured", "collection", colJobs)
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client when the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// duplicateKey reports a duplicate key violation and whether it was raised
// by the idempotency key index.
func duplicateKey(err error) (onIdempotencyKey, ok bool) {
	if err == nil {
		return false, false
	}
	msg := err.Error()
	if !mongod.IsDuplicateKeyError(err) && !strings.Contains(msg, "E11000") {
		return false, false
	}
	return strings.Contains(msg, "idempotency_key"), true
}

// migrationIndexes returns the index definitions for outbox_jobs.
func migrationIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idempotency_key_unique"),
		},
		// Due scan: status + next_run_at.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "next_run_at", Value: 1},
		}},
		{Keys: bson.D{{Key: "correlation_id", Value: 1}}},
		// Oldest-first listing.
		{Keys: bson.D{
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		}},
	}
}
