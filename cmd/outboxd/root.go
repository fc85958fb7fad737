package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/store"
	"github.com/xraph/outbox/store/memory"
	"github.com/xraph/outbox/store/mongo"
	"github.com/xraph/outbox/store/postgres"
	"github.com/xraph/outbox/store/sqlite"
)

// globals are the persistent flags shared by every subcommand. Set flags
// override the environment.
type globals struct {
	store    string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "outboxd",
		Short: "Durable offline-first job outbox",
		Long: `
Durable offline-first job outbox.

Side effects (fulfillments, labels, inventory changes, audit events) are
recorded as jobs and executed with retries until they succeed or are
declared dead.

Configuration is read from the environment, optionally from a .env file:

  OUTBOX_STORE              sqlite | postgres | mongo | memory
  OUTBOX_SQLITE_PATH        SQLite database file
  OUTBOX_POSTGRES_URL       PostgreSQL connection string
  OUTBOX_MONGO_URI          MongoDB connection string
  OUTBOX_MONGO_DATABASE     MongoDB database name
  OUTBOX_CONCURRENCY        jobs executing at once (2)
  OUTBOX_POLL_INTERVAL      dispatcher tick (5s)
  OUTBOX_MAX_ATTEMPTS       attempts before a job is dead (7)
  OUTBOX_HTTP_ADDR          operator API listen address (127.0.0.1:7420)
  OUTBOX_REDIS_URL          publish lifecycle events to Redis when set
  OUTBOX_COMMERCE_URL       commerce API base URL
  OUTBOX_LABELS_URL         label provider API base URL
  OUTBOX_LOG_LEVEL          debug | info | warn | error
  OUTBOX_LOG_FORMAT         text | json
`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.store, "store", "", "store backend, overrides OUTBOX_STORE")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level, overrides OUTBOX_LOG_LEVEL")

	root.AddCommand(
		newServeCmd(g),
		newMigrateCmd(g),
		newStatsCmd(g),
		newJobsCmd(g),
		newRetryCmd(g),
		newPurgeDeadCmd(g),
	)
	return root
}

// load reads the configuration and applies flag overrides.
func (g *globals) load() (outbox.Config, error) {
	cfg, err := outbox.LoadConfig()
	if err != nil {
		return cfg, err
	}
	if g.store != "" {
		cfg.Store = g.store
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg outbox.Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", outbox.ErrInvalidConfig, cfg.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", outbox.ErrInvalidConfig, cfg.LogFormat)
	}
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg outbox.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithLogger(logger))
	case "postgres":
		st, err := postgres.New(ctx, cfg.PostgresURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case "mongo":
		return mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, mongo.WithLogger(logger))
	case "memory":
		logger.Warn("using the memory store; jobs are lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("%w: unknown store %q", outbox.ErrInvalidConfig, cfg.Store)
}

// session is what every subcommand starts from: configuration, a logger
// and an open, migrated store.
type session struct {
	cfg    outbox.Config
	logger *slog.Logger
	store  store.Store
}

func (g *globals) open(ctx context.Context) (*session, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, store: st}, nil
}

func (s *session) Close() error { return s.store.Close() }
