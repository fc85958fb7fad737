package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds configuration for the outbox process.
//
// Every field can be set through the environment; LoadConfig reads an
// optional .env file first.
type Config struct {
	// Concurrency is the maximum number of jobs running at once.
	Concurrency int `env:"OUTBOX_CONCURRENCY" envDefault:"2"`

	// PollInterval is how often the dispatcher looks for due jobs.
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`

	// JobTimeout bounds a single handler invocation.
	JobTimeout time.Duration `env:"OUTBOX_JOB_TIMEOUT" envDefault:"30s"`

	// ShutdownTimeout is the maximum time to wait for in-flight jobs.
	ShutdownTimeout time.Duration `env:"OUTBOX_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// MaxAttempts is copied onto every new job as its attempt cap.
	MaxAttempts int `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"7"`

	// BackoffJitter is the proportional jitter applied to backoff delays.
	BackoffJitter float64 `env:"OUTBOX_BACKOFF_JITTER" envDefault:"0.1"`

	// RecoverOnStart requeues jobs left running by a crashed process.
	RecoverOnStart bool `env:"OUTBOX_RECOVER_ON_START" envDefault:"true"`

	// Throttle maps a job type to the maximum starts per second,
	// e.g. "create_label:2,void_label:2".
	Throttle map[string]float64 `env:"OUTBOX_THROTTLE"`

	// Store selects the backend: sqlite, postgres, mongo or memory.
	Store         string `env:"OUTBOX_STORE" envDefault:"sqlite"`
	SQLitePath    string `env:"OUTBOX_SQLITE_PATH" envDefault:"outbox.db"`
	PostgresURL   string `env:"OUTBOX_POSTGRES_URL"`
	MongoURI      string `env:"OUTBOX_MONGO_URI"`
	MongoDatabase string `env:"OUTBOX_MONGO_DATABASE" envDefault:"outbox"`

	// RedisURL enables the Redis pub/sub notification sink when set.
	RedisURL     string `env:"OUTBOX_REDIS_URL"`
	RedisChannel string `env:"OUTBOX_REDIS_CHANNEL" envDefault:"outbox:events"`

	// HTTPAddr is the listen address of the operator API.
	HTTPAddr string `env:"OUTBOX_HTTP_ADDR" envDefault:"127.0.0.1:7420"`

	CommerceURL   string `env:"OUTBOX_COMMERCE_URL"`
	CommerceToken string `env:"OUTBOX_COMMERCE_TOKEN"`
	LabelsURL     string `env:"OUTBOX_LABELS_URL"`
	LabelsToken   string `env:"OUTBOX_LABELS_TOKEN"`

	LogLevel  string `env:"OUTBOX_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"OUTBOX_LOG_FORMAT" envDefault:"text"`
}

// DefaultConfig returns a Config with the same values LoadConfig uses
// for unset variables.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		PollInterval:    5 * time.Second,
		JobTimeout:      30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxAttempts:     7,
		BackoffJitter:   0.1,
		RecoverOnStart:  true,
		Store:           "sqlite",
		SQLitePath:      "outbox.db",
		MongoDatabase:   "outbox",
		RedisChannel:    "outbox:events",
		HTTPAddr:        "127.0.0.1:7420",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadConfig loads an optional .env file from the working directory and
// parses the process environment into a Config.
func LoadConfig() (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// LoadConfigFrom parses environ instead of the process environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// ErrInvalidConfig is returned when the configuration cannot be parsed
// or fails validation.
var ErrInvalidConfig = errors.New("outbox: invalid config")

// Validate checks that the numeric settings are usable.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		errs = append(errs, fmt.Errorf("backoff jitter must be in [0, 1), got %g", c.BackoffJitter))
	}
	for typ, rps := range c.Throttle {
		if rps <= 0 {
			errs = append(errs, fmt.Errorf("throttle for %q must be positive, got %g", typ, rps))
		}
	}
	switch c.Store {
	case "sqlite", "postgres", "mongo", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}
