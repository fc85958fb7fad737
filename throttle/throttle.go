package throttle

import (
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/outbox/job"
)

// Config defines per-type limits.
type Config struct {
	// Type is the job type the limits apply to.
	Type job.Type

	// MaxConcurrency limits how many jobs of this type may run at once.
	// Zero means no type-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int
}

// FromRates builds one Config per entry of a type → jobs/second map, as
// parsed from OUTBOX_THROTTLE. Entries with a non-positive rate are
// skipped.
func FromRates(rates map[string]float64) []Config {
	configs := make([]Config, 0, len(rates))
	for t, r := range rates {
		if r <= 0 {
			continue
		}
		configs = append(configs, Config{Type: job.Type(t), RateLimit: r})
	}
	sort.Slice(configs, func(i, k int) bool { return configs[i].Type < configs[k].Type })
	return configs
}

type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Manager enforces per-type limits. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[job.Type]*typeState
}

// NewManager creates a Manager with the given configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{types: make(map[job.Type]*typeState, len(configs))}
	for _, cfg := range configs {
		m.types[cfg.Type] = newTypeState(cfg)
	}
	return m
}

// Acquire reports whether a job of type t may start now. On true the
// caller MUST call Release when the job finishes or was not started.
func (m *Manager) Acquire(t job.Type) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[t]
	if ts == nil {
		return true
	}
	// Concurrency first so a denied job does not burn a token.
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	ts.active++
	return true
}

// Release returns a slot taken by Acquire.
func (m *Manager) Release(t job.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[t]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// Set replaces (or adds) the limits for cfg.Type, keeping the active count.
func (m *Manager) Set(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := newTypeState(cfg)
	if existing := m.types[cfg.Type]; existing != nil {
		ts.active = existing.active
	}
	m.types[cfg.Type] = ts
}

// ActiveCount returns the number of running jobs of type t.
func (m *Manager) ActiveCount(t job.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[t]; ts != nil {
		return ts.active
	}
	return 0
}
