package ext

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/outbox/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobAddedEntry struct {
	name string
	hook JobAdded
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobProcessedEntry struct {
	name string
	hook JobProcessed
}

type jobRetriedEntry struct {
	name string
	hook JobRetried
}

type jobsPurgedEntry struct {
	name string
	hook JobsPurged
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	mu         sync.RWMutex
	extensions []Extension
	logger     *slog.Logger

	jobAdded     []jobAddedEntry
	jobStarted   []jobStartedEntry
	jobProcessed []jobProcessedEntry
	jobRetried   []jobRetriedEntry
	jobsPurged   []jobsPurgedEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// SetLogger replaces the logger used to report hook failures.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobAdded); ok {
		r.jobAdded = append(r.jobAdded, jobAddedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobProcessed); ok {
		r.jobProcessed = append(r.jobProcessed, jobProcessedEntry{name, h})
	}
	if h, ok := e.(JobRetried); ok {
		r.jobRetried = append(r.jobRetried, jobRetriedEntry{name, h})
	}
	if h, ok := e.(JobsPurged); ok {
		r.jobsPurged = append(r.jobsPurged, jobsPurgedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Extension, len(r.extensions))
	copy(out, r.extensions)
	return out
}

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitJobAdded notifies all extensions that implement JobAdded.
func (r *Registry) EmitJobAdded(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	entries := r.jobAdded
	r.mu.RUnlock()
	for _, e := range entries {
		r.call("OnJobAdded", e.name, func() error { return e.hook.OnJobAdded(ctx, j.Clone()) })
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	entries := r.jobStarted
	r.mu.RUnlock()
	for _, e := range entries {
		r.call("OnJobStarted", e.name, func() error { return e.hook.OnJobStarted(ctx, j.Clone()) })
	}
}

// EmitJobProcessed notifies all extensions that implement JobProcessed.
func (r *Registry) EmitJobProcessed(ctx context.Context, p Processed) {
	r.mu.RLock()
	entries := r.jobProcessed
	r.mu.RUnlock()
	for _, e := range entries {
		r.call("OnJobProcessed", e.name, func() error { return e.hook.OnJobProcessed(ctx, p) })
	}
}

// EmitJobRetried notifies all extensions that implement JobRetried.
func (r *Registry) EmitJobRetried(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	entries := r.jobRetried
	r.mu.RUnlock()
	for _, e := range entries {
		r.call("OnJobRetried", e.name, func() error { return e.hook.OnJobRetried(ctx, j.Clone()) })
	}
}

// EmitJobsPurged notifies all extensions that implement JobsPurged.
func (r *Registry) EmitJobsPurged(ctx context.Context, status job.Status, count int64) {
	r.mu.RLock()
	entries := r.jobsPurged
	r.mu.RUnlock()
	for _, e := range entries {
		r.call("OnJobsPurged", e.name, func() error { return e.hook.OnJobsPurged(ctx, status, count) })
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	entries := r.shutdown
	r.mu.RUnlock()
	for _, e := range entries {
		r.call("OnShutdown", e.name, func() error { return e.hook.OnShutdown(ctx) })
	}
}

// call runs one hook. Errors and panics are logged and never propagated;
// a failing sink must not block the pipeline.
func (r *Registry) call(hook, extName string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logHookError(hook, extName, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(hook, extName, err)
	}
}

// logHookError logs a warning when a lifecycle hook fails.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
